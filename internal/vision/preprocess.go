package vision

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// Tensor is a dense float32 array with its shape
type Tensor struct {
	Shape []int
	Data  []float32
}

// Frame is a preprocessed image ready for inference, with the original
// dimensions needed to map boxes back
type Frame struct {
	Tensor Tensor
	Width  int
	Height int
	Size   int
}

// Preprocess decodes image bytes, resizes to size x size and lays the pixels
// out as a [1,3,size,size] tensor scaled to [0,1]
func Preprocess(data []byte, size int) (*Frame, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Op: "preprocess", Reason: "empty image"}
	}
	if size <= 0 {
		return nil, &DecodeError{Op: "preprocess", Reason: "invalid input size"}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Op: "preprocess", Reason: "undecodable image", Err: err}
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, &DecodeError{Op: "preprocess", Reason: "image has no pixels"}
	}

	resized := imaging.Resize(img, size, size, imaging.Linear)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4:]
			i := y*size + x
			out[i] = float32(px[0]) / 255
			out[plane+i] = float32(px[1]) / 255
			out[2*plane+i] = float32(px[2]) / 255
		}
	}

	return &Frame{
		Tensor: Tensor{Shape: []int{1, 3, size, size}, Data: out},
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Size:   size,
	}, nil
}
