package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"plastic", CategoryPlastic},
		{" Glass ", CategoryGlass},
		{"ELECTRONICS", CategoryElectronics},
		{"styrofoam", CategoryUnknown},
		{"", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCategory(tt.in))
		})
	}
}

func TestLabels_At(t *testing.T) {
	labels := ParseLabels([]string{"paper", "metal", "banana"})

	assert.Equal(t, CategoryPaper, labels.At(0))
	assert.Equal(t, CategoryMetal, labels.At(1))
	assert.Equal(t, CategoryUnknown, labels.At(2))
	assert.Equal(t, CategoryUnknown, labels.At(3))
	assert.Equal(t, CategoryUnknown, labels.At(-1))
}
