package models

import "strings"

// Category is a material class the detector can report
type Category string

const (
	CategoryPlastic     Category = "plastic"
	CategoryPaper       Category = "paper"
	CategoryGlass       Category = "glass"
	CategoryMetal       Category = "metal"
	CategoryElectronics Category = "electronics"
	CategoryCompost     Category = "compost"
	CategoryUnknown     Category = "unknown"
)

// Categories lists every known category, unknown last
var Categories = []Category{
	CategoryPlastic,
	CategoryPaper,
	CategoryGlass,
	CategoryMetal,
	CategoryElectronics,
	CategoryCompost,
	CategoryUnknown,
}

// ParseCategory maps a label to a Category. Unrecognised labels are unknown.
func ParseCategory(label string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(label)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryUnknown
}

// Labels maps model class indices to categories
type Labels []Category

// ParseLabels converts configured label names into a class index table
func ParseLabels(names []string) Labels {
	labels := make(Labels, len(names))
	for i, n := range names {
		labels[i] = ParseCategory(n)
	}
	return labels
}

// At returns the category for a class index, unknown when out of range
func (l Labels) At(class int) Category {
	if class < 0 || class >= len(l) {
		return CategoryUnknown
	}
	return l[class]
}
