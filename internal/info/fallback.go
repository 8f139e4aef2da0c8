package info

import (
	"github.com/connergroth/EcoVision/internal/models"
)

type fallbackEntry struct {
	recyclable  bool
	description string
	disposal    string
	impact      string
}

var fallbackTable = map[models.Category]fallbackEntry{
	models.CategoryPlastic: {
		recyclable:  true,
		description: "Plastic items like bottles, containers, and packaging.",
		disposal:    "Rinse clean and place in recycling bin. Check local guidelines for plastic types accepted.",
		impact:      "Recycling plastic reduces landfill waste and saves energy compared to making new plastic.",
	},
	models.CategoryPaper: {
		recyclable:  true,
		description: "Paper products including cardboard, newspaper, and office paper.",
		disposal:    "Keep dry and clean. Remove tape, staples, and excessive contamination.",
		impact:      "Recycling paper saves trees, water, and energy while reducing greenhouse gas emissions.",
	},
	models.CategoryGlass: {
		recyclable:  true,
		description: "Glass bottles and jars of various colors.",
		disposal:    "Rinse clean and separate by color if required locally. Remove caps and lids.",
		impact:      "Glass can be recycled indefinitely without loss of quality, saving raw materials and energy.",
	},
	models.CategoryMetal: {
		recyclable:  true,
		description: "Metal items including aluminum cans, steel cans, and foil.",
		disposal:    "Rinse clean and crush cans to save space if possible.",
		impact:      "Recycling metals saves significant energy compared to mining and refining new metal.",
	},
	models.CategoryElectronics: {
		recyclable:  true,
		description: "Electronic devices, batteries, and accessories.",
		disposal:    "Take to designated e-waste recycling centers. Do not place in regular recycling bins.",
		impact:      "Proper recycling of electronics recovers valuable materials and prevents toxic components from entering landfills.",
	},
	models.CategoryCompost: {
		recyclable:  true,
		description: "Organic waste suitable for composting.",
		disposal:    "Place in composting bin or dedicated green waste collection.",
		impact:      "Composting diverts waste from landfills and creates nutrient-rich soil amendments.",
	},
	models.CategoryUnknown: {
		recyclable:  false,
		description: "Item of unknown or mixed materials.",
		disposal:    "Check local guidelines or contact waste management for proper disposal.",
		impact:      "Proper sorting and disposal helps maximize recycling efficiency.",
	},
}

// Fallback returns the static guidance for a category. It always succeeds;
// categories outside the table get the unknown entry.
func Fallback(category models.Category) *models.RecyclingInfo {
	entry, ok := fallbackTable[category]
	if !ok {
		entry = fallbackTable[models.CategoryUnknown]
	}
	return &models.RecyclingInfo{
		Category:             category,
		Recyclable:           entry.recyclable,
		Description:          entry.description,
		DisposalInstructions: entry.disposal,
		EnvironmentalImpact:  entry.impact,
		AdditionalInfo: map[string]interface{}{
			"source":      "fallback",
			"reliability": "medium",
		},
		Source: models.SourceFallback,
	}
}

// FallbackTips returns general recycling tips used when the external API
// cannot be reached
func FallbackTips() map[string]interface{} {
	return map[string]interface{}{
		"general_tips": []string{
			"Rinse containers before recycling to remove food residue",
			"Remove caps and lids as they may be made of different materials",
			"Flatten cardboard boxes to save space",
			"Check local guidelines as recycling rules vary by location",
			"Avoid putting non-recyclable items in recycling bins",
		},
		"common_mistakes": []string{
			"Recycling greasy or food-stained paper and cardboard",
			"Including plastic bags with regular recycling",
			"Not emptying and rinsing containers",
			"Recycling items smaller than a credit card (too small for processing)",
			"Including materials that require special handling (e-waste, batteries)",
		},
		"environmental_facts": []string{
			"Recycling one aluminum can saves enough energy to run a TV for three hours",
			"The average American produces about 4.5 pounds of waste per day",
			"It takes 500 years for an average plastic water bottle to decompose",
			"Recycling paper saves 17 trees and 7,000 gallons of water per ton",
			"Glass can be recycled indefinitely without losing quality or purity",
		},
	}
}
