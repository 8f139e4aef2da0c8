package info

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/connergroth/EcoVision/internal/models"
)

const promptTemplate = `
You are an expert on recycling and environmental sustainability.
A recycling detection system has identified an item as %s with %.1f%% confidence.

Provide detailed information about this recyclable category in the following format:
1. Description of the material (what it is and common items made from it)
2. Whether it's generally recyclable and any specific conditions
3. Proper disposal instructions and how to prepare it for recycling
4. Environmental impact of recycling this material vs. sending to landfill
5. Interesting facts about recycling this material

Your response should be informative, accurate, and encourage proper recycling practices.
`

// BuildPrompt renders the generation prompt for a detection
func BuildPrompt(category models.Category, confidence float64) string {
	return fmt.Sprintf(promptTemplate, strings.ToUpper(string(category)), confidence*100)
}

// section headings: number plus a keyword, so numbered list items inside a
// section are not mistaken for a new section
var sectionKeywords = map[int][]string{
	1: {"description", "material"},
	2: {"recyclable", "recyclability"},
	3: {"disposal", "instructions", "prepare"},
	4: {"environmental", "impact"},
	5: {"facts", "fact"},
}

var headingPattern = regexp.MustCompile(`^\W*([1-5])[.)]\s*(.*)$`)

// sectionOf returns the section a heading line opens and any content that
// follows the heading on the same line
func sectionOf(line string) (int, string, bool) {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	n := int(m[1][0] - '0')
	rest := m[2]

	heading := rest
	if i := strings.Index(rest, ":"); i >= 0 {
		heading = rest[:i]
	}
	lower := strings.ToLower(heading)
	for _, kw := range sectionKeywords[n] {
		if strings.Contains(lower, kw) {
			content := ""
			if i := strings.Index(rest, ":"); i >= 0 {
				content = strings.TrimSpace(strings.Trim(rest[i+1:], "* "))
			}
			return n, content, true
		}
	}
	return 0, "", false
}

// ParseGeneration extracts structured recycling information from generated
// text. Missing sections fall back to non-empty defaults.
func ParseGeneration(text string, category models.Category) *models.RecyclingInfo {
	var description, recyclability, disposal, impact []string
	facts := []string{}
	recyclable := true
	section := 0

	add := func(line string) {
		if line == "" {
			return
		}
		switch section {
		case 1:
			description = append(description, line)
		case 2:
			lower := strings.ToLower(line)
			if strings.Contains(lower, "not recyclable") || strings.Contains(lower, "non-recyclable") {
				recyclable = false
			}
			recyclability = append(recyclability, line)
		case 3:
			disposal = append(disposal, line)
		case 4:
			impact = append(impact, line)
		case 5:
			for _, prefix := range []string{"- ", "* ", "• "} {
				line = strings.TrimPrefix(line, prefix)
			}
			facts = append(facts, line)
		}
	}

	var untagged []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if n, rest, ok := sectionOf(line); ok {
			section = n
			add(rest)
			continue
		}
		if section == 0 {
			untagged = append(untagged, line)
			continue
		}
		add(line)
	}

	name := string(category)
	info := &models.RecyclingInfo{
		Category:             category,
		Recyclable:           recyclable,
		Description:          strings.Join(description, " "),
		DisposalInstructions: strings.Join(disposal, " "),
		EnvironmentalImpact:  strings.Join(impact, " "),
		AdditionalInfo: map[string]interface{}{
			"interesting_facts": facts,
			"source":            "LLaMA AI",
		},
		Source: models.SourceGenerated,
	}
	if len(recyclability) > 0 {
		info.AdditionalInfo["recyclability"] = strings.Join(recyclability, " ")
	}

	if info.Description == "" {
		info.Description = strings.Join(untagged, " ")
	}
	if info.Description == "" {
		info.Description = fmt.Sprintf("Items identified as %s.", name)
	}
	if info.DisposalInstructions == "" {
		info.DisposalInstructions = fmt.Sprintf("Check local guidelines for disposing of %s items.", name)
	}
	if info.EnvironmentalImpact == "" {
		info.EnvironmentalImpact = fmt.Sprintf("Disposing of %s correctly keeps recoverable material out of landfill.", name)
	}
	return info
}
