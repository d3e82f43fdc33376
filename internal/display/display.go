package display

import (
	"strings"
)

// DefaultColor is used for categories the palette does not know.
const DefaultColor = "#3498db"

// Palette maps a category (case-insensitive) to a display color.
type Palette struct {
	colors   map[string]string
	fallback string
}

// DefaultStageColors is the stage -> color table of the multi-class variant.
func DefaultStageColors() map[string]string {
	return map[string]string{
		"no disease":      "#27ae60",
		"suspect disease": "#f1c40f",
		"hepatitis":       "#e67e22",
		"fibrosis":        "#d35400",
		"cirrhosis":       "#c0392b",
	}
}

// NewPalette builds a palette; keys are normalized to lower case.
// An empty fallback selects DefaultColor.
func NewPalette(colors map[string]string, fallback string) *Palette {
	p := &Palette{
		colors:   make(map[string]string, len(colors)),
		fallback: strings.TrimSpace(fallback),
	}
	if p.fallback == "" {
		p.fallback = DefaultColor
	}
	for k, v := range colors {
		p.colors[normalize(k)] = strings.TrimSpace(v)
	}
	return p
}

// Color returns the color for category and whether it was a known category.
func (p *Palette) Color(category string) (string, bool) {
	if p == nil {
		return DefaultColor, false
	}
	if c, ok := p.colors[normalize(category)]; ok {
		return c, true
	}
	return p.fallback, false
}

// Known reports whether the palette has an entry for category.
func (p *Palette) Known(category string) bool {
	_, ok := p.Color(category)
	return ok
}

// StageMessage renders the headline shown for a multi-class prediction.
func StageMessage(label string) string {
	return "Predicted Stage: " + strings.ToUpper(strings.TrimSpace(label))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
