package domain

import (
	"strings"

	"github.com/google/uuid"
)

// TemplateRow is one item a template expands into, e.g. "ace of spades" in a
// deck template.
type TemplateRow struct {
	Position int    `json:"position"`
	Fill     string `json:"fill"`
}

// Template is a reusable batch specification: the row set, the prompt
// construction rule and the generation parameters shared by every job the
// template expands into.
type Template struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	BasePrompt     string          `json:"base_prompt"`
	StyleSuffix    string          `json:"style_suffix"`
	NegativePrompt string          `json:"negative_prompt,omitempty"`
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	Steps          int             `json:"steps"`
	Guidance       float64         `json:"guidance"`
	Adapters       []AdapterWeight `json:"adapters,omitempty"`
	Rows           []TemplateRow   `json:"rows"`
}

// BuildPrompt assembles the prompt for one row. The order is a fixed
// contract: base prompt, then user theme, then row fill, then style suffix.
// Front-loaded terms dominate generation weighting, so callers must not
// reorder the parts.
func (t *Template) BuildPrompt(userTheme string, row TemplateRow) string {
	parts := make([]string, 0, 4)
	for _, part := range []string{t.BasePrompt, userTheme, row.Fill, t.StyleSuffix} {
		if collapsed := strings.Join(strings.Fields(part), " "); collapsed != "" {
			parts = append(parts, collapsed)
		}
	}
	return strings.Join(parts, " ")
}

// Params builds the shared generation parameters for one row of the
// template, with defaults applied.
func (t *Template) Params(userTheme string, row TemplateRow) GenerationParams {
	params := GenerationParams{
		Prompt:         t.BuildPrompt(userTheme, row),
		NegativePrompt: t.NegativePrompt,
		Steps:          t.Steps,
		Width:          t.Width,
		Height:         t.Height,
		Guidance:       t.Guidance,
		Adapters:       append([]AdapterWeight(nil), t.Adapters...),
	}
	params.ApplyDefaults()
	return params
}
