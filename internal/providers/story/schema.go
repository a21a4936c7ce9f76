package story

import "google.golang.org/genai"

// Schema is the JSON response schema requested from the model.
func Schema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":           str(""),
			"story_year":      str(""),
			"location":        str(""),
			"archetype":       str(""),
			"divergence_mode": str(""),
			"pages": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"page_number":     {Type: genai.TypeInteger},
						"scene_role":      str("One of setup, reveal, conflict, shift, ending."),
						"scene_summary":   str(""),
						"text":            str(""),
						"word_count_page": {Type: genai.TypeInteger},
						"image_prompt":    str("Visual description of one comic panel for an illustrator. No text."),
					},
					Required: []string{"page_number", "scene_role", "text", "image_prompt"},
				},
			},
		},
		Required: []string{"title", "pages"},
	}
}
