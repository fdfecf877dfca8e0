package domain

// Outline is the structured plan for a book, produced by the generation
// backend before any chapter is written.
type Outline struct {
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Prerequisites    []string       `json:"prerequisites"`
	Chapters         []Chapter      `json:"chapters"`
	Glossary         []GlossaryItem `json:"glossary"`
	SuggestedReading []string       `json:"suggested_reading"`
}

// Chapter is one planned chapter within an outline.
type Chapter struct {
	Number             int       `json:"number"`
	Title              string    `json:"title"`
	LearningObjectives []string  `json:"learning_objectives"`
	Sections           []Section `json:"sections"`
}

// Section is a planned section within a chapter.
type Section struct {
	Title     string   `json:"title"`
	KeyPoints []string `json:"key_points"`
}

// GlossaryItem is one term/definition pair in the book glossary.
type GlossaryItem struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}
