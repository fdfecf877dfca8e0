// Package prompts centralizes every prompt sent to the generation backend so
// wording changes never require touching pipeline code.
package prompts

import (
	"fmt"
	"strings"

	"bookfactory/internal/domain"
)

// SystemInstructions is the system prompt shared by all generation calls.
const SystemInstructions = `You are an expert technical writer and educator. You produce clear, accurate, well-structured educational material. When asked for JSON you respond with JSON only, no commentary and no markdown fences.`

// Outline builds the prompt requesting a structured book outline.
// Parameters:
//   - topic: subject of the book.
//   - maxChapters: upper bound on the number of chapters.
// Returns:
//   - string: complete prompt text.
func Outline(topic string, maxChapters int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a detailed outline for an educational book about %q.\n\n", topic)
	fmt.Fprintf(&b, "The book must have at most %d chapters.\n\n", maxChapters)
	b.WriteString(`Respond with a single JSON object using exactly this structure:
{
  "title": "book title",
  "description": "one-paragraph description of the book",
  "prerequisites": ["prerequisite 1", "prerequisite 2"],
  "chapters": [
    {
      "number": 1,
      "title": "chapter title",
      "learning_objectives": ["objective 1", "objective 2"],
      "sections": [
        {"title": "section title", "key_points": ["point 1", "point 2"]}
      ]
    }
  ],
  "glossary": [
    {"term": "term", "definition": "definition"}
  ],
  "suggested_reading": ["reference 1", "reference 2"]
}

Respond with the JSON object only.`)
	return b.String()
}

// Chapter builds the prompt for writing one chapter body in markdown.
// Parameters:
//   - topic: subject of the book.
//   - outline: the full book outline for context.
//   - chapter: the chapter to write.
//   - recentSummaries: summaries of the preceding chapters, oldest first.
// Returns:
//   - string: complete prompt text.
func Chapter(topic string, outline *domain.Outline, chapter domain.Chapter, recentSummaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing chapter %d of the book %q, an educational book about %q.\n\n",
		chapter.Number, outline.Title, topic)

	fmt.Fprintf(&b, "Chapter title: %s\n\n", chapter.Title)

	if len(chapter.LearningObjectives) > 0 {
		b.WriteString("Learning objectives:\n")
		for _, obj := range chapter.LearningObjectives {
			fmt.Fprintf(&b, "- %s\n", obj)
		}
		b.WriteString("\n")
	}

	if len(chapter.Sections) > 0 {
		b.WriteString("Planned sections:\n")
		for _, sec := range chapter.Sections {
			fmt.Fprintf(&b, "- %s", sec.Title)
			if len(sec.KeyPoints) > 0 {
				fmt.Fprintf(&b, " (key points: %s)", strings.Join(sec.KeyPoints, "; "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(recentSummaries) > 0 {
		b.WriteString("Summaries of the preceding chapters, for continuity:\n")
		for _, s := range recentSummaries {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `Write the full chapter in markdown. Requirements:
- Start with the heading "## Chapter %d: %s".
- Cover every planned section with "###" subheadings.
- Include a short worked example or case study.
- End with "### Key Takeaways" (bullet list), "### Summary" (one paragraph), and "### Glossary Recap" (terms introduced in this chapter).
- Do not repeat material already covered in preceding chapters.
- Write prose, not an outline. Aim for depth over breadth.`, chapter.Number, chapter.Title)
	return b.String()
}

// RecommendTopics builds the prompt asking for new topic suggestions based on
// what has been generated recently.
// Parameters:
//   - summaries: recent jobs, newest first.
//   - limit: maximum number of suggestions to request.
// Returns:
//   - string: complete prompt text.
func RecommendTopics(summaries []domain.JobSummary, limit int) string {
	var b strings.Builder
	b.WriteString("Here are the topics of recently generated educational books:\n\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s (%s)\n", s.Topic, s.Status)
	}
	fmt.Fprintf(&b, `
Suggest up to %d new book topics that a reader of the above would likely want next. Prefer adjacent and deepening topics over repeats.

Respond with a JSON array of topic strings only, for example:
["topic one", "topic two"]`, limit)
	return b.String()
}
