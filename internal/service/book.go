package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bookfactory/internal/domain"
	"bookfactory/internal/logger"
	"bookfactory/internal/prompts"
)

const (
	// Rolling continuity window supplied to each chapter prompt.
	summaryWindow    = 5
	summaryMaxLength = 400

	manuscriptFallbackName = "book"
	manuscriptNameMaxLen   = 120
)

// runBook drives the full book pipeline: outline, chapters in sequence, final
// manuscript assembly. Each chapter is written to disk before the next one
// starts so partial progress survives a crash. Cancellation is observed
// before and after every generation call.
func (e *StageExecutor) runBook(ctx context.Context, job *domain.Job) (string, error) {
	if err := e.checkpoint(ctx, job.ID); err != nil {
		return "", err
	}
	if err := e.setProgress(ctx, job.ID, "starting", 0.02); err != nil {
		return "", err
	}

	jobDir := filepath.Join(e.dataDir, job.ID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}

	if err := e.setProgress(ctx, job.ID, "outline", 0.05); err != nil {
		return "", err
	}
	outline, err := e.generateOutline(ctx, job)
	if err != nil {
		return "", err
	}

	outlineJSON, err := json.MarshalIndent(outline, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize outline: %w", err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "outline.json"), outlineJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to write outline: %w", err)
	}
	if err := e.appendEvent(ctx, job.ID, domain.EventLevelInfo,
		fmt.Sprintf("outline ready: %d chapters", len(outline.Chapters))); err != nil {
		return "", err
	}

	if err := e.checkpoint(ctx, job.ID); err != nil {
		return "", err
	}

	total := len(outline.Chapters)
	bodies := make([]string, 0, total)
	var summaries []string
	for i, chapter := range outline.Chapters {
		if err := e.checkpoint(ctx, job.ID); err != nil {
			return "", err
		}

		stage := fmt.Sprintf("chapter %d/%d", i+1, total)
		progress := 0.10 + 0.85*float64(i)/float64(total)
		if err := e.setProgress(ctx, job.ID, stage, progress); err != nil {
			return "", err
		}
		logger.CtxInfo(ctx, "generating %s", stage)

		prompt := prompts.Chapter(job.Topic, outline, chapter, summaries)
		body, err := e.generator.Generate(ctx, job.Model, prompt, prompts.SystemInstructions)
		if err != nil {
			return "", err
		}
		body = strings.TrimSpace(body)
		if body == "" {
			return "", fmt.Errorf("chapter %d: %w", i+1, domain.ErrMalformedOutput)
		}

		chapterPath := filepath.Join(jobDir, fmt.Sprintf("chapter-%02d.md", i+1))
		if err := os.WriteFile(chapterPath, []byte(body+"\n"), 0644); err != nil {
			return "", fmt.Errorf("failed to write chapter %d: %w", i+1, err)
		}
		bodies = append(bodies, body)

		summaries = append(summaries, summarize(body))
		if len(summaries) > summaryWindow {
			summaries = summaries[len(summaries)-summaryWindow:]
		}

		if err := e.checkpoint(ctx, job.ID); err != nil {
			return "", err
		}
	}

	if err := e.setProgress(ctx, job.ID, "assembling", 0.97); err != nil {
		return "", err
	}
	manuscript := assembleManuscript(outline, bodies)
	outputPath := filepath.Join(jobDir, safeFilename(outline.Title)+".md")
	if err := os.WriteFile(outputPath, []byte(manuscript), 0644); err != nil {
		return "", fmt.Errorf("failed to write manuscript: %w", err)
	}
	return outputPath, nil
}

// generateOutline asks the backend for a structured outline and bounds the
// chapter count to the configured maximum.
func (e *StageExecutor) generateOutline(ctx context.Context, job *domain.Job) (*domain.Outline, error) {
	prompt := prompts.Outline(job.Topic, e.maxChapters)
	text, err := e.generator.Generate(ctx, job.Model, prompt, prompts.SystemInstructions)
	if err != nil {
		return nil, err
	}

	raw, ok := extractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("outline: %w", domain.ErrMalformedOutput)
	}
	var outline domain.Outline
	if err := json.Unmarshal([]byte(raw), &outline); err != nil {
		return nil, fmt.Errorf("outline: %w: %v", domain.ErrMalformedOutput, err)
	}
	if len(outline.Chapters) == 0 {
		return nil, fmt.Errorf("outline has no chapters: %w", domain.ErrMalformedOutput)
	}
	if len(outline.Chapters) > e.maxChapters {
		outline.Chapters = outline.Chapters[:e.maxChapters]
	}
	if strings.TrimSpace(outline.Title) == "" {
		outline.Title = job.Topic
	}
	for i := range outline.Chapters {
		outline.Chapters[i].Number = i + 1
	}
	return &outline, nil
}

// assembleManuscript concatenates the outline front matter, chapter bodies,
// glossary, and suggested reading into one markdown document.
func assembleManuscript(outline *domain.Outline, bodies []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", outline.Title)
	if outline.Description != "" {
		b.WriteString(outline.Description + "\n\n")
	}

	if len(outline.Prerequisites) > 0 {
		b.WriteString("## Prerequisites\n\n")
		for _, p := range outline.Prerequisites {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}

	for _, body := range bodies {
		b.WriteString(body)
		b.WriteString("\n\n")
	}

	if len(outline.Glossary) > 0 {
		b.WriteString("## Glossary\n\n")
		for _, item := range outline.Glossary {
			fmt.Fprintf(&b, "- **%s**: %s\n", item.Term, item.Definition)
		}
		b.WriteString("\n")
	}

	if len(outline.SuggestedReading) > 0 {
		b.WriteString("## Suggested Reading\n\n")
		for _, r := range outline.SuggestedReading {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// summarize flattens a chapter body into a single bounded line used as
// continuity context for the following chapters.
func summarize(body string) string {
	flat := strings.Join(strings.Fields(body), " ")
	if len(flat) > summaryMaxLength {
		flat = flat[:summaryMaxLength]
	}
	return flat
}

// safeFilename reduces a title to a filesystem-safe name: alphanumerics,
// spaces, hyphens and underscores survive, everything else is dropped, words
// join with hyphens, capped at 120 characters.
func safeFilename(title string) string {
	var cleaned strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			cleaned.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			cleaned.WriteRune(r)
		}
	}
	name := strings.Join(strings.Fields(cleaned.String()), "-")
	if len(name) > manuscriptNameMaxLen {
		name = name[:manuscriptNameMaxLen]
	}
	name = strings.Trim(name, "-")
	if name == "" {
		return manuscriptFallbackName
	}
	return name
}

// extractJSONObject pulls the first JSON object out of model output,
// tolerating surrounding prose and markdown code fences.
func extractJSONObject(text string) (string, bool) {
	text = stripCodeFences(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// extractJSONArray pulls the first JSON array out of model output.
func extractJSONArray(text string) (string, bool) {
	text = stripCodeFences(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.Index(text, "\n"); idx != -1 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx != -1 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
