package converter

import (
	"strings"
	"testing"
)

func TestMarkdownToText(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		contains []string
		excludes []string
	}{
		{
			name:     "headings and emphasis stripped",
			in:       "# Title\n\nSome **bold** and *italic* prose.",
			contains: []string{"Title", "Some bold and italic prose."},
			excludes: []string{"#", "*"},
		},
		{
			name:     "list markers dropped",
			in:       "- first\n- second\n",
			contains: []string{"first", "second"},
			excludes: []string{"-"},
		},
		{
			name:     "code block body kept",
			in:       "```go\nfmt.Println(1)\n```\n",
			contains: []string{"fmt.Println(1)"},
			excludes: []string{"```"},
		},
		{
			name:     "links keep text",
			in:       "see [the docs](https://example.com/docs) for more",
			contains: []string{"the docs"},
			excludes: []string{"](", "https://example.com/docs"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MarkdownToText(tt.in)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("output still contains %q:\n%s", bad, got)
				}
			}
		})
	}
}

func TestMarkdownToTextCollapsesBlankLines(t *testing.T) {
	got := MarkdownToText("para one\n\n\n\n\npara two")
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank lines not collapsed:\n%q", got)
	}
	if !strings.Contains(got, "para one") || !strings.Contains(got, "para two") {
		t.Errorf("paragraph text lost:\n%q", got)
	}
}

func TestMarkdownToTextEmpty(t *testing.T) {
	if got := MarkdownToText(""); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
}
