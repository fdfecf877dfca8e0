package service

import (
	"reflect"
	"strings"
	"testing"
)

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"plain", "Quantum Computing", "Quantum-Computing"},
		{"punctuation stripped", "C++: A Love/Hate Story!", "C-A-LoveHate-Story"},
		{"underscores kept", "snake_case title", "snake_case-title"},
		{"empty", "", "book"},
		{"only punctuation", "???!!!", "book"},
		{"collapses spaces", "  a   b  ", "a-b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := safeFilename(tt.title); got != tt.want {
				t.Errorf("safeFilename(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}

	long := strings.Repeat("a", 200)
	if got := safeFilename(long); len(got) != manuscriptNameMaxLen {
		t.Errorf("expected truncation to %d, got %d", manuscriptNameMaxLen, len(got))
	}
}

func TestSummarizeBoundsLength(t *testing.T) {
	body := strings.Repeat("word ", 200)
	got := summarize(body)
	if len(got) > summaryMaxLength {
		t.Errorf("summary exceeds cap: %d", len(got))
	}
	if strings.Contains(got, "\n") {
		t.Error("summary must be a single flattened line")
	}

	short := "one  two\nthree"
	if got := summarize(short); got != "one two three" {
		t.Errorf("expected flattened %q, got %q", "one two three", got)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"surrounded by prose", `Here you go: {"a":1} hope it helps`, `{"a":1}`, true},
		{"no object", "nothing here", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("extractJSONObject(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseTopicList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"json array", `["a", "b"]`, []string{"a", "b"}},
		{"fenced json array", "```json\n[\"a\", \"b\"]\n```", []string{"a", "b"}},
		{"bulleted lines", "- first topic\n* second topic\n", []string{"first topic", "second topic"}},
		{"numbered lines", "1. first\n2. second", []string{"first", "second"}},
		{"quoted lines", "\"first\"\n'second'", []string{"first", "second"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTopicList(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseTopicList(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
