package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bookfactory/internal/domain"
	"bookfactory/internal/repository"
)

func TestBookPipelineEndToEnd(t *testing.T) {
	gen := &fakeGenerator{
		responses: []string{
			testOutline(t, "Quantum Computing Basics", 2),
			"## Chapter 1: Part 1\n\nFirst chapter body.\n\n### Key Takeaways\n- one",
			"## Chapter 2: Part 2\n\nSecond chapter body.\n\n### Key Takeaways\n- two",
		},
	}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	job := env.createJob(t, repository.CreateParams{Topic: "Quantum Computing"})
	if err := env.executor.Execute(ctx, job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	got := env.getJob(t, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error=%v)", got.Status, got.Error)
	}
	if got.Progress != 1.0 {
		t.Errorf("expected progress 1.0, got %v", got.Progress)
	}
	if got.OutputPath == nil {
		t.Fatal("expected output path")
	}

	jobDir := filepath.Join(env.dataDir, job.ID)
	if _, err := os.Stat(filepath.Join(jobDir, "outline.json")); err != nil {
		t.Errorf("outline.json not written: %v", err)
	}
	for i := 1; i <= 2; i++ {
		name := fmt.Sprintf("chapter-%02d.md", i)
		if _, err := os.Stat(filepath.Join(jobDir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	manuscript, err := os.ReadFile(*got.OutputPath)
	if err != nil {
		t.Fatalf("failed to read manuscript: %v", err)
	}
	text := string(manuscript)

	// title first, chapters in order, glossary and reading at the end
	ordered := []string{
		"# Quantum Computing Basics",
		"## Prerequisites",
		"## Chapter 1: Part 1",
		"## Chapter 2: Part 2",
		"## Glossary",
		"**qubit**",
		"## Suggested Reading",
		"Feynman lectures",
	}
	last := -1
	for _, want := range ordered {
		idx := strings.Index(text, want)
		if idx == -1 {
			t.Errorf("manuscript missing %q", want)
			continue
		}
		if idx < last {
			t.Errorf("%q appears out of order", want)
		}
		last = idx
	}

	if !strings.Contains(filepath.Base(*got.OutputPath), "Quantum-Computing-Basics") {
		t.Errorf("unexpected manuscript filename %q", filepath.Base(*got.OutputPath))
	}
}

func TestBookPipelineBoundsChapterCount(t *testing.T) {
	// outline offers 5 chapters, executor is configured for 3
	gen := &fakeGenerator{
		responses: []string{
			testOutline(t, "Big Book", 5),
			"## Chapter 1: Part 1\n\nBody.",
			"## Chapter 2: Part 2\n\nBody.",
			"## Chapter 3: Part 3\n\nBody.",
		},
	}
	env := newTestEnv(t, gen)
	job := env.createJob(t, repository.CreateParams{Topic: "big"})

	if err := env.executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	got := env.getJob(t, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error=%v)", got.Status, got.Error)
	}
	if gen.calls != 4 {
		t.Errorf("expected 1 outline + 3 chapter calls, got %d", gen.calls)
	}
	if _, err := os.Stat(filepath.Join(env.dataDir, job.ID, "chapter-04.md")); err == nil {
		t.Error("chapter beyond the configured maximum was written")
	}
}

func TestBookPipelineHaltsAtCheckpoint(t *testing.T) {
	var env *testEnv
	var jobID string
	gen := &fakeGenerator{}
	gen.responses = []string{
		testOutline(t, "Cancelled Book", 3),
		"## Chapter 1: Part 1\n\nBody.",
		"never generated",
	}
	// cancel externally while the first chapter is being generated
	gen.hook = func(call int) {
		if call == 1 {
			cancelled := domain.JobStatusCancelled
			if err := env.jobs.SetStatus(context.Background(), jobID, repository.StatusUpdate{Status: &cancelled}); err != nil {
				t.Fatalf("cancel failed: %v", err)
			}
		}
	}
	env = newTestEnv(t, gen)
	job := env.createJob(t, repository.CreateParams{Topic: "doomed"})
	jobID = job.ID

	if err := env.executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	got := env.getJob(t, jobID)
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("externally set status was overwritten: %s", got.Status)
	}
	if got.Error != nil {
		t.Errorf("halted job must not carry an error, got %q", *got.Error)
	}
	if gen.calls > 2 {
		t.Errorf("pipeline kept generating after the checkpoint: %d calls", gen.calls)
	}
}

func TestBookPipelineMalformedOutline(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"sorry, I cannot produce JSON"}}
	env := newTestEnv(t, gen)
	job := env.createJob(t, repository.CreateParams{Topic: "broken"})

	if err := env.executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	got := env.getJob(t, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "malformed") {
		t.Errorf("expected malformed-output failure, got %v", got.Error)
	}
}

func TestExecuteContainsBackendFailure(t *testing.T) {
	gen := &fakeGenerator{err: domain.NewBackendError("ollama", errors.New("connection refused"))}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	failing := env.createJob(t, repository.CreateParams{Topic: "will fail"})
	if err := env.executor.Execute(ctx, failing); err != nil {
		t.Fatalf("execute returned store error: %v", err)
	}

	got := env.getJob(t, failing.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "ollama backend") {
		t.Errorf("expected backend failure reason, got %v", got.Error)
	}

	events, err := env.events.List(ctx, failing.ID, 0)
	if err != nil {
		t.Fatalf("list events failed: %v", err)
	}
	foundError := false
	for _, e := range events {
		if e.Level == domain.EventLevelError {
			foundError = true
		}
	}
	if !foundError {
		t.Error("expected an error event in the job log")
	}
}

func TestDerivedTextStage(t *testing.T) {
	gen := &fakeGenerator{}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	// simulate a completed parent with a manuscript on disk
	parent := env.createJob(t, repository.CreateParams{Topic: "parent"})
	manuscript := filepath.Join(t.TempDir(), "My-Book.md")
	if err := os.WriteFile(manuscript, []byte("# My Book\n\nSome **bold** prose.\n"), 0644); err != nil {
		t.Fatalf("write manuscript: %v", err)
	}
	completed := domain.JobStatusCompleted
	if err := env.jobs.SetStatus(ctx, parent.ID, repository.StatusUpdate{Status: &completed, OutputPath: &manuscript}); err != nil {
		t.Fatalf("set parent status: %v", err)
	}

	child := env.createJob(t, repository.CreateParams{Topic: "parent", JobType: domain.JobTypeText, ParentID: &parent.ID})
	if err := env.executor.Execute(ctx, child); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	got := env.getJob(t, child.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error=%v)", got.Status, got.Error)
	}
	wantOut := strings.TrimSuffix(manuscript, ".md") + ".txt"
	if got.OutputPath == nil || *got.OutputPath != wantOut {
		t.Fatalf("expected output %q, got %v", wantOut, got.OutputPath)
	}
	text, err := os.ReadFile(wantOut)
	if err != nil {
		t.Fatalf("read text output: %v", err)
	}
	if strings.Contains(string(text), "**") {
		t.Error("markdown markup survived text extraction")
	}
}

func TestDerivedStageMissingParentOutput(t *testing.T) {
	gen := &fakeGenerator{}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	parent := env.createJob(t, repository.CreateParams{Topic: "incomplete"})
	child := env.createJob(t, repository.CreateParams{Topic: "incomplete", JobType: domain.JobTypePDF, ParentID: &parent.ID})

	if err := env.executor.Execute(ctx, child); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	got := env.getJob(t, child.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "missing") {
		t.Errorf("expected missing-source failure, got %v", got.Error)
	}
}

func TestExplicitSourcePathWins(t *testing.T) {
	gen := &fakeGenerator{}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	explicit := filepath.Join(t.TempDir(), "explicit.md")
	if err := os.WriteFile(explicit, []byte("# Explicit\n\nContent.\n"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	job := env.createJob(t, repository.CreateParams{
		Topic:      "standalone",
		JobType:    domain.JobTypeText,
		SourcePath: &explicit,
	})
	if err := env.executor.Execute(ctx, job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	got := env.getJob(t, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error=%v)", got.Status, got.Error)
	}
}

func TestRecommendTopicsEmptyHistory(t *testing.T) {
	gen := &fakeGenerator{}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	job := env.createJob(t, repository.CreateParams{Topic: "maintenance", JobType: domain.JobTypeRecommendTopics})
	if err := env.executor.Execute(ctx, job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	got := env.getJob(t, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed with empty history, got %s (error=%v)", got.Status, got.Error)
	}
	if gen.calls != 0 {
		t.Errorf("no generation expected with empty history, got %d calls", gen.calls)
	}

	entry, err := env.cache.Get(ctx, domain.CacheKeyRecommendedTopics)
	if err != nil {
		t.Fatalf("cache get failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected cache entry")
	}
	var topics []string
	if err := json.Unmarshal([]byte(entry.Value), &topics); err != nil {
		t.Fatalf("cache value is not a JSON list: %v", err)
	}
	if len(topics) != 0 {
		t.Errorf("expected empty list, got %v", topics)
	}
}

func TestRecommendTopicsDedupesAndCaps(t *testing.T) {
	suggested := []string{"Quantum Computing", "Linear Algebra", "Graph Theory"}
	for i := 0; i < 10; i++ {
		suggested = append(suggested, fmt.Sprintf("Filler Topic %d", i))
	}
	data, _ := json.Marshal(suggested)

	gen := &fakeGenerator{responses: []string{"```json\n" + string(data) + "\n```"}}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	// existing history repeats one suggestion (case differs)
	env.createJob(t, repository.CreateParams{Topic: "quantum computing"})

	job := env.createJob(t, repository.CreateParams{Topic: "maintenance", JobType: domain.JobTypeRecommendTopics})
	if err := env.executor.Execute(ctx, job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	entry, err := env.cache.Get(ctx, domain.CacheKeyRecommendedTopics)
	if err != nil || entry == nil {
		t.Fatalf("cache get failed: %v", err)
	}
	var topics []string
	if err := json.Unmarshal([]byte(entry.Value), &topics); err != nil {
		t.Fatalf("cache value is not a JSON list: %v", err)
	}
	if len(topics) > recommendTopicsLimit {
		t.Errorf("expected at most %d topics, got %d", recommendTopicsLimit, len(topics))
	}
	for _, topic := range topics {
		if strings.EqualFold(topic, "quantum computing") {
			t.Errorf("recent topic %q was not deduplicated", topic)
		}
	}
}

func TestRunnerDrainsQueueAndContainsFailures(t *testing.T) {
	gen := &fakeGenerator{
		responses: []string{
			"not json at all", // first book's outline fails
			testOutline(t, "Second Book", 1),
			"## Chapter 1: Part 1\n\nBody.",
		},
	}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	first := env.createJob(t, repository.CreateParams{Topic: "first"})
	second := env.createJob(t, repository.CreateParams{Topic: "second"})

	runner := NewRunner(env.jobs, env.executor, 0)
	runner.drain(ctx)

	gotFirst := env.getJob(t, first.ID)
	gotSecond := env.getJob(t, second.ID)
	if gotFirst.Status != domain.JobStatusFailed {
		t.Errorf("expected first failed, got %s", gotFirst.Status)
	}
	if gotSecond.Status != domain.JobStatusCompleted {
		t.Errorf("expected second completed despite earlier failure, got %s (error=%v)",
			gotSecond.Status, gotSecond.Error)
	}
}

func TestRunnerIgnoresCancelledJobs(t *testing.T) {
	gen := &fakeGenerator{}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	job := env.createJob(t, repository.CreateParams{Topic: "flipped"})
	cancelled := domain.JobStatusCancelled
	if err := env.jobs.SetStatus(ctx, job.ID, repository.StatusUpdate{Status: &cancelled}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	runner := NewRunner(env.jobs, env.executor, 0)
	runner.drain(ctx)

	got := env.getJob(t, job.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Errorf("cancelled job was executed: %s", got.Status)
	}
	if gen.calls != 0 {
		t.Errorf("generator called for a cancelled job")
	}
}
