package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"bookfactory/internal/config"
	"bookfactory/internal/converter"
	"bookfactory/internal/domain"
	"bookfactory/internal/repository"
)

// fakeGenerator returns scripted responses in order. An optional hook runs
// before each call, letting tests flip job state mid-pipeline.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
	hook      func(call int)
	models    []string
}

func (f *fakeGenerator) Generate(ctx context.Context, model, prompt, system string) (string, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(call)
	}
	if f.err != nil {
		return "", f.err
	}
	if call >= len(f.responses) {
		return "", fmt.Errorf("unexpected generate call %d", call)
	}
	return f.responses[call], nil
}

func (f *fakeGenerator) ListModels(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.models...), nil
}

func (f *fakeGenerator) Pull(ctx context.Context, model string) error {
	return f.err
}

type fakeSynthesizer struct {
	err error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("ID3 fake mp3 " + text[:min(8, len(text))]), nil
}

type fakeTranscoder struct{}

func (fakeTranscoder) TranscodeToM4B(ctx context.Context, mp3Path string) (string, error) {
	out := mp3Path[:len(mp3Path)-len(filepath.Ext(mp3Path))] + ".m4b"
	return out, nil
}

// testEnv wires a real sqlite-backed store with fake backends.
type testEnv struct {
	jobs     *repository.JobRepository
	events   *repository.EventRepository
	cache    *repository.CacheRepository
	gen      *fakeGenerator
	executor *StageExecutor
	dataDir  string
}

func newTestEnv(t *testing.T, gen *fakeGenerator) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(dir, "test.db"),
		AutoMigrate:  true,
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}

	env := &testEnv{
		jobs:    repository.NewJobRepository(db),
		events:  repository.NewEventRepository(db),
		cache:   repository.NewCacheRepository(db),
		gen:     gen,
		dataDir: filepath.Join(dir, "jobs"),
	}
	env.executor = NewStageExecutor(StageDeps{
		Jobs:        env.jobs,
		Events:      env.events,
		Cache:       env.cache,
		Generator:   gen,
		PDF:         converter.NewPDFRenderer(),
		TTS:         &fakeSynthesizer{},
		Transcode:   fakeTranscoder{},
		DataDir:     env.dataDir,
		MaxChapters: 3,
		TTSVoice:    "0",
		TTSSpeed:    1.0,
	})
	return env
}

func (e *testEnv) createJob(t *testing.T, params repository.CreateParams) *domain.Job {
	t.Helper()
	job, err := e.jobs.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return job
}

func (e *testEnv) getJob(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := e.jobs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if job == nil {
		t.Fatalf("job %s not found", id)
	}
	return job
}

// testOutline builds a small outline JSON response.
func testOutline(t *testing.T, title string, chapters int) string {
	t.Helper()
	outline := domain.Outline{
		Title:         title,
		Description:   "A short course.",
		Prerequisites: []string{"curiosity"},
		Glossary: []domain.GlossaryItem{
			{Term: "qubit", Definition: "quantum bit"},
		},
		SuggestedReading: []string{"Feynman lectures"},
	}
	for i := 1; i <= chapters; i++ {
		outline.Chapters = append(outline.Chapters, domain.Chapter{
			Number: i,
			Title:  fmt.Sprintf("Part %d", i),
			Sections: []domain.Section{
				{Title: "Basics", KeyPoints: []string{"point"}},
			},
		})
	}
	data, err := json.Marshal(outline)
	if err != nil {
		t.Fatalf("marshal outline: %v", err)
	}
	return string(data)
}
