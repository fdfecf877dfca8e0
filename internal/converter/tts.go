package converter

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// Synthesizer converts text to spoken audio.
type Synthesizer interface {
	// Synthesize renders text as mp3 bytes using the named voice at the
	// given speed. Speed is clamped to [0.5, 2.0].
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error)
}

// TTSConfig holds configuration for the offline TTS engine.
type TTSConfig struct {
	ModelPath    string  // VITS onnx model
	TokensPath   string  // tokens.txt for the model
	LexiconPath  string  // optional lexicon
	DataDir      string  // optional espeak-ng data dir
	NumThreads   int
	DefaultVoice string // speaker id as a string
	DefaultSpeed float64
}

// UnavailableSynthesizer stands in when no TTS model is configured. Audiobook
// jobs fail with a conversion error instead of crashing at startup.
type UnavailableSynthesizer struct{}

func (UnavailableSynthesizer) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	return nil, convErr("tts", "no TTS model configured: set tts.model_path and tts.tokens_path")
}

// SherpaSynthesizer synthesizes speech with a local sherpa-onnx VITS model.
// The engine is not safe for concurrent generation, so calls serialize on an
// internal mutex.
type SherpaSynthesizer struct {
	mu  sync.Mutex
	tts *sherpa.OfflineTts
	cfg TTSConfig
}

// NewSherpaSynthesizer creates a synthesizer from the given configuration.
// Parameters:
//   - cfg: model paths and defaults; ModelPath and TokensPath are required.
// Returns:
//   - *SherpaSynthesizer: ready synthesizer.
//   - error: non-nil if the model files are missing or the engine fails to load.
func NewSherpaSynthesizer(cfg TTSConfig) (*SherpaSynthesizer, error) {
	if cfg.ModelPath == "" || cfg.TokensPath == "" {
		return nil, convErr("tts", "model_path and tokens_path must be configured")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, convErr("tts", "model not found: %s", cfg.ModelPath)
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 2
	}

	sherpaConfig := sherpa.OfflineTtsConfig{
		Model: sherpa.OfflineTtsModelConfig{
			Vits: sherpa.OfflineTtsVitsModelConfig{
				Model:   cfg.ModelPath,
				Tokens:  cfg.TokensPath,
				Lexicon: cfg.LexiconPath,
				DataDir: cfg.DataDir,
			},
			NumThreads: cfg.NumThreads,
			Provider:   "cpu",
			Debug:      0,
		},
	}

	tts := sherpa.NewOfflineTts(&sherpaConfig)
	if tts == nil {
		return nil, convErr("tts", "failed to create offline TTS engine")
	}

	return &SherpaSynthesizer{tts: tts, cfg: cfg}, nil
}

// Synthesize renders text as mp3 bytes.
// Parameters:
//   - ctx: context bounding the mp3 transcode step.
//   - text: text to speak.
//   - voice: numeric speaker id; falls back to the configured default.
//   - speed: playback speed, clamped to [0.5, 2.0].
// Returns:
//   - []byte: mp3 audio.
//   - error: non-nil if generation or transcoding fails.
func (s *SherpaSynthesizer) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	sid := s.resolveSpeaker(voice)
	if speed < 0.5 {
		speed = 0.5
	}
	if speed > 2.0 {
		speed = 2.0
	}

	s.mu.Lock()
	audio := s.tts.Generate(text, sid, float32(speed))
	s.mu.Unlock()
	if audio == nil || len(audio.Samples) == 0 {
		return nil, convErr("tts", "engine produced no audio")
	}

	tmpDir, err := os.MkdirTemp("", "bookfactory-tts-")
	if err != nil {
		return nil, convErr("tts", "temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wavPath := filepath.Join(tmpDir, "tts.wav")
	if ok := audio.Save(wavPath); !ok {
		return nil, convErr("tts", "failed to write wav output")
	}

	mp3Path := filepath.Join(tmpDir, "tts.mp3")
	if err := wavToMP3(ctx, wavPath, mp3Path); err != nil {
		return nil, err
	}
	return os.ReadFile(mp3Path)
}

// Close releases the underlying engine.
func (s *SherpaSynthesizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tts != nil {
		sherpa.DeleteOfflineTts(s.tts)
		s.tts = nil
	}
}

func (s *SherpaSynthesizer) resolveSpeaker(voice string) int {
	if voice != "" {
		if sid, err := strconv.Atoi(voice); err == nil && sid >= 0 {
			return sid
		}
	}
	if sid, err := strconv.Atoi(s.cfg.DefaultVoice); err == nil && sid >= 0 {
		return sid
	}
	return 0
}
