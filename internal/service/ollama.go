package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"bookfactory/internal/domain"
	"bookfactory/internal/logger"
)

// TextGenerator is the contract the pipeline has with the generation backend.
type TextGenerator interface {
	// Generate produces text for the prompt, blocking until the backend
	// finishes streaming. model overrides the default when non-empty.
	Generate(ctx context.Context, model, prompt, system string) (string, error)

	// ListModels returns the names of locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// Pull downloads a model, blocking until the pull finishes.
	Pull(ctx context.Context, model string) error
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	BaseURL        string
	DefaultModel   string
	RequestTimeout time.Duration
}

// OllamaClient talks to a local Ollama server. Generation uses the streaming
// API and accumulates chunks so a long response keeps the connection alive.
type OllamaClient struct {
	client       *resty.Client
	baseURL      string
	defaultModel string
	timeout      time.Duration
}

const (
	generateMaxRetries = 4
	generateBaseDelay  = 500 * time.Millisecond
	generateMaxDelay   = 5 * time.Second
)

// NewOllamaClient creates a client for the configured Ollama endpoint.
// Parameters:
//   - cfg: endpoint, default model, and per-request timeout.
// Returns:
//   - *OllamaClient: initialized client.
func NewOllamaClient(cfg *OllamaConfig) *OllamaClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &OllamaClient{
		client:       client,
		baseURL:      baseURL,
		defaultModel: cfg.DefaultModel,
		timeout:      timeout,
	}
}

// DefaultModel returns the configured default model name.
func (c *OllamaClient) DefaultModel() string {
	return c.defaultModel
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate produces text for the prompt via the streaming generate API.
// Transient failures are retried with exponential backoff before the error
// surfaces as a backend error.
// Parameters:
//   - ctx: context bounding the whole call including retries.
//   - model: model name; falls back to the configured default when empty.
//   - prompt: user prompt.
//   - system: system instructions, may be empty.
// Returns:
//   - string: accumulated response text.
//   - error: *domain.BackendError when all attempts fail.
func (c *OllamaClient) Generate(ctx context.Context, model, prompt, system string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}

	var lastErr error
	for attempt := 0; attempt < generateMaxRetries; attempt++ {
		if attempt > 0 {
			delay := generateBaseDelay << (attempt - 1)
			if delay > generateMaxDelay {
				delay = generateMaxDelay
			}
			logger.CtxWarn(ctx, "generate attempt %d failed, retrying in %s: %v", attempt, delay, lastErr)
			select {
			case <-ctx.Done():
				return "", domain.NewBackendError("ollama", ctx.Err())
			case <-time.After(delay):
			}
		}

		text, err := c.generateOnce(ctx, model, prompt, system)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", domain.NewBackendError("ollama", lastErr)
}

func (c *OllamaClient) generateOnce(ctx context.Context, model, prompt, system string) (string, error) {
	req := generateRequest{
		Model:  model,
		Prompt: prompt,
		System: system,
		Stream: true,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetDoNotParseResponse(true).
		Post(c.baseURL + "/api/generate")
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		buf := make([]byte, 512)
		n, _ := body.Read(buf)
		return "", fmt.Errorf("generate returned HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(buf[:n])))
	}

	var out strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", fmt.Errorf("malformed stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("generate stream error: %s", chunk.Error)
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("generate stream read failed: %w", err)
	}
	return out.String(), nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns locally available model names via the tags API, falling
// back to the ollama CLI when the server is unreachable.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	var tags tagsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&tags).
		Get(c.baseURL + "/api/tags")
	if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		names := make([]string, 0, len(tags.Models))
		for _, m := range tags.Models {
			names = append(names, m.Name)
		}
		return names, nil
	}

	if names, cliErr := listModelsCLI(ctx); cliErr == nil {
		return names, nil
	}

	if err != nil {
		return nil, domain.NewBackendError("ollama", err)
	}
	return nil, domain.NewBackendError("ollama", fmt.Errorf("tags returned HTTP %d", resp.StatusCode()))
}

// listModelsCLI parses `ollama list` output, skipping the header row.
func listModelsCLI(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "ollama", "list").Output()
	if err != nil {
		return nil, err
	}
	var names []string
	for i, line := range strings.Split(string(out), "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			names = append(names, fields[0])
		}
	}
	return names, nil
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type pullResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pull downloads a model, blocking until the pull finishes.
func (c *OllamaClient) Pull(ctx context.Context, model string) error {
	var result pullResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(pullRequest{Name: model, Stream: false}).
		SetResult(&result).
		Post(c.baseURL + "/api/pull")
	if err != nil {
		return domain.NewBackendError("ollama", fmt.Errorf("pull request failed: %w", err))
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return domain.NewBackendError("ollama", fmt.Errorf("pull returned HTTP %d: %s", resp.StatusCode(), string(resp.Body())))
	}
	if result.Error != "" {
		return domain.NewBackendError("ollama", fmt.Errorf("pull failed: %s", result.Error))
	}
	return nil
}
