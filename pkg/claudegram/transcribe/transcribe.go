// Package transcribe converts voice notes to text via a whisper-compatible
// HTTP transcription endpoint.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

// Config holds transcription endpoint settings.
type Config struct {
	// BaseURL is the API base (default "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the endpoint.
	APIKey string `yaml:"api_key"`

	// Model is the transcription model (default "whisper-1").
	Model string `yaml:"model"`
}

// Client calls the transcription endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a transcription client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "transcribe"),
	}
}

// Enabled reports whether the client is configured with credentials.
func (c *Client) Enabled() bool {
	return c.cfg.APIKey != ""
}

// Transcribe sends audio bytes to the endpoint and returns the recognized
// text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("transcription API key not configured")
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("model", c.cfg.Model)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}
	w.Close()

	endpoint := c.cfg.BaseURL + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription API returned %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	c.logger.Info("transcription done",
		"duration_ms", time.Since(start).Milliseconds(),
		"audio_bytes", len(audio),
		"text_len", len(result.Text),
	)
	return strings.TrimSpace(result.Text), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
