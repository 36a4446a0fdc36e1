package mistral

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"biblechat/internal/domain"
	"biblechat/internal/prompt"
)

// Client streams chat completions from a Mistral-style API. Establishing the
// stream is retried for transient failures; once fragments flow, a failure
// ends the stream and already emitted fragments stand.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	retryBase  time.Duration
	client     *http.Client
}

// Config configures the generation client. The API key is read from the
// environment variable named by APIKeyEnv. Timeout bounds the wait for the
// response headers; the stream itself is bounded by the caller's context.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// NewClient creates a generation client from the configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "MISTRAL_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mistral.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "mistral-large-latest"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		// No client-wide timeout: it would cut long streams short. The
		// transport bounds the header wait instead.
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: timeout},
		},
	}, nil
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate sends the composed payload and returns a channel of answer
// fragments. The channel closes when the stream ends; a mid-stream failure is
// delivered as a final fragment carrying the error. Cancelling ctx stops
// consumption and closes the underlying connection.
func (c *Client) Generate(ctx context.Context, payload domain.Payload) (<-chan domain.Fragment, error) {
	body := chatRequest{
		Model:    c.model,
		Messages: prompt.Messages(payload),
		Stream:   true,
	}
	resp, err := c.send(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Fragment)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- domain.Fragment{Text: ev.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		// Reaching here means the stream ended without the [DONE]
		// terminator: either a read error or a dropped connection. Both
		// leave the answer truncated and must not look like completion.
		if ctx.Err() != nil {
			return
		}
		err := sc.Err()
		if err == nil {
			err = fmt.Errorf("%w: stream ended before terminator", domain.ErrGenerationUnavailable)
		} else {
			err = classify(err)
		}
		select {
		case out <- domain.Fragment{Err: err}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// send issues the completion request, retrying transient failures (connection
// errors, 429 and 5xx responses) with exponential backoff. Rejections are
// surfaced immediately and never retried.
func (c *Client) send(ctx context.Context, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/v1/chat/completions"
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt, c.retryBase)):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrGenerationTimeout, ctx.Err())
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = classify(err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 400))
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: status %d: %s", domain.ErrGenerationUnavailable, resp.StatusCode, detail)
			continue
		}
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrGenerationRejected, resp.StatusCode, detail)
	}
	return nil, lastErr
}

func backoff(attempt int, base time.Duration) time.Duration {
	d := base << (attempt - 1)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrGenerationTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
}
