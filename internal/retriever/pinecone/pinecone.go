package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"biblechat/internal/domain"
)

// Embedder supplies the query vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Client is a minimal REST client to a Pinecone-style index. Each Retrieve
// issues one embeddings call and one query call; no connection state is kept
// between requests.
type Client struct {
	host      string
	apiKey    string
	namespace string
	embedder  Embedder
	client    *http.Client
}

// Config contains connection details for the hosted index. The API key is
// read from the environment variable named by APIKeyEnv.
type Config struct {
	Host      string
	APIKeyEnv string
	Namespace string
	Timeout   time.Duration
}

// New creates a retriever client for the given index host.
func New(cfg Config, embedder Embedder) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("pinecone host is required")
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "PINECONE_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		host:      cfg.Host,
		apiKey:    key,
		namespace: cfg.Namespace,
		embedder:  embedder,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

// Retrieve embeds the query and returns the top-k most similar passages,
// score-descending. An empty result set is valid.
func (c *Client) Retrieve(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	if k < 1 {
		k = 1
	}
	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, classify(err, "embed query")
	}

	body := map[string]any{
		"vector":          vector,
		"topK":            k,
		"includeMetadata": true,
	}
	if c.namespace != "" {
		body["namespace"] = c.namespace
	}
	data, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/query", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(err, "query index")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: query returned %s", domain.ErrRetrievalUnavailable, resp.Status)
	}

	var out struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrRetrievalUnavailable, err)
	}

	passages := make([]domain.Passage, 0, len(out.Matches))
	for _, m := range out.Matches {
		p := domain.Passage{Source: m.ID, Score: m.Score}
		if v, ok := m.Metadata["text"].(string); ok {
			p.Text = v
		}
		if v, ok := m.Metadata["source"].(string); ok && v != "" {
			p.Source = v
		}
		passages = append(passages, p)
	}
	// Matches arrive score-descending and at most k of them; keep the
	// contract even if the server doesn't.
	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
	if len(passages) > k {
		passages = passages[:k]
	}
	return passages, nil
}

func classify(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", domain.ErrRetrievalTimeout, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %v", domain.ErrRetrievalTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrRetrievalUnavailable, op, err)
}
