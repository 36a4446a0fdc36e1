package pinecone

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"biblechat/internal/domain"
)

type fixedEmbedder struct {
	vec []float64
	err error
}

func (f fixedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return f.vec, f.err
}

func TestRetrieve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Api-Key"); got != "test-key" {
			t.Fatalf("unexpected api key header: %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["topK"].(float64) != 4 {
			t.Fatalf("unexpected topK: %v", req["topK"])
		}
		if req["namespace"].(string) != "text_chunks" {
			t.Fatalf("unexpected namespace: %v", req["namespace"])
		}
		resp := map[string]any{
			"matches": []map[string]any{
				{"id": "v1", "score": 0.92, "metadata": map[string]any{"text": "Be kind to one another", "source": "Ephesians 4:32"}},
				{"id": "v2", "score": 0.80, "metadata": map[string]any{"text": "Love covers all offenses", "source": "Proverbs 10:12"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	t.Setenv("PINECONE_API_KEY", "test-key")
	c, err := New(Config{Host: server.URL, Namespace: "text_chunks"}, fixedEmbedder{vec: []float64{0.1, 0.2}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Retrieve(context.Background(), "forgiveness", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(got))
	}
	if got[0].Source != "Ephesians 4:32" || got[0].Score != 0.92 {
		t.Errorf("unexpected first passage: %+v", got[0])
	}
	if got[0].Score < got[1].Score {
		t.Error("passages not score-descending")
	}
}

func TestRetrieveEmptyResultIsValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"matches":[]}`))
	}))
	defer server.Close()

	t.Setenv("PINECONE_API_KEY", "test-key")
	c, err := New(Config{Host: server.URL}, fixedEmbedder{vec: []float64{0.1}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Retrieve(context.Background(), "nothing similar", 4)
	if err != nil {
		t.Fatalf("empty result must not be an error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %+v", got)
	}
}

func TestRetrieveTruncatesOverfullResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"matches": []map[string]any{
				{"id": "v1", "score": 0.50, "metadata": map[string]any{"text": "low"}},
				{"id": "v2", "score": 0.92, "metadata": map[string]any{"text": "high"}},
				{"id": "v3", "score": 0.80, "metadata": map[string]any{"text": "mid"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	t.Setenv("PINECONE_API_KEY", "test-key")
	c, err := New(Config{Host: server.URL}, fixedEmbedder{vec: []float64{0.1}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	// Server returned three matches for topK=2; only the two best survive.
	if len(got) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(got))
	}
	if got[0].Text != "high" || got[1].Text != "mid" {
		t.Errorf("expected the two highest-scored passages, got %+v", got)
	}
}

func TestRetrieveServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	t.Setenv("PINECONE_API_KEY", "test-key")
	c, err := New(Config{Host: server.URL}, fixedEmbedder{vec: []float64{0.1}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Retrieve(context.Background(), "q", 4)
	if !errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestRetrieveEmbedderFailureClassified(t *testing.T) {
	t.Setenv("PINECONE_API_KEY", "test-key")
	c, err := New(Config{Host: "http://localhost:1"}, fixedEmbedder{err: errors.New("boom")})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Retrieve(context.Background(), "q", 4)
	if !errors.Is(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestRetrieveDeadlineClassifiedAsTimeout(t *testing.T) {
	t.Setenv("PINECONE_API_KEY", "test-key")
	c, err := New(Config{Host: "http://localhost:1"}, fixedEmbedder{err: context.DeadlineExceeded})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Retrieve(context.Background(), "q", 4)
	if !errors.Is(err, domain.ErrRetrievalTimeout) {
		t.Fatalf("expected ErrRetrievalTimeout, got %v", err)
	}
}

func TestNewRequiresHostAndKey(t *testing.T) {
	if _, err := New(Config{}, fixedEmbedder{}); err == nil {
		t.Fatal("expected error without host")
	}
	t.Setenv("BIBLECHAT_TEST_PINECONE_KEY", "")
	if _, err := New(Config{Host: "http://x", APIKeyEnv: "BIBLECHAT_TEST_PINECONE_KEY"}, fixedEmbedder{}); err == nil {
		t.Fatal("expected error without key")
	}
}
