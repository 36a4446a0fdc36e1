package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"biblechat/internal/domain"
)

// Entry is one passage of the local corpus.
type Entry struct {
	Text   string `yaml:"text"`
	Source string `yaml:"source"`
}

// Retriever scores a fixed passage list against the query by token overlap
// (Ochiai coefficient). It needs no external service, which makes it the
// offline fallback and the test double of choice.
type Retriever struct {
	mu      sync.RWMutex
	entries []Entry
}

// New creates a retriever over the given passages.
func New(entries []Entry) *Retriever {
	return &Retriever{entries: append([]Entry(nil), entries...)}
}

// Add appends passages to the corpus.
func (r *Retriever) Add(entries ...Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
}

// Retrieve returns the top-k passages by token-overlap score, descending.
// Passages with zero overlap are omitted, so an empty result is possible.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalUnavailable, err)
	}
	if k < 1 {
		k = 1
	}
	qset := toTokenSet(query)

	r.mu.RLock()
	defer r.mu.RUnlock()
	scored := make([]domain.Passage, 0, len(r.entries))
	for _, e := range r.entries {
		score := ochiai(qset, e.Text)
		if score == 0 {
			continue
		}
		scored = append(scored, domain.Passage{Text: e.Text, Source: e.Source, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// LoadEntries reads a YAML passage corpus: a list of {text, source} items.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai computes |A∩B| / sqrt(|A||B|) over the token sets of query and text.
func ochiai(qset map[string]struct{}, text string) float64 {
	toks := unicodeWordRe.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(toks))
	inter := 0
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	return float64(inter) / (math.Sqrt(float64(len(qset))) * math.Sqrt(float64(len(seen))))
}
