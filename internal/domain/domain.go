package domain

import (
	"context"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one unit of conversation. Immutable once created; owned by the
// session that recorded it.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Passage is a reference passage returned by the retriever. Score is a
// similarity score, higher means more relevant. Source is a human-readable
// reference such as book/chapter/verse.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Payload is the fully composed request for the generator. Passages are
// ordered by descending score, history chronologically. Built fresh per
// query and consumed once.
type Payload struct {
	System   string
	Passages []Passage
	History  []Turn
	Query    string
}

// Message is a role/content pair in the wire format generative services accept.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fragment is one streamed piece of a generated answer. A fragment carrying a
// non-nil Err terminates the stream; fragments delivered before it stand and
// the caller must treat the whole as an incomplete answer.
type Fragment struct {
	Text string
	Err  error
}

// Retriever returns the top-k passages most similar to the query,
// score-descending and at most k long. An empty result is valid.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// Generator produces the answer for a composed payload as a lazy stream of
// fragments. The channel is closed when the stream ends. Streams are finite
// and not restartable.
type Generator interface {
	Generate(ctx context.Context, payload Payload) (<-chan Fragment, error)
}
