package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"biblechat/internal/cache"
	"biblechat/internal/domain"
	"biblechat/internal/prompt"
	"biblechat/internal/session"
)

// refinementInstruction drives the optional pre-retrieval hop that turns a
// conversational question into a focused search query.
const refinementInstruction = "You turn user questions into short, focused Bible search queries. Reply with the query only."

// ChatService runs the query pipeline for one conversation: record the user
// turn, retrieve context, compose the payload, stream the answer, and record
// the assistant turn once the stream finishes cleanly. The pipeline is
// strictly sequential; one query is in flight per session at a time.
type ChatService struct {
	retriever domain.Retriever
	generator domain.Generator
	composer  *prompt.Composer
	session   *session.Session
	answers   cache.Store
	answerTTL time.Duration
	topK      int
	refine    bool
	now       func() time.Time

	// mu guards epoch and serializes assistant-turn appends against
	// ClearHistory, so a stream finishing mid-clear cannot leave an orphan
	// assistant turn in the fresh conversation.
	mu    sync.Mutex
	epoch int64
}

// Options tune the pipeline. Answers, when set, enables an exact-match cache
// of full answers keyed by (query, topK).
type Options struct {
	TopK      int
	Refine    bool
	Answers   cache.Store
	AnswerTTL time.Duration
	Now       func() time.Time
}

// New assembles a chat service around the given components and session.
func New(retriever domain.Retriever, generator domain.Generator, composer *prompt.Composer, sess *session.Session, opts Options) *ChatService {
	if opts.TopK < 1 {
		opts.TopK = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ChatService{
		retriever: retriever,
		generator: generator,
		composer:  composer,
		session:   sess,
		answers:   opts.Answers,
		answerTTL: opts.AnswerTTL,
		topK:      opts.TopK,
		refine:    opts.Refine,
		now:       opts.Now,
	}
}

// SubmitQuery runs one query through the pipeline and returns the answer as a
// stream of fragments. The user turn is recorded immediately; the assistant
// turn only once the stream completes without error or cancellation, so a
// cancelled generation leaves no assistant turn behind.
func (s *ChatService) SubmitQuery(ctx context.Context, text string) (<-chan domain.Fragment, error) {
	query := strings.TrimSpace(text)
	if query == "" {
		return nil, errors.New("empty query")
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	history := s.session.Snapshot()
	if err := s.session.Append(domain.Turn{Role: domain.RoleUser, Text: query, Timestamp: s.now()}); err != nil {
		return nil, err
	}

	cacheKey := cache.Key("answer", fmt.Sprintf("%d:%s", s.topK, query))
	if s.answers != nil {
		if data, ok := s.answers.Get(ctx, cacheKey); ok {
			answer := string(data)
			if err := s.recordAnswer(ctx, epoch, cacheKey, answer); err != nil {
				return nil, err
			}
			out := make(chan domain.Fragment, 1)
			out <- domain.Fragment{Text: answer}
			close(out)
			return out, nil
		}
	}

	searchQuery := query
	if s.refine {
		if refined, err := s.refineQuery(ctx, query); err == nil && refined != "" {
			searchQuery = refined
		}
	}

	passages, err := s.retriever.Retrieve(ctx, searchQuery, s.topK)
	if err != nil {
		return nil, err
	}
	payload, err := s.composer.Compose(query, passages, history)
	if err != nil {
		return nil, err
	}
	stream, err := s.generator.Generate(ctx, payload)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.Fragment)
	go s.relay(ctx, epoch, stream, out, cacheKey)
	return out, nil
}

// GetHistory returns the session turns in chronological order.
func (s *ChatService) GetHistory() []domain.Turn {
	return s.session.Snapshot()
}

// ClearHistory starts a new conversation. The previous history is gone for
// good.
func (s *ChatService) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.session.Clear()
}

// SessionID identifies the underlying session.
func (s *ChatService) SessionID() string {
	return s.session.ID()
}

// relay forwards fragments to the caller while accumulating the full answer.
// On clean completion it records the assistant turn and caches the answer; on
// error or cancellation it records nothing.
func (s *ChatService) relay(ctx context.Context, epoch int64, in <-chan domain.Fragment, out chan<- domain.Fragment, cacheKey string) {
	defer close(out)
	var full strings.Builder
	for f := range in {
		if f.Err != nil {
			select {
			case out <- f:
			case <-ctx.Done():
			}
			return
		}
		full.WriteString(f.Text)
		select {
		case out <- f:
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := s.recordAnswer(ctx, epoch, cacheKey, full.String()); err != nil {
		select {
		case out <- domain.Fragment{Err: err}:
		case <-ctx.Done():
		}
	}
}

// recordAnswer appends the assistant turn and caches the answer. It does
// nothing when the conversation was cleared after the query started: the
// answer no longer has a question to follow.
func (s *ChatService) recordAnswer(ctx context.Context, epoch int64, cacheKey, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil
	}
	if err := s.session.Append(domain.Turn{Role: domain.RoleAssistant, Text: answer, Timestamp: s.now()}); err != nil {
		return err
	}
	if s.answers != nil {
		s.answers.Set(ctx, cacheKey, []byte(answer), s.answerTTL)
	}
	return nil
}

// refineQuery asks the generator for a focused search query. Failures fall
// back to the raw question; refinement is an optimization, not a dependency.
func (s *ChatService) refineQuery(ctx context.Context, query string) (string, error) {
	payload := domain.Payload{
		System: refinementInstruction,
		Query:  "Create a focused Bible search query based on: " + query,
	}
	stream, err := s.generator.Generate(ctx, payload)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for f := range stream {
		if f.Err != nil {
			return "", f.Err
		}
		b.WriteString(f.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
