package prompt

import (
	"fmt"
	"strings"

	"biblechat/internal/domain"
)

// Composer builds generator payloads from the current query, the retrieved
// passages and the conversation history. Compose is deterministic: identical
// inputs produce identical payloads.
type Composer struct {
	system        string
	historyBudget int // max combined characters of retained history turns
	payloadBudget int // max characters of the whole rendered payload, 0 = unlimited
}

// NewComposer creates a composer with the given system instruction and
// character budgets.
func NewComposer(system string, historyBudget, payloadBudget int) *Composer {
	return &Composer{system: system, historyBudget: historyBudget, payloadBudget: payloadBudget}
}

// Compose assembles a payload. History is truncated oldest-first until it
// fits the budget; the current query is never dropped. If instruction,
// passages and query alone exceed the payload budget, no amount of history
// trimming can help and Compose fails with ErrPayloadTooLarge.
func (c *Composer) Compose(query string, passages []domain.Passage, history []domain.Turn) (domain.Payload, error) {
	base := len(c.system) + len(query)
	for _, p := range passages {
		base += len(p.Text) + len(p.Source)
	}
	if c.payloadBudget > 0 && base > c.payloadBudget {
		return domain.Payload{}, fmt.Errorf("instruction and context alone take %d of %d chars: %w",
			base, c.payloadBudget, domain.ErrPayloadTooLarge)
	}

	limit := -1 // unlimited
	if c.historyBudget > 0 {
		limit = c.historyBudget
	}
	if c.payloadBudget > 0 {
		if rem := c.payloadBudget - base; limit < 0 || rem < limit {
			limit = rem
		}
	}
	kept := trimOldest(history, limit)

	payload := domain.Payload{
		System:   c.system,
		Passages: append([]domain.Passage(nil), passages...),
		History:  kept,
		Query:    query,
	}
	return payload, nil
}

// trimOldest drops turns from the front until the remaining ones fit the
// character limit. A negative limit keeps the history unlimited; a zero limit
// drops it entirely.
func trimOldest(history []domain.Turn, limit int) []domain.Turn {
	kept := append([]domain.Turn(nil), history...)
	if limit < 0 {
		return kept
	}
	size := 0
	for _, t := range kept {
		size += len(t.Text)
	}
	for len(kept) > 0 && size > limit {
		size -= len(kept[0].Text)
		kept = kept[1:]
	}
	return kept
}

// Messages renders the payload into the ordered message list a chat
// completion service accepts: the system instruction, the prior turns, then a
// user message carrying the retrieved passages and the question. Rendering is
// deterministic.
func Messages(p domain.Payload) []domain.Message {
	msgs := make([]domain.Message, 0, len(p.History)+2)
	msgs = append(msgs, domain.Message{Role: string(domain.RoleSystem), Content: p.System})
	for _, t := range p.History {
		msgs = append(msgs, domain.Message{Role: string(t.Role), Content: t.Text})
	}
	msgs = append(msgs, domain.Message{Role: string(domain.RoleUser), Content: renderUserMessage(p)})
	return msgs
}

func renderUserMessage(p domain.Payload) string {
	if len(p.Passages) == 0 {
		return "Please answer this question:\n" + p.Query
	}
	var b strings.Builder
	b.WriteString("Based on this context:\n")
	for i, ps := range p.Passages {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, ps.Source, ps.Text)
	}
	b.WriteString("\nPlease answer this question:\n")
	b.WriteString(p.Query)
	return b.String()
}
