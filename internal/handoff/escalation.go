package handoff

import (
	"strings"

	"github.com/linder3hs/livegate/internal/config"
	"github.com/linder3hs/livegate/internal/store"
)

// EscalationDetector decides whether a customer message needs a human.
// It is pure: it never mutates conversation state.
//
// Keyword matching is substring based, not word-boundary based. That makes
// "error" match inside unrelated words too; the behaviour is kept for
// compatibility with existing keyword lists and is a documented limitation.
type EscalationDetector struct {
	keywords  []string
	threshold int
}

// NewEscalationDetector builds a detector from the configured keyword list
// and consecutive-message threshold.
func NewEscalationDetector(cfg config.HandoffConfig) *EscalationDetector {
	keywords := make([]string, 0, len(cfg.EscalationKeywords))
	for _, k := range cfg.EscalationKeywords {
		keywords = append(keywords, strings.ToLower(k))
	}
	return &EscalationDetector{keywords: keywords, threshold: cfg.ConsecutiveThreshold}
}

// ShouldEscalate reports whether the message text or the accumulated
// consecutive-message count calls for a human agent. The consecutive count
// is an implicit frustration signal: a customer who keeps typing without
// resolution gets escalated even without a keyword hit. The message under
// evaluation counts toward the run, so a stored count of threshold-1 plus
// this message triggers.
func (d *EscalationDetector) ShouldEscalate(text string, state *store.ConversationState) bool {
	lower := strings.ToLower(text)
	for _, k := range d.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return state.UserConsecutiveMessages+1 >= d.threshold
}
