// Package handoff implements the conversation ownership state machine for
// live-support rooms: detecting human agents, detecting escalation
// triggers, and deciding whether the assistant may reply in a room.
package handoff

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/linder3hs/livegate/internal/bus"
	"github.com/linder3hs/livegate/internal/config"
)

// Detection methods, in descending priority.
const (
	MethodUsername     = "username"
	MethodNamePattern  = "name_pattern"
	MethodRole         = "role"
	MethodIntroduction = "introduction"
)

// AgentDetection is the result of classifying a sender.
type AgentDetection struct {
	IsAgent    bool    `json:"is_agent"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method,omitempty"`
}

// AgentDetector classifies inbound senders as human support agents.
// Explicit configuration (allow-list) always outranks heuristics, so the
// checks run in a fixed priority order and the first match wins.
type AgentDetector struct {
	usernames    map[string]struct{}
	namePatterns []*regexp.Regexp
	roles        map[string]struct{}
	intros       []*regexp.Regexp
}

// NewAgentDetector compiles the configured detection lists.
func NewAgentDetector(cfg config.HandoffConfig) (*AgentDetector, error) {
	d := &AgentDetector{
		usernames: make(map[string]struct{}, len(cfg.AgentUsernames)),
		roles:     make(map[string]struct{}, len(cfg.AgentRoles)),
	}
	for _, u := range cfg.AgentUsernames {
		d.usernames[strings.ToLower(u)] = struct{}{}
	}
	for _, r := range cfg.AgentRoles {
		d.roles[r] = struct{}{}
	}
	for _, p := range cfg.AgentNamePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("agent name pattern %q: %w", p, err)
		}
		d.namePatterns = append(d.namePatterns, re)
	}
	for _, p := range cfg.AgentIntroPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("agent intro pattern %q: %w", p, err)
		}
		d.intros = append(d.intros, re)
	}
	return d, nil
}

// Detect classifies the sender of msg. The caller is responsible for
// excluding the bot's own identity and for only consulting the detector
// on live-support room messages.
func (d *AgentDetector) Detect(msg bus.InboundMessage) AgentDetection {
	name := msg.Sender.DisplayName

	if _, ok := d.usernames[strings.ToLower(msg.Sender.ID)]; ok {
		return AgentDetection{IsAgent: true, Confidence: 1.0, Method: MethodUsername}
	}
	if _, ok := d.usernames[strings.ToLower(name)]; ok {
		return AgentDetection{IsAgent: true, Confidence: 1.0, Method: MethodUsername}
	}

	for _, re := range d.namePatterns {
		if re.MatchString(name) {
			return AgentDetection{IsAgent: true, Confidence: 0.8, Method: MethodNamePattern}
		}
	}

	for _, role := range msg.Sender.Roles {
		if _, ok := d.roles[role]; ok {
			return AgentDetection{IsAgent: true, Confidence: 0.9, Method: MethodRole}
		}
	}

	for _, re := range d.intros {
		if re.MatchString(msg.Text) {
			return AgentDetection{IsAgent: true, Confidence: 0.7, Method: MethodIntroduction}
		}
	}

	return AgentDetection{}
}
