// Package providers implements the LLM collaborator boundary. The gateway
// only needs a single operation: system prompt plus user text in, answer
// text out, with a generic error on any network/auth/quota problem.
package providers

import "context"

// Provider is the language-model collaborator contract.
type Provider interface {
	// Complete sends the user text under the given system prompt and
	// returns the model's answer. Errors carry no structured taxonomy;
	// callers recover by substituting a fixed apology.
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)

	// Name returns the provider identifier for logs (e.g. "deepseek").
	Name() string
}
