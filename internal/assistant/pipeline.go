// Package assistant implements the response pipeline: cache-checked
// delegation to the LLM collaborator, optionally grounded in loaded
// documents, with per-user rate limiting. The pipeline always produces a
// reply string; collaborator failures surface as apologies, never errors.
package assistant

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/linder3hs/livegate/internal/cache"
	"github.com/linder3hs/livegate/internal/documents"
	"github.com/linder3hs/livegate/internal/providers"
)

// groundingChunks is how many top-scoring document chunks are packed into
// the grounded persona.
const groundingChunks = 3

// SendFunc delivers a fire-and-forget interim notice to a room.
type SendFunc func(roomID, text string)

// Options configures a Pipeline.
type Options struct {
	Provider    providers.Provider
	Cache       cache.Responses
	Documents   *documents.Store
	Limiter     *RateLimiter
	Notify      SendFunc // interim "processing" notices; nil disables
	CallTimeout time.Duration
	Placeholder bool
}

// Pipeline turns a user query into a reply.
type Pipeline struct {
	provider    providers.Provider
	cache       cache.Responses
	docs        *documents.Store
	limiter     *RateLimiter
	notify      SendFunc
	callTimeout time.Duration
	placeholder bool
}

// New creates a response pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		provider:    opts.Provider,
		cache:       opts.Cache,
		docs:        opts.Documents,
		limiter:     opts.Limiter,
		notify:      opts.Notify,
		callTimeout: opts.CallTimeout,
		placeholder: opts.Placeholder,
	}
	if p.callTimeout <= 0 {
		p.callTimeout = 30 * time.Second
	}
	if p.notify == nil {
		p.notify = func(string, string) {}
	}
	return p
}

// Request is one query for the pipeline.
type Request struct {
	RoomID  string
	UserID  string
	Query   string
	Persona Persona
}

// Respond produces the reply for a request. The result is always user
// presentable: a real answer, a cached answer, an apology, or a rate-limit
// notice.
func (p *Pipeline) Respond(ctx context.Context, req Request) string {
	key := cache.Key(req.Query, req.Persona.System)
	if text, ok := p.cache.Get(ctx, key); ok {
		slog.Debug("response served from cache", "room", req.RoomID, "persona", req.Persona.Name)
		return text
	}

	if p.limiter != nil && !p.limiter.Allow(req.UserID) {
		slog.Info("rate limited", "user", req.UserID, "room", req.RoomID)
		return NoticeRateLimited
	}

	if p.placeholder {
		p.notify(req.RoomID, processingNotices[rand.Intn(len(processingNotices))])
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	text, err := p.provider.Complete(callCtx, req.Persona.System, req.Query)
	if err != nil {
		slog.Warn("provider call failed", "provider", p.provider.Name(), "room", req.RoomID, "error", err)
		return req.Persona.Apology
	}

	if err := p.cache.Set(ctx, key, text); err != nil {
		slog.Debug("cache store failed", "error", err)
	}
	return text
}

// RespondGrounded answers from loaded documents: the top-scoring chunks
// for the query become the persona context. docName narrows the search to
// one document; empty searches all.
func (p *Pipeline) RespondGrounded(ctx context.Context, req Request, docName string) string {
	chunks := p.docs.TopChunks(req.Query, docName, groundingChunks)
	if len(chunks) == 0 {
		return NoticeNoContext
	}

	req.Persona = Grounded(strings.Join(chunks, "\n\n"))
	return p.Respond(ctx, req)
}
