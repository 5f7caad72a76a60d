// Package chat implements the query orchestrator: the generation loop that
// alternates between the provider and the tool registry until a final
// answer is produced.
//
// One query turn moves through these states:
//
//	awaiting provider → (provider requests tools → tools executed)* → final answer
//
// Tool rounds are bounded. After the bound is reached one last generation
// runs without tools so the provider must synthesize from what it has; a
// provider that still demands tools ends the turn with ErrToolRoundLimit.
// The session is updated only as the final step of a successful turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lectern-ai/lectern/internal/tool"
)

const (
	// DefaultMaxToolRounds bounds tool rounds per query when not configured.
	DefaultMaxToolRounds = 2

	// FallbackResponseMessage is returned when the provider produces an
	// empty final answer.
	FallbackResponseMessage = "I wasn't able to produce an answer to that. Please try rephrasing your question."

	// SearchUnavailableMessage is returned when retrieval failed during the
	// turn and the provider produced nothing usable.
	SearchUnavailableMessage = "The course search is currently unavailable, so I couldn't look that up. Please try again later."
)

// ErrToolRoundLimit indicates the provider kept requesting tools after the
// round bound was reached and the final no-tools synthesis. The session is
// left untouched.
var ErrToolRoundLimit = errors.New("tool round limit exceeded")

// Sessions is the slice of the session store the orchestrator consumes.
type Sessions interface {
	Lock(id uuid.UUID) func()
	Messages(id uuid.UUID) []*ai.Message
	AppendExchange(id uuid.UUID, userText, answerText string)
}

// Config holds the orchestrator dependencies.
type Config struct {
	Genkit   *genkit.Genkit
	Registry *tool.Registry
	Sessions Sessions
	Logger   *slog.Logger

	// ModelName is the provider-qualified model, e.g. "googleai/gemini-2.5-flash".
	ModelName string

	// Tools are the Genkit-registered tool handles exposed to the model.
	Tools []ai.Tool

	// MaxToolRounds bounds tool rounds per query. Default: DefaultMaxToolRounds.
	MaxToolRounds int

	// RateLimiter throttles provider calls. Default: 10 req/s, burst 30.
	RateLimiter *rate.Limiter
}

// validate checks required dependencies.
func (cfg *Config) validate() error {
	if cfg.Genkit == nil {
		return fmt.Errorf("genkit instance is required")
	}
	if cfg.Registry == nil {
		return fmt.Errorf("tool registry is required")
	}
	if cfg.Sessions == nil {
		return fmt.Errorf("session store is required")
	}
	if cfg.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	if cfg.MaxToolRounds < 0 {
		return fmt.Errorf("max tool rounds must not be negative, got %d", cfg.MaxToolRounds)
	}
	return nil
}

// Chat is the query orchestrator.
type Chat struct {
	g             *genkit.Genkit
	registry      *tool.Registry
	sessions      Sessions
	logger        *slog.Logger
	modelName     string
	maxToolRounds int
	rateLimiter   *rate.Limiter

	toolRefs  []ai.ToolRef // cached for ai.WithTools()
	toolNames string       // cached for logging and error results
}

// Answer is the outcome of one query turn.
type Answer struct {
	Text    string        `json:"answer"`
	Sources []tool.Source `json:"sources,omitempty"`
}

// New creates a Chat.
func New(cfg Config) (*Chat, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid chat config: %w", err)
	}

	maxToolRounds := cfg.MaxToolRounds
	if maxToolRounds == 0 {
		maxToolRounds = DefaultMaxToolRounds
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	return &Chat{
		g:             cfg.Genkit,
		registry:      cfg.Registry,
		sessions:      cfg.Sessions,
		logger:        logger,
		modelName:     cfg.ModelName,
		maxToolRounds: maxToolRounds,
		rateLimiter:   rl,
		toolRefs:      toolRefs,
		toolNames:     strings.Join(names, ", "),
	}, nil
}

// Answer runs one query turn for a session.
//
// Provider errors propagate to the caller unmodified; no retry happens at
// this layer. On any error the session history is left exactly as it was.
func (c *Chat) Answer(ctx context.Context, sessionID uuid.UUID, query string) (*Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	// Turns on the same session serialize; distinct sessions proceed in
	// parallel.
	unlock := c.sessions.Lock(sessionID)
	defer unlock()

	messages := append(c.sessions.Messages(sessionID), ai.NewUserMessage(ai.NewTextPart(query)))

	var trace tool.SourceTrace
	degraded := false

	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		withTools := round < c.maxToolRounds
		resp, err := c.generate(ctx, messages, withTools)
		if err != nil {
			return nil, err
		}

		requests := resp.ToolRequests()
		if len(requests) == 0 {
			text := strings.TrimSpace(resp.Text())
			if text == "" {
				c.logger.Warn("model returned empty final response", "session_id", sessionID)
				if degraded {
					text = SearchUnavailableMessage
				} else {
					text = FallbackResponseMessage
				}
			}
			c.sessions.AppendExchange(sessionID, query, text)
			return &Answer{Text: text, Sources: trace.Sources()}, nil
		}

		if !withTools {
			// The no-tools synthesis call still demanded tools.
			return nil, fmt.Errorf("%w: model requested %d tools after %d rounds",
				ErrToolRoundLimit, len(requests), c.maxToolRounds)
		}

		c.logger.Debug("tool round",
			"session_id", sessionID,
			"round", round,
			"requests", len(requests))

		responseParts, wasDegraded := c.executeTools(ctx, requests, &trace)
		degraded = degraded || wasDegraded

		messages = append(messages, resp.Message)
		messages = append(messages, ai.NewMessage(ai.RoleTool, nil, responseParts...))
	}
}

// executeTools dispatches the requested calls in order and builds the tool
// response parts for the next provider call. Unknown tools and execution
// failures become error outputs the model can react to; the degraded flag
// reports whether any execution failure occurred.
func (c *Chat) executeTools(ctx context.Context, requests []*ai.ToolRequest, trace *tool.SourceTrace) ([]*ai.Part, bool) {
	parts := make([]*ai.Part, 0, len(requests))
	degraded := false

	for _, req := range requests {
		var output any

		res, err := c.registry.Dispatch(ctx, req.Name, req.Input)
		switch {
		case errors.Is(err, tool.ErrUnknownTool):
			c.logger.Warn("model requested unknown tool", "tool", req.Name)
			output = map[string]any{
				"error": fmt.Sprintf("unknown tool %q; available tools: %s", req.Name, c.toolNames),
			}
		case err != nil:
			c.logger.Error("tool execution failed", "tool", req.Name, "error", err)
			degraded = true
			output = map[string]any{
				"error": fmt.Sprintf("tool %q failed: the underlying search is unavailable", req.Name),
			}
		default:
			trace.Add(res.Sources...)
			output = res.Text
		}

		parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
			Name:   req.Name,
			Ref:    req.Ref,
			Output: output,
		}))
	}

	return parts, degraded
}

// generate performs one provider call. Tool execution stays disabled even
// when tools are offered: requested calls come back to the orchestrator,
// which dispatches them through the registry.
func (c *Chat) generate(ctx context.Context, messages []*ai.Message, withTools bool) (*ai.ModelResponse, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
	}
	if withTools {
		opts = append(opts,
			ai.WithTools(c.toolRefs...),
			ai.WithReturnToolRequests(true))
	}

	return genkit.Generate(ctx, c.g, opts...)
}
