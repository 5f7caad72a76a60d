package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/chat"
	"github.com/lectern-ai/lectern/internal/log"
	"github.com/lectern-ai/lectern/internal/session"
	"github.com/lectern-ai/lectern/internal/testutil"
	"github.com/lectern-ai/lectern/internal/tool"
)

// recordingTool is a scriptable tool.Tool that records received arguments.
type recordingTool struct {
	name   string
	result *tool.Result
	err    error
	calls  []json.RawMessage
}

func (r *recordingTool) Name() string        { return r.name }
func (r *recordingTool) Description() string { return "test tool" }
func (r *recordingTool) Call(_ context.Context, input json.RawMessage) (*tool.Result, error) {
	r.calls = append(r.calls, input)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

// fixture wires a Chat against a scripted provider and real stores.
type fixture struct {
	chat     *chat.Chat
	llm      *testutil.ScriptedLLM
	sessions *session.Store
	search   *recordingTool
	outline  *recordingTool
}

func setup(t *testing.T, maxHistory int, steps ...testutil.Step) *fixture {
	t.Helper()

	g := genkit.Init(context.Background())

	llm := testutil.NewScriptedLLM(steps...)
	llm.RegisterModel(g)

	search := &recordingTool{
		name: tool.SearchToolName,
		result: &tool.Result{
			Text: "[Go Basics - Lesson 2]\nGoroutines multiplex onto OS threads.",
			Sources: []tool.Source{
				{Label: "Go Basics - Lesson 2", Link: "https://example.com/go/2"},
			},
		},
	}
	outline := &recordingTool{
		name: tool.OutlineToolName,
		result: &tool.Result{
			Text:    "Course: Go Basics\nLessons (2):\n1. Syntax\n2. Concurrency\n",
			Sources: []tool.Source{{Label: "Go Basics", Link: "https://example.com/go"}},
		},
	}

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(search))
	require.NoError(t, registry.Register(outline))

	sessions, err := session.NewStore(maxHistory, log.NewNop())
	require.NoError(t, err)

	c, err := chat.New(chat.Config{
		Genkit:        g,
		Registry:      registry,
		Sessions:      sessions,
		Logger:        log.NewNop(),
		ModelName:     testutil.ScriptedModelName,
		MaxToolRounds: 2,
	})
	require.NoError(t, err)

	return &fixture{chat: c, llm: llm, sessions: sessions, search: search, outline: outline}
}

func TestAnswerDirectResponse(t *testing.T) {
	f := setup(t, 2, testutil.TextStep("Go is a programming language."))
	id := f.sessions.NewID()

	ans, err := f.chat.Answer(context.Background(), id, "What is Go?")
	require.NoError(t, err)

	assert.Equal(t, "Go is a programming language.", ans.Text)
	assert.Empty(t, ans.Sources)
	assert.Empty(t, f.search.calls, "no tool should run for a direct answer")
	assert.Equal(t, 2, f.sessions.Len(id), "exchange should be recorded")
}

func TestAnswerContentSearchRound(t *testing.T) {
	f := setup(t, 2,
		testutil.ToolStep("r1", tool.SearchToolName, map[string]any{
			"query":        "goroutines",
			"course_title": "Go Basics",
		}),
		testutil.TextStep("Goroutines are multiplexed onto OS threads."),
	)
	id := f.sessions.NewID()

	ans, err := f.chat.Answer(context.Background(), id, "How do goroutines work in Go Basics?")
	require.NoError(t, err)

	assert.Equal(t, "Goroutines are multiplexed onto OS threads.", ans.Text)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, tool.Source{Label: "Go Basics - Lesson 2", Link: "https://example.com/go/2"}, ans.Sources[0])

	// The registry dispatched the call with the provider's arguments.
	require.Len(t, f.search.calls, 1)
	var args map[string]string
	require.NoError(t, json.Unmarshal(f.search.calls[0], &args))
	assert.Equal(t, "goroutines", args["query"])
	assert.Equal(t, "Go Basics", args["course_title"])

	// Second provider call carries the tool exchange.
	reqs := f.llm.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, ai.RoleTool, last.Role)

	assert.Equal(t, 2, f.sessions.Len(id))
}

func TestAnswerOutlineRound(t *testing.T) {
	f := setup(t, 2,
		testutil.ToolStep("r1", tool.OutlineToolName, map[string]any{"course_title": "Go"}),
		testutil.TextStep("Go Basics has two lessons: Syntax and Concurrency."),
	)
	id := f.sessions.NewID()

	ans, err := f.chat.Answer(context.Background(), id, "What does the Go course cover?")
	require.NoError(t, err)

	require.Len(t, f.outline.calls, 1)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "Go Basics", ans.Sources[0].Label)
}

func TestAnswerTwoSequentialRounds(t *testing.T) {
	f := setup(t, 2,
		testutil.ToolStep("r1", tool.OutlineToolName, map[string]any{"course_title": "Go"}),
		testutil.ToolStep("r2", tool.SearchToolName, map[string]any{"query": "concurrency"}),
		testutil.TextStep("Lesson 2 covers concurrency in depth."),
	)
	id := f.sessions.NewID()

	ans, err := f.chat.Answer(context.Background(), id, "Which lesson covers concurrency?")
	require.NoError(t, err)

	assert.Equal(t, "Lesson 2 covers concurrency in depth.", ans.Text)
	require.Len(t, f.outline.calls, 1)
	require.Len(t, f.search.calls, 1)
	// Sources accumulate across rounds in call order.
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, "Go Basics", ans.Sources[0].Label)
	assert.Equal(t, "Go Basics - Lesson 2", ans.Sources[1].Label)
	assert.Equal(t, 3, f.llm.CallCount())
}

func TestAnswerHistoryWindow(t *testing.T) {
	const maxHistory = 1
	f := setup(t, maxHistory,
		testutil.TextStep("first answer"),
		testutil.TextStep("second answer"),
		testutil.TextStep("third answer"),
	)
	id := f.sessions.NewID()
	ctx := context.Background()

	for _, q := range []string{"first question", "second question", "third question"} {
		_, err := f.chat.Answer(ctx, id, q)
		require.NoError(t, err)
	}

	reqs := f.llm.Requests()
	require.Len(t, reqs, 3)

	// Third turn: history holds only the second exchange plus the new query.
	var texts []string
	for _, m := range reqs[2].Messages {
		texts = append(texts, m.Text())
	}
	joined := strings.Join(texts, "\n")
	assert.NotContains(t, joined, "first question", "oldest exchange must be evicted")
	assert.Contains(t, joined, "second question")
	assert.Contains(t, joined, "second answer")
	assert.Contains(t, joined, "third question")
	require.Len(t, reqs[2].Messages, 3)
}

func TestAnswerUnknownToolRecovery(t *testing.T) {
	f := setup(t, 2,
		testutil.ToolStep("r1", "delete_course", map[string]any{"course_title": "Go"}),
		testutil.TextStep("I can't do that, but I can search course content."),
	)
	id := f.sessions.NewID()

	ans, err := f.chat.Answer(context.Background(), id, "Delete the Go course")
	require.NoError(t, err, "unknown tool must be conversational, not fatal")
	assert.Contains(t, ans.Text, "can't do that")

	// The model saw an error tool result naming the available tools.
	reqs := f.llm.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Equal(t, ai.RoleTool, last.Role)
	found := false
	for _, p := range last.Content {
		if p.ToolResponse == nil {
			continue
		}
		out, ok := p.ToolResponse.Output.(map[string]any)
		if !ok {
			continue
		}
		msg, _ := out["error"].(string)
		if strings.Contains(msg, `unknown tool "delete_course"`) &&
			strings.Contains(msg, tool.SearchToolName) {
			found = true
		}
	}
	assert.True(t, found, "tool response should carry the unknown-tool error")
}

func TestAnswerToolRoundLimit(t *testing.T) {
	persist := func(ref string) testutil.Step {
		return testutil.ToolStep(ref, tool.SearchToolName, map[string]any{"query": "more"})
	}
	// Two allowed rounds, then the no-tools synthesis call also demands a
	// tool: the turn fails.
	f := setup(t, 2, persist("r1"), persist("r2"), persist("r3"))
	id := f.sessions.NewID()

	_, err := f.chat.Answer(context.Background(), id, "keep searching forever")
	require.ErrorIs(t, err, chat.ErrToolRoundLimit)

	assert.Equal(t, 3, f.llm.CallCount())
	assert.Equal(t, 0, f.sessions.Len(id), "failed turn must not touch the session")
}

func TestAnswerProviderErrorPropagates(t *testing.T) {
	boom := errors.New("provider quota exceeded")
	f := setup(t, 2, testutil.ErrStep(boom))
	id := f.sessions.NewID()

	_, err := f.chat.Answer(context.Background(), id, "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider quota exceeded")
	assert.Equal(t, 0, f.sessions.Len(id))
}

func TestAnswerDegradedSearch(t *testing.T) {
	f := setup(t, 2,
		testutil.ToolStep("r1", tool.SearchToolName, map[string]any{"query": "anything"}),
		testutil.TextStep(""),
	)
	f.search.err = errors.New("connection refused")
	id := f.sessions.NewID()

	ans, err := f.chat.Answer(context.Background(), id, "What does lesson 1 cover?")
	require.NoError(t, err)
	assert.Equal(t, chat.SearchUnavailableMessage, ans.Text)
	assert.Empty(t, ans.Sources)
}

func TestAnswerEmptyFinalTextFallback(t *testing.T) {
	f := setup(t, 2, testutil.TextStep(""))
	id := f.sessions.NewID()

	ans, err := f.chat.Answer(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.Equal(t, chat.FallbackResponseMessage, ans.Text)
}

func TestAnswerEmptyQuery(t *testing.T) {
	f := setup(t, 2)
	_, err := f.chat.Answer(context.Background(), f.sessions.NewID(), "   ")
	require.Error(t, err)
	assert.Equal(t, 0, f.llm.CallCount())
}

func TestAnswerContextCancelled(t *testing.T) {
	f := setup(t, 2, testutil.TextStep("never used"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.chat.Answer(ctx, f.sessions.NewID(), "anything")
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnswerSessionsIsolated(t *testing.T) {
	f := setup(t, 2,
		testutil.TextStep("answer for a"),
		testutil.TextStep("answer for b"),
	)
	a, b := f.sessions.NewID(), f.sessions.NewID()
	ctx := context.Background()

	_, err := f.chat.Answer(ctx, a, "question a")
	require.NoError(t, err)
	_, err = f.chat.Answer(ctx, b, "question b")
	require.NoError(t, err)

	// Session b's prompt must not carry session a's exchange.
	reqs := f.llm.Requests()
	require.Len(t, reqs, 2)
	var texts []string
	for _, m := range reqs[1].Messages {
		texts = append(texts, m.Text())
	}
	assert.NotContains(t, strings.Join(texts, "\n"), "question a")
}

func TestNewValidation(t *testing.T) {
	g := genkit.Init(context.Background())
	sessions, err := session.NewStore(2, log.NewNop())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*chat.Config)
	}{
		{"missing genkit", func(c *chat.Config) { c.Genkit = nil }},
		{"missing registry", func(c *chat.Config) { c.Registry = nil }},
		{"missing sessions", func(c *chat.Config) { c.Sessions = nil }},
		{"missing model", func(c *chat.Config) { c.ModelName = "" }},
		{"negative rounds", func(c *chat.Config) { c.MaxToolRounds = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := chat.Config{
				Genkit:    g,
				Registry:  tool.NewRegistry(),
				Sessions:  sessions,
				ModelName: fmt.Sprintf("mock/m-%s", tt.name),
			}
			tt.mutate(&cfg)
			_, err := chat.New(cfg)
			require.Error(t, err)
		})
	}
}
