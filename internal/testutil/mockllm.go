// Package testutil provides shared testing utilities: a scripted provider
// model, a deterministic embedder, and a PostgreSQL test container.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// ScriptedLLM plays back a fixed sequence of provider responses, one per
// generate call, and records every request it sees. It drives orchestrator
// tests: a script like [tool request, final answer] exercises one full tool
// round without a real provider.
//
// Thread-safe for concurrent use.
type ScriptedLLM struct {
	mu    sync.Mutex
	steps []Step
	next  int
	calls []*ai.ModelRequest
}

// Step is one scripted provider response.
type Step struct {
	Text  string            // response text
	Tools []*ai.ToolRequest // tool calls to request (nil = text only)
	Err   error             // returned instead of a response when set
}

// TextStep scripts a plain final-answer response.
func TextStep(text string) Step {
	return Step{Text: text}
}

// ToolStep scripts a response requesting a single tool call.
func ToolStep(ref, name string, input map[string]any) Step {
	return Step{Tools: []*ai.ToolRequest{{Ref: ref, Name: name, Input: input}}}
}

// ErrStep scripts a provider failure.
func ErrStep(err error) Step {
	return Step{Err: err}
}

// NewScriptedLLM creates a scripted model that will play steps in order.
func NewScriptedLLM(steps ...Step) *ScriptedLLM {
	return &ScriptedLLM{steps: steps}
}

// Enqueue appends further steps to the script.
func (m *ScriptedLLM) Enqueue(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Requests returns a copy of all recorded model requests, in call order.
func (m *ScriptedLLM) Requests() []*ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*ai.ModelRequest, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// CallCount reports how many generate calls the model has served.
func (m *ScriptedLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ScriptedModelName is the provider-qualified name of the scripted model.
const ScriptedModelName = "mock/scripted-model"

// RegisterModel registers the scripted model with Genkit.
func (m *ScriptedLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, ScriptedModelName, &ai.ModelOptions{
		Label: "Scripted Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

// generate pops the next scripted step.
func (m *ScriptedLLM) generate(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	if m.next >= len(m.steps) {
		n := m.next
		m.mu.Unlock()
		return nil, fmt.Errorf("scripted model exhausted after %d steps", n)
	}
	step := m.steps[m.next]
	m.next++
	m.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}

	var parts []*ai.Part
	for _, tr := range step.Tools {
		parts = append(parts, &ai.Part{
			Kind:        ai.PartToolRequest,
			ToolRequest: tr,
		})
	}
	if step.Text != "" || len(parts) == 0 {
		parts = append(parts, ai.NewTextPart(step.Text))
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: parts,
		},
	}, nil
}

// MockEmbedder provides deterministic embedding vectors for testing.
//
// By default it generates a vector from content using SHA-256; explicit
// mappings can be added for precise cosine similarity control.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewMockEmbedder creates a mock embedder with the given vector dimensions.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector registers an explicit vector for a given content string.
// Use this to control exact cosine similarity between test inputs.
func (e *MockEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// RegisterEmbedder registers the mock as a Genkit embedder named
// "mock/test-embedder".
func (e *MockEmbedder) RegisterEmbedder(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "mock/test-embedder", &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *MockEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{
			Embedding: e.vectorFor(documentText(doc)),
		}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *MockEmbedder) vectorFor(content string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[content]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	return deterministicVector(content, e.dim)
}

// documentText extracts all text content from a Document's parts.
func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// deterministicVector generates a normalized vector from content using
// SHA-256. The same content always produces the same vector.
func deterministicVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)

	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}
