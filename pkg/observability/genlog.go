package observability

import (
	"sync"
	"time"
)

// Generation is one simulated model generation record, in the shape trace
// aggregators ingest.
type Generation struct {
	TraceID       string    `json:"trace_id"`
	TenantID      string    `json:"tenant_id"`
	EventID       string    `json:"event_id"`
	ModelVersion  string    `json:"model_version"`
	PromptVersion int       `json:"prompt_version"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Cost          float64   `json:"cost"`
	CreatedAt     time.Time `json:"created_at"`
}

// GenerationLog is the in-process store of simulated generations.
type GenerationLog struct {
	mu          sync.Mutex
	generations []Generation
}

// NewGenerationLog creates an empty log.
func NewGenerationLog() *GenerationLog {
	return &GenerationLog{}
}

// Log appends one generation record.
func (g *GenerationLog) Log(gen Generation) {
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = time.Now().UTC()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generations = append(g.generations, gen)
}

// All returns a copy of every record.
func (g *GenerationLog) All() []Generation {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Generation, len(g.generations))
	copy(out, g.generations)
	return out
}
