// Package toolcall recovers structured function calls from heterogeneous
// vendor event shapes. Two strategies feed the same Accumulator: completed
// items carry full arguments in one event, while delta vendors stream
// argument fragments keyed by a positional index until the stream ends.
package toolcall

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/llmbridge/llmbridge/internal/canonical"
)

// CompletedCall is a function call delivered whole by a completion event.
type CompletedCall struct {
	ID        string
	Name      string
	Arguments string
}

type pending struct {
	id        string
	name      string
	fragments []string

	// set by Complete; completed calls bypass fragment concatenation
	completed bool
	arguments string
}

// Accumulator is per-stream mutable state mapping a tool-call index or id to
// its name and argument fragments. Created at stream start, finalized once,
// then discarded.
type Accumulator struct {
	order  []string
	calls  map[string]*pending
	logger *slog.Logger
}

// NewAccumulator creates an empty accumulator. The logger receives non-fatal
// extraction warnings; nil falls back to the default slog logger.
func NewAccumulator(logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		calls:  make(map[string]*pending),
		logger: logger,
	}
}

// IndexKey converts a positional tool-call index into an accumulator key.
func IndexKey(index int) string {
	return strconv.Itoa(index)
}

// Begin registers a tool call under key. Name and id may arrive on a later
// fragment for delta vendors; non-empty values overwrite empty ones.
func (a *Accumulator) Begin(key, id, name string) {
	c := a.get(key)
	if id != "" {
		c.id = id
	}
	if name != "" {
		c.name = name
	}
}

// AppendArguments adds an argument text fragment to the call under key.
func (a *Accumulator) AppendArguments(key, fragment string) {
	if fragment == "" {
		return
	}
	c := a.get(key)
	c.fragments = append(c.fragments, fragment)
}

// Complete records a fully-delivered call. Duplicate completions for the same
// id are idempotent: last write wins, one entry in the final list.
func (a *Accumulator) Complete(call CompletedCall) {
	key := call.ID
	if key == "" {
		key = call.Name
	}
	c := a.get(key)
	c.id = call.ID
	c.name = call.Name
	c.arguments = call.Arguments
	c.completed = true
}

// Finalize concatenates fragments, validates the argument JSON, and returns
// the canonical tool calls in first-seen order. Malformed argument text
// degrades to an empty object with a logged warning instead of failing the
// response; missing ids get generated ones. The accumulator must not be used
// after Finalize.
func (a *Accumulator) Finalize() []canonical.ToolCall {
	if len(a.order) == 0 {
		return nil
	}

	out := make([]canonical.ToolCall, 0, len(a.order))
	for _, key := range a.order {
		c := a.calls[key]

		args := c.arguments
		if !c.completed {
			for _, f := range c.fragments {
				args += f
			}
		}
		args = normalizeArguments(a.logger, c.name, args)

		id := c.id
		if id == "" {
			id = "call_" + uuid.NewString()
		}

		out = append(out, canonical.ToolCall{
			ID:        id,
			Name:      c.name,
			Arguments: args,
		})
	}
	return out
}

func (a *Accumulator) get(key string) *pending {
	if c, ok := a.calls[key]; ok {
		return c
	}
	c := &pending{}
	a.calls[key] = c
	a.order = append(a.order, key)
	return c
}

// normalizeArguments enforces that arguments are a valid JSON document.
// Zero-argument tools are valid and yield "{}".
func normalizeArguments(logger *slog.Logger, name, args string) string {
	if args == "" {
		return "{}"
	}
	if json.Valid([]byte(args)) {
		return args
	}
	logger.Warn("malformed tool-call arguments, degrading to empty object",
		"tool", name, "bytes", len(args))
	return "{}"
}
