package completion

import (
	"context"
	"sync"
)

// ScriptStep is one scripted provider turn: either a canned response or an
// error to return.
type ScriptStep struct {
	Response *Response
	Err      error
}

// ScriptProvider replays a fixed sequence of responses. It backs tests and
// the offline demo mode, where conversations must be deterministic.
type ScriptProvider struct {
	mu       sync.Mutex
	steps    []ScriptStep
	pos      int
	requests []Request
}

// NewScriptProvider returns a provider that plays back steps in order.
func NewScriptProvider(steps ...ScriptStep) *ScriptProvider {
	return &ScriptProvider{steps: steps}
}

// Complete returns the next scripted step. Past the end of the script it
// returns a terminal text response, so over-long conversations end rather
// than panic.
func (p *ScriptProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if p.pos >= len(p.steps) {
		return &Response{Text: "I have nothing further to add.", TokensUsed: 8}, nil
	}
	step := p.steps[p.pos]
	p.pos++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Requests returns a copy of every request seen so far.
func (p *ScriptProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Calls returns how many completions were requested.
func (p *ScriptProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
