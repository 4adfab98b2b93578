// Package pushtest provides a scripted push.Gateway for tests.
package pushtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/danoggin/notify/internal/push"
)

// Gateway records every message and fails tokens listed in Errors.
type Gateway struct {
	mu sync.Mutex

	// Errors maps a token to the error Send and DryRun return for it.
	Errors map[string]error

	sent    []push.Message
	dryRuns []string
}

// New returns a gateway that succeeds for every token.
func New() *Gateway {
	return &Gateway{Errors: make(map[string]error)}
}

// Fail makes every call for token return a gateway error with code.
func (g *Gateway) Fail(token, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Errors[token] = &push.Error{Code: code, Message: "scripted failure"}
}

func (g *Gateway) Send(_ context.Context, msg push.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	if err := g.Errors[msg.Token]; err != nil {
		return "", err
	}
	return fmt.Sprintf("projects/test/messages/%d", len(g.sent)), nil
}

func (g *Gateway) DryRun(_ context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dryRuns = append(g.dryRuns, token)
	return g.Errors[token]
}

// Sent returns a copy of every message passed to Send.
func (g *Gateway) Sent() []push.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]push.Message(nil), g.sent...)
}

// DryRuns returns the tokens passed to DryRun, in call order.
func (g *Gateway) DryRuns() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.dryRuns...)
}
