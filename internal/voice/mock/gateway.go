package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/dialq/internal/voice"
)

// Gateway satisfies voice.Gateway for testing and local development.
// Every request is recorded; PlaceCallFunc overrides the default behaviour.
type Gateway struct {
	Name_         string
	PlaceCallFunc func(ctx context.Context, req voice.CallRequest) (string, error)

	mu    sync.Mutex
	calls []voice.CallRequest
	seq   int
}

func (g *Gateway) Name() string { return g.Name_ }

func (g *Gateway) PlaceCall(ctx context.Context, req voice.CallRequest) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.seq++
	n := g.seq
	g.mu.Unlock()

	if g.PlaceCallFunc != nil {
		return g.PlaceCallFunc(ctx, req)
	}
	return fmt.Sprintf("mock-conv-%d", n), nil
}

// Calls returns a copy of every request received so far.
func (g *Gateway) Calls() []voice.CallRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]voice.CallRequest, len(g.calls))
	copy(out, g.calls)
	return out
}

// NewGateway returns a Gateway that accepts every call and hands out
// sequential conversation ids.
func NewGateway() *Gateway {
	return &Gateway{Name_: "mock"}
}

// NewFailingGateway returns a Gateway that always returns the given error.
func NewFailingGateway(err error) *Gateway {
	return &Gateway{
		Name_: "mock-failing",
		PlaceCallFunc: func(_ context.Context, _ voice.CallRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutGateway returns a Gateway that blocks until context is cancelled.
func NewTimeoutGateway() *Gateway {
	return &Gateway{
		Name_: "mock-timeout",
		PlaceCallFunc: func(ctx context.Context, _ voice.CallRequest) (string, error) {
			<-ctx.Done()
			return "", voice.ErrProviderTimeout
		},
	}
}

// Compile-time check that Gateway implements voice.Gateway.
var _ voice.Gateway = (*Gateway)(nil)
