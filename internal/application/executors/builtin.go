package executors

import (
	"context"
	"fmt"
	"time"
)

// Passthrough merges run inputs, upstream outputs and the optional "values"
// config map into its outputs. Later sources win on key collisions.
type Passthrough struct{}

// Execute merges run inputs, upstream outputs and config "values", later sources winning
func (Passthrough) Execute(ctx context.Context, req *Request) (*Result, error) {
	out := make(map[string]any, len(req.Inputs))
	for k, v := range req.Inputs {
		out[k] = v
	}
	for _, upstream := range req.Upstream {
		for k, v := range upstream {
			out[k] = v
		}
	}
	if values, ok := req.Config["values"].(map[string]any); ok {
		for k, v := range values {
			out[k] = v
		}
	}
	return &Result{Outputs: out}, nil
}

// Delay waits for config "duration" (a Go duration string) before passing
// its inputs through. It honours cancellation.
type Delay struct{}

// Execute waits for the configured duration or until ctx is done
func (Delay) Execute(ctx context.Context, req *Request) (*Result, error) {
	raw, _ := req.Config["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid delay duration %q: %w", raw, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return Passthrough{}.Execute(ctx, req)
}

// RegisterBuiltins registers the executors that need no external services.
func RegisterBuiltins(r *Registry) {
	r.Register("passthrough", Passthrough{})
	r.Register("delay", Delay{})
}
