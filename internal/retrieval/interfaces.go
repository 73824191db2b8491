package retrieval

import (
	"context"
	"time"
)

// Backend performs one fetch and returns the response envelope.
type Backend interface {
	Fetch(ctx context.Context, request Request) (Envelope, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, request Request) (Envelope, error)

// Fetch implements Backend.
func (f BackendFunc) Fetch(ctx context.Context, request Request) (Envelope, error) {
	return f(ctx, request)
}

// Invalidator drops any stored response for an identity.
type Invalidator interface {
	Invalidate(ctx context.Context, id Identity) error
}

// Verdict is the outcome of soft-failure detection.
type Verdict struct {
	Soft    bool
	Message string
}

// SoftFailureDetector recognises placeholder pages served with a success status.
type SoftFailureDetector interface {
	Detect(body []byte) Verdict
}

// Operator receives soft-failure messages and blocks until a human has acted.
type Operator interface {
	Acknowledge(ctx context.Context, message string) error
}

// CookieSink receives cookies observed on successful responses.
type CookieSink interface {
	Merge(cookies []Cookie)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces retrieval trace ids.
type IDGenerator interface {
	NewID() (string, error)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, Identity) error { return nil }

// NoopInvalidator is used when caching is disabled.
var NoopInvalidator Invalidator = noopInvalidator{}
