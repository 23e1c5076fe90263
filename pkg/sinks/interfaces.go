package sinks

import "context"

// Sink persists assembled post records downstream (file, HTTP, SQS, etc).
// Write must be safe to call concurrently from multiple workers.
type Sink interface {
	ID() string
	Type() string
	Write(ctx context.Context, evt RecordEvent) error
}
