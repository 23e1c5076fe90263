package seeds

import (
	"context"

	"github.com/nilakash-hq/nilakash-thread-harvester/internal/domain"
)

// Discoverer turns one seed config into the initial list of post stubs.
// Concrete implementations live in discover.go, one per discovery mode.
type Discoverer interface {
	Type() string
	Discover(ctx context.Context, cfg Seed) ([]domain.PostStub, error)
}

// DiscovererRegistry resolves the discoverer implementation for a seed config.
type DiscovererRegistry interface {
	DiscovererFor(cfg Seed) (Discoverer, error)
}
