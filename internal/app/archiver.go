package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/config"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/domain"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/logger"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/scheduler"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/storage"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/thread"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/bsky"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/paginator"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/seeds"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/sinks"
)

// Archiver is the harvester runtime: it discovers posts from configured
// seeds, hydrates each one's comment tree through the worker pool, and fans
// the assembled records out to the configured sinks.
type Archiver struct {
	cfg      *config.Config
	seedReg  *seeds.Registry
	discReg  seeds.DiscovererRegistry
	fanout   *sinks.Fanout
	pool     *scheduler.Pool
	store    storage.Store
	log      logger.Logger
}

// NewArchiver builds an archiver runtime from config files. Credential and
// sink setup problems surface here, before any task is dispatched.
func NewArchiver(ctx context.Context, cfg *config.Config, log logger.Logger) (*Archiver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	seedReg, err := seeds.LoadRegistry(cfg.SeedsFile)
	if err != nil {
		return nil, fmt.Errorf("load seeds registry: %w", err)
	}
	seedList := seedReg.All()
	seedIDs := make([]string, 0, len(seedList))
	for _, s := range seedList {
		seedIDs = append(seedIDs, s.ID)
	}
	log.InfoObj("seeds registry loaded", "seeds_meta", map[string]any{
		"count": len(seedIDs),
		"ids":   seedIDs,
	})

	sinkReg, err := sinks.LoadRegistry(cfg.SinksFile)
	if err != nil {
		return nil, fmt.Errorf("load sinks registry: %w", err)
	}
	enabledSinks := sinkReg.Enabled()
	if len(enabledSinks) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}

	sinkClients, err := sinks.BuildAll(ctx, sinks.DefaultRegistry(), enabledSinks, log)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}
	fanout := sinks.NewFanout(sinkClients)
	sinkSummaries := make([]map[string]string, 0, len(enabledSinks))
	for _, sinkCfg := range enabledSinks {
		sinkSummaries = append(sinkSummaries, map[string]string{
			"id":   sinkCfg.ID,
			"type": sinkCfg.Type,
		})
	}
	log.InfoObj("sinks registry loaded", "sinks_meta", map[string]any{
		"count": len(sinkSummaries),
		"sinks": sinkSummaries,
	})

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.InfoObj("transport ready", "transport_mode", string(transport.Mode()))

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		PostTTL: cfg.StorageTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	backoff := paginator.Backoff{
		BaseDelay:  cfg.Backoff.BaseDelay,
		MaxRetries: cfg.Backoff.MaxRetries,
		Jitter:     cfg.Backoff.Jitter,
	}
	fetcher := thread.NewFetcher(transport, thread.Options{
		MaxTopLevel: cfg.MaxTopLevelComments,
		MaxDepth:    cfg.MaxDepth,
		MaxReplies:  cfg.MaxRepliesPerComment,
		PageLimit:   cfg.PageLimit,
		Backoff:     backoff,
	}, log)

	return &Archiver{
		cfg:     cfg,
		seedReg: seedReg,
		discReg: seeds.NewRegistry(transport, seeds.Options{
			PageLimit: cfg.PageLimit,
			Backoff:   backoff,
		}),
		fanout: fanout,
		pool:   scheduler.NewPool(fetcher.Fetch, cfg.Concurrency, log),
		store:  store,
		log:    log,
	}, nil
}

// newTransport selects the transport variant for the whole run.
func newTransport(ctx context.Context, cfg *config.Config) (bsky.Transport, error) {
	switch cfg.AuthMode {
	case config.AuthModeAuthenticated:
		tr := bsky.NewSessionTransport(nil, bsky.StaticCredentials{
			Identifier:  cfg.BskyIdentifier,
			AppPassword: cfg.BskyPassword,
		}, cfg.RequestTimeout)
		if err := tr.Connect(ctx); err != nil {
			return nil, fmt.Errorf("open bsky session: %w", err)
		}
		return tr, nil
	default:
		return bsky.NewAnonymousTransport(nil, cfg.RequestTimeout), nil
	}
}

// Run executes one archive pass over all configured seeds.
func (a *Archiver) Run(ctx context.Context) error {
	if a == nil || a.pool == nil {
		return fmt.Errorf("archiver is not initialized")
	}
	defer a.close()

	seedList := a.seedReg.All()
	if len(seedList) == 0 {
		a.log.WarnObj("no seeds configured; nothing to archive", "seeds_file", a.cfg.SeedsFile)
		return nil
	}

	runID := uuid.NewString()
	start := time.Now()
	a.log.InfoObj("archive run starting", "run_meta", map[string]any{
		"run_id":      runID,
		"seeds_count": len(seedList),
		"concurrency": a.cfg.Concurrency,
		"sinks_count": a.fanout.Size(),
	})

	var errs []error
	for _, seed := range seedList {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := a.runSeed(ctx, runID, seed); err != nil {
			errs = append(errs, err)
			a.log.ErrorObj("seed archive failed", "seed_error", map[string]any{
				"seed_id": seed.ID,
				"error":   err.Error(),
			})
		}
	}

	a.log.InfoObj("archive run completed", "run_meta", map[string]any{
		"run_id":     runID,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return errors.Join(errs...)
}

// runSeed discovers one seed's posts and archives their comment trees.
func (a *Archiver) runSeed(ctx context.Context, runID string, seed seeds.Seed) error {
	discoverer, err := a.discReg.DiscovererFor(seed)
	if err != nil {
		return fmt.Errorf("resolve discoverer for seed %s: %w", seed.ID, err)
	}

	stubs, err := discoverer.Discover(ctx, seed)
	if err != nil {
		return fmt.Errorf("discover seed %s: %w", seed.ID, err)
	}
	stubs = a.filterSeen(stubs)
	if len(stubs) == 0 {
		a.log.InfoObj("seed produced no new posts", "seed_id", seed.ID)
		return nil
	}

	results := a.pool.RunBatch(ctx, stubs)
	results = scheduler.SortByInput(stubs, results)

	archived, failed := 0, 0
	var errs []error
	for _, res := range results {
		if res.Err != nil || res.Record == nil {
			failed++
			continue
		}
		evt := sinks.NewRecordEvent(runID, seed.ID, *res.Record)
		if _, err := a.fanout.Write(ctx, evt); err != nil {
			failed++
			errs = append(errs, fmt.Errorf("write record %s: %w", res.Stub.URI, err))
			continue
		}
		if err := a.store.MarkPost(res.Stub.URI); err != nil {
			a.log.WarnObj("mark post failed", "storage_error", map[string]any{
				"post_uri": res.Stub.URI,
				"error":    err.Error(),
			})
		}
		archived++
	}

	a.log.InfoObj("seed archive completed", "seed_result", map[string]any{
		"seed_id":    seed.ID,
		"discovered": len(stubs),
		"archived":   archived,
		"failed":     failed,
	})
	return errors.Join(errs...)
}

// filterSeen drops stubs already archived within the retention window.
func (a *Archiver) filterSeen(stubs []domain.PostStub) []domain.PostStub {
	out := stubs[:0:len(stubs)]
	for _, stub := range stubs {
		seen, err := a.store.SeenPost(stub.URI)
		if err != nil {
			a.log.WarnObj("seen lookup failed", "storage_error", map[string]any{
				"post_uri": stub.URI,
				"error":    err.Error(),
			})
		}
		if !seen {
			out = append(out, stub)
		}
	}
	return out
}

// close releases the storage backend and sink resources.
func (a *Archiver) close() {
	if a == nil {
		return
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.ErrorObj("storage close failed", "error", err)
		}
	}
	if a.fanout != nil {
		if err := a.fanout.Close(); err != nil {
			a.log.ErrorObj("sink close failed", "error", err)
		}
	}
}
