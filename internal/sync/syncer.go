package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nvdmirror/nvdsync/internal/feed"
	"github.com/nvdmirror/nvdsync/internal/store"
)

// DefaultBaseURL is the feed root used when Config.BaseURL is empty.
const DefaultBaseURL = feed.DefaultBaseURL

// Config holds controller configuration.
type Config struct {
	// BaseURL is the feed root that descriptor and payload names are
	// appended to.
	BaseURL string

	// Logger for sync activity
	Logger *log.Logger
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Logger:  log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Controller runs the two sync phases against a metadata store.
//
// Detect moves shards CURRENT -> STALE when the remote descriptor is newer.
// Fetch moves shards STALE -> CURRENT once their payload is imported. All
// state lives in the store, so a Controller holds nothing between runs and
// any run may be interrupted and restarted.
type Controller struct {
	store       Store
	fetcher     Fetcher
	descriptors DescriptorWriter
	importer    Importer
	baseURL     string
	logger      *log.Logger
}

// New creates a Controller.
//
// The store must be opened and have its schema initialized before passing
// it in. A nil config uses DefaultConfig.
//
// Example:
//
//	st, err := store.Open("db/nvd-metadata.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	arch, err := archive.Open("data")
//	if err != nil {
//	    return err
//	}
//	ctrl, err := sync.New(st, transport.New(nil), arch, arch, nil)
func New(st Store, fetcher Fetcher, descriptors DescriptorWriter, importer Importer, config *Config) (*Controller, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if descriptors == nil {
		return nil, fmt.Errorf("descriptor writer cannot be nil")
	}
	if importer == nil {
		return nil, fmt.Errorf("importer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := config.Logger
	if logger == nil {
		logger = DefaultConfig().Logger
	}

	return &Controller{
		store:       st,
		fetcher:     fetcher,
		descriptors: descriptors,
		importer:    importer,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// Run performs Detect over every CURRENT shard and then Fetch over every
// STALE shard. Fetch starts only after Detect has finished the whole batch,
// so shards found stale late in Detect are fetched in the same run.
//
// Per-shard failures are recorded in the report and never stop the run.
// The returned error is non-nil only for store failures or cancellation;
// the report then covers the work done so far.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	detect, err := c.Detect(ctx)
	report.Detect = detect
	if err != nil {
		return report, err
	}

	fetch, err := c.Fetch(ctx)
	report.Fetch = fetch
	if err != nil {
		return report, err
	}

	return report, nil
}

// Detect fetches the descriptor of every CURRENT shard and marks the shard
// STALE when the remote lastModifiedDate is newer than the stored one.
// PhaseReport.Changed is the number of shards newly marked stale.
func (c *Controller) Detect(ctx context.Context) (*PhaseReport, error) {
	start := time.Now()
	report := &PhaseReport{Phase: PhaseDetect}
	defer func() { report.Duration = time.Since(start) }()

	names, err := c.store.ListContext(ctx, store.Current)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrStore, err)
	}
	report.Targets = len(names)
	c.logger.Printf("Number of shards to check: %d", len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		changed, err := c.detectShard(ctx, name)
		switch {
		case err == nil && changed:
			report.Changed++
		case err == nil:
			report.Unchanged++
		case ctx.Err() != nil:
			return report, ctx.Err()
		case IsShardError(err):
			c.logger.Printf("Skipping %s: %v", name, err)
			report.fail(name, err)
		default:
			return report, err
		}
	}

	c.logger.Printf("Detect complete: checked=%d, stale=%d, unchanged=%d, skipped=%d",
		report.Targets, report.Changed, report.Unchanged, len(report.Failures))
	return report, nil
}

// detectShard checks one shard. It returns true if the shard was marked
// stale. Errors wrapping ErrStore abort the run.
func (c *Controller) detectShard(ctx context.Context, name string) (bool, error) {
	raw, err := c.fetcher.Fetch(ctx, feed.DescriptorURL(c.baseURL, name))
	if err != nil {
		return false, fmt.Errorf("failed to fetch descriptor: %w", err)
	}

	desc, err := feed.ParseDescriptor(name, raw)
	if err != nil {
		return false, err
	}

	stored, err := c.store.GetLastModifiedContext(ctx, name)
	if err != nil {
		return false, storeError(err)
	}

	stale, err := feed.IsStale(desc.LastModified, stored)
	if err != nil {
		return false, err
	}
	if !stale {
		if err := c.store.TouchCheckedContext(ctx, name); err != nil {
			return false, storeError(err)
		}
		return false, nil
	}

	c.logger.Printf("%s needs update (%s -> %s)", name,
		feed.FormatTimestamp(stored), feed.FormatTimestamp(desc.LastModified))

	// The descriptor is saved before the state flips so a crash in between
	// leaves the shard CURRENT and it is simply detected again.
	if err := c.descriptors.WriteDescriptor(name, desc.Raw); err != nil {
		return false, fmt.Errorf("%w: %w", ErrDescriptorWrite, err)
	}

	if err := c.store.MarkStaleWithContext(ctx, desc); err != nil {
		return false, storeError(err)
	}
	return true, nil
}

// Fetch downloads the payload of every STALE shard, hands it to the
// importer, and marks the shard CURRENT once the import succeeds.
// PhaseReport.Changed is the number of shards imported.
func (c *Controller) Fetch(ctx context.Context) (*PhaseReport, error) {
	start := time.Now()
	report := &PhaseReport{Phase: PhaseFetch}
	defer func() { report.Duration = time.Since(start) }()

	names, err := c.store.ListContext(ctx, store.Stale)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrStore, err)
	}
	report.Targets = len(names)
	c.logger.Printf("Number of shards to fetch: %d", len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		err := c.fetchShard(ctx, name)
		switch {
		case err == nil:
			report.Changed++
		case ctx.Err() != nil:
			return report, ctx.Err()
		case IsShardError(err):
			c.logger.Printf("Skipping %s: %v", name, err)
			report.fail(name, err)
		default:
			return report, err
		}
	}

	c.logger.Printf("Fetch complete: stale=%d, imported=%d, skipped=%d",
		report.Targets, report.Changed, len(report.Failures))
	return report, nil
}

func (c *Controller) fetchShard(ctx context.Context, name string) error {
	payload, err := c.fetcher.Fetch(ctx, feed.PayloadURL(c.baseURL, name))
	if err != nil {
		return fmt.Errorf("failed to fetch payload: %w", err)
	}

	if err := c.importer.Import(ctx, name, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrImport, err)
	}

	if err := c.store.MarkCurrentContext(ctx, name); err != nil {
		return storeError(err)
	}

	c.logger.Printf("Imported %s (%d bytes)", name, len(payload))
	return nil
}

// storeError passes shard-scoped store errors through and marks everything
// else as fatal to the run.
func storeError(err error) error {
	if store.IsShardError(err) || errors.Is(err, feed.ErrClockSkew) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}
