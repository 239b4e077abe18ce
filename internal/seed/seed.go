// Package seed creates the initial shard records in the metadata store.
//
// Records are never created by the sync controller. A fresh database is
// populated either from descriptors already on disk (FromArchive) or by
// downloading the descriptors of named shards (FromRemote). Seeding only
// inserts; a shard that already has a record keeps it untouched.
package seed

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/nvdmirror/nvdsync/internal/feed"
	"github.com/nvdmirror/nvdsync/internal/store"
)

// Store is the part of the metadata store used for seeding.
type Store interface {
	InsertContext(ctx context.Context, shard *store.Shard) (bool, error)
}

// Archive reads and writes local descriptor files.
type Archive interface {
	ReadDescriptors() ([]*feed.Descriptor, []error, error)
	WriteDescriptor(name string, raw []byte) error
}

// Fetcher downloads a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures a Seeder.
type Options struct {
	BaseURL string      // Feed root for FromRemote
	DryRun  bool        // Report what would be inserted without writing
	Logger  *log.Logger // Defaults to stderr with a [seed] prefix
}

// Result contains statistics about a seeding run.
type Result struct {
	Inserted int
	Existing int
	Failed   []string
}

// Seeder inserts CURRENT records for shards.
type Seeder struct {
	store   Store
	archive Archive
	fetcher Fetcher
	opts    Options
	logger  *log.Logger
}

// New creates a Seeder. fetcher may be nil when only FromArchive is used.
func New(st Store, archive Archive, fetcher Fetcher, opts Options) *Seeder {
	if opts.BaseURL == "" {
		opts.BaseURL = feed.DefaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[seed] ", log.LstdFlags)
	}
	return &Seeder{
		store:   st,
		archive: archive,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
	}
}

// FromArchive inserts a record for every descriptor in the archive.
// Unreadable descriptor files are listed in Result.Failed.
func (s *Seeder) FromArchive(ctx context.Context) (*Result, error) {
	descriptors, errs, err := s.archive.ReadDescriptors()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, err := range errs {
		s.logger.Printf("Skipping descriptor: %v", err)
		result.Failed = append(result.Failed, err.Error())
	}

	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.insert(ctx, d, result); err != nil {
			return result, err
		}
	}

	s.logger.Printf("Seeded from archive: inserted=%d, existing=%d, failed=%d",
		result.Inserted, result.Existing, len(result.Failed))
	return result, nil
}

// FromRemote downloads the descriptor of each named shard, saves it to the
// archive, and inserts a record. Transport and parse failures skip the
// shard; store failures abort.
func (s *Seeder) FromRemote(ctx context.Context, names []string) (*Result, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil for remote seeding")
	}

	result := &Result{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		raw, err := s.fetcher.Fetch(ctx, feed.DescriptorURL(s.opts.BaseURL, name))
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			s.fail(result, name, fmt.Errorf("failed to fetch descriptor: %w", err))
			continue
		}

		d, err := feed.ParseDescriptor(name, raw)
		if err != nil {
			s.fail(result, name, err)
			continue
		}

		if !s.opts.DryRun {
			if err := s.archive.WriteDescriptor(name, raw); err != nil {
				s.fail(result, name, err)
				continue
			}
		}

		if err := s.insert(ctx, d, result); err != nil {
			return result, err
		}
	}

	s.logger.Printf("Seeded from remote: inserted=%d, existing=%d, failed=%d",
		result.Inserted, result.Existing, len(result.Failed))
	return result, nil
}

func (s *Seeder) insert(ctx context.Context, d *feed.Descriptor, result *Result) error {
	if s.opts.DryRun {
		s.logger.Printf("Would insert %s (%s)", d.Name, feed.FormatTimestamp(d.LastModified))
		result.Inserted++
		return nil
	}

	created, err := s.store.InsertContext(ctx, store.FromDescriptor(d))
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", d.Name, err)
	}
	if created {
		result.Inserted++
	} else {
		result.Existing++
	}
	return nil
}

func (s *Seeder) fail(result *Result, name string, err error) {
	s.logger.Printf("Skipping %s: %v", name, err)
	result.Failed = append(result.Failed, fmt.Sprintf("%s: %v", name, err))
}
