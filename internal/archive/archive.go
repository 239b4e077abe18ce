// Package archive persists downloaded feed files: the raw descriptor for
// each shard and the payload handed over by the sync controller.
//
// Files live flat in one directory:
//
//	data/nvdcve-1.1-2023.meta
//	data/nvdcve-1.1-2023.json.gz
//
// Every write goes to a temp file that is renamed over the target, so a
// crash never leaves a truncated descriptor or payload behind.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/nvdmirror/nvdsync/internal/feed"
)

// gzipMagic is the two-byte gzip header.
var gzipMagic = []byte{0x1f, 0x8b}

// ErrNotGzip is returned by Import when the payload is not a gzip stream.
var ErrNotGzip = errors.New("payload is not gzip data")

// Archive reads and writes feed files on a billy filesystem.
type Archive struct {
	fs billy.Filesystem
}

// New wraps an existing filesystem.
func New(fs billy.Filesystem) *Archive {
	return &Archive{fs: fs}
}

// Open returns an Archive rooted at dir on the OS filesystem, creating the
// directory if needed.
func Open(dir string) (*Archive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return New(osfs.New(dir)), nil
}

// Root returns the filesystem root.
func (a *Archive) Root() string {
	return a.fs.Root()
}

// WriteDescriptor stores the raw descriptor text for a shard, replacing any
// previous descriptor.
func (a *Archive) WriteDescriptor(name string, raw []byte) error {
	if name == "" {
		return fmt.Errorf("shard name cannot be empty")
	}
	if err := a.writeAtomic(feed.DescriptorFilename(name), raw); err != nil {
		return fmt.Errorf("failed to write descriptor for %s: %w", name, err)
	}
	return nil
}

// ReadDescriptor reads and parses the stored descriptor for a shard.
func (a *Archive) ReadDescriptor(name string) (*feed.Descriptor, error) {
	raw, err := util.ReadFile(a.fs, feed.DescriptorFilename(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor for %s: %w", name, err)
	}
	return feed.ParseDescriptor(name, raw)
}

// ReadDescriptors parses every descriptor in the archive, ordered by shard
// name. Files that fail to parse are returned in the errors slice and do
// not stop the scan.
func (a *Archive) ReadDescriptors() ([]*feed.Descriptor, []error, error) {
	entries, err := a.fs.ReadDir("/")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := feed.NameFromFilename(entry.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var descriptors []*feed.Descriptor
	var errs []error
	for _, name := range names {
		d, err := a.ReadDescriptor(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, errs, nil
}

// Import stores a shard payload. The payload must start with a gzip
// header; its contents are not otherwise inspected.
func (a *Archive) Import(ctx context.Context, name string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("shard name cannot be empty")
	}
	if !bytes.HasPrefix(payload, gzipMagic) {
		return fmt.Errorf("%w: %s (%d bytes)", ErrNotGzip, name, len(payload))
	}
	if err := a.writeAtomic(feed.PayloadFilename(name), payload); err != nil {
		return fmt.Errorf("failed to write payload for %s: %w", name, err)
	}
	return nil
}

// HasPayload reports whether a payload file exists for a shard.
func (a *Archive) HasPayload(name string) (bool, error) {
	_, err := a.fs.Stat(feed.PayloadFilename(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *Archive) writeAtomic(filename string, data []byte) error {
	tmp, err := a.fs.TempFile("", "."+filename+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		_ = a.fs.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = a.fs.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := a.fs.Rename(tmpName, filename); err != nil {
		_ = a.fs.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
