package feed

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Descriptor keys as published in .meta files.
const (
	KeyLastModified = "lastModifiedDate"
	KeySize         = "size"
	KeyZipSize      = "zipSize"
	KeyGzSize       = "gzSize"
	KeySHA256       = "sha256"
)

// DefaultBaseURL is the NVD JSON 1.1 feed location.
const DefaultBaseURL = "https://nvd.nist.gov/feeds/json/cve/1.1"

// File extensions used by the feed.
const (
	DescriptorExt = ".meta"
	PayloadExt    = ".json.gz"
)

// Descriptor is the decoded form of a shard's .meta file.
//
// Size fields and SHA256 are opaque: they are copied verbatim into the store
// and never interpreted.
type Descriptor struct {
	Name string

	LastModified    time.Time
	RawLastModified string

	Size    string
	ZipSize string
	GzSize  string
	SHA256  string

	// Raw is the descriptor text exactly as received.
	Raw []byte
}

// Validate checks that the descriptor can drive a staleness decision.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrMalformedDescriptor)
	}
	if d.LastModified.IsZero() {
		return fmt.Errorf("%w: %s is required", ErrMalformedDescriptor, KeyLastModified)
	}
	return nil
}

// Filename returns the canonical descriptor filename: {name}.meta
func (d *Descriptor) Filename() string {
	return DescriptorFilename(d.Name)
}

// ParseDescriptor decodes descriptor text for the named shard.
func ParseDescriptor(name string, raw []byte) (*Descriptor, error) {
	d := &Descriptor{
		Name: name,
		Raw:  append([]byte(nil), raw...),
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %d is not key:value", ErrMalformedDescriptor, lineNum)
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case KeyLastModified:
			ts, err := ParseTimestamp(value)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s for %s: %w", KeyLastModified, name, err)
			}
			d.LastModified = ts
			d.RawLastModified = value
		case KeySize:
			d.Size = value
		case KeyZipSize:
			d.ZipSize = value
		case KeyGzSize:
			d.GzSize = value
		case KeySHA256:
			d.SHA256 = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read descriptor %s: %w", name, err)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// DescriptorFilename returns the descriptor filename for a shard.
func DescriptorFilename(name string) string {
	return name + DescriptorExt
}

// PayloadFilename returns the payload filename for a shard.
func PayloadFilename(name string) string {
	return name + PayloadExt
}

// DescriptorURL returns the remote location of a shard's descriptor.
func DescriptorURL(baseURL, name string) string {
	return strings.TrimRight(baseURL, "/") + "/" + DescriptorFilename(name)
}

// PayloadURL returns the remote location of a shard's payload.
func PayloadURL(baseURL, name string) string {
	return strings.TrimRight(baseURL, "/") + "/" + PayloadFilename(name)
}

// NameFromFilename strips the descriptor extension from a filename. It
// returns false for files that are not descriptors.
func NameFromFilename(filename string) (string, bool) {
	name, ok := strings.CutSuffix(filename, DescriptorExt)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
