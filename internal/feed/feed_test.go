package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMeta = "lastModifiedDate:2023-08-04T03:01:58-04:00\r\n" +
	"size:107434436\r\n" +
	"zipSize:5451290\r\n" +
	"gzSize:5451154\r\n" +
	"sha256:2B4D27AB9C6A1F0E7D3C5B8A9F1E2D3C4B5A6F7E8D9C0B1A2F3E4D5C6B7A8F9E\r\n"

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor("nvdcve-1.1-2023", []byte(sampleMeta))
	require.NoError(t, err)

	assert.Equal(t, "nvdcve-1.1-2023", d.Name)
	assert.Equal(t, "2023-08-04T03:01:58-04:00", d.RawLastModified)
	assert.Equal(t, "107434436", d.Size)
	assert.Equal(t, "5451290", d.ZipSize)
	assert.Equal(t, "5451154", d.GzSize)
	assert.Equal(t, "2B4D27AB9C6A1F0E7D3C5B8A9F1E2D3C4B5A6F7E8D9C0B1A2F3E4D5C6B7A8F9E", d.SHA256)
	assert.Equal(t, []byte(sampleMeta), d.Raw)

	want := time.Date(2023, 8, 4, 7, 1, 58, 0, time.UTC)
	assert.True(t, d.LastModified.Equal(want), "got %v", d.LastModified)
	assert.Equal(t, "nvdcve-1.1-2023.meta", d.Filename())
}

func TestParseDescriptor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{
			name:    "missing last modified",
			raw:     "size:10\nsha256:abc\n",
			wantErr: ErrMalformedDescriptor,
		},
		{
			name:    "line without colon",
			raw:     "lastModifiedDate:2023-08-04T03:01:58-04:00\ngarbage\n",
			wantErr: ErrMalformedDescriptor,
		},
		{
			name:    "naive timestamp",
			raw:     "lastModifiedDate:2023-08-04T03:01:58\n",
			wantErr: ErrClockSkew,
		},
		{
			name:    "unparseable timestamp",
			raw:     "lastModifiedDate:yesterday\n",
			wantErr: ErrMalformedTimestamp,
		},
		{
			name:    "empty",
			raw:     "",
			wantErr: ErrMalformedDescriptor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptor("shard", []byte(tt.raw))
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseDescriptor_IgnoresUnknownKeys(t *testing.T) {
	raw := "lastModifiedDate:2023-08-04T03:01:58-04:00\nflavor:vanilla\n\n"
	d, err := ParseDescriptor("shard", []byte(raw))
	require.NoError(t, err)
	assert.Empty(t, d.Size)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2023, 8, 1, 4, 0, 0, 0, time.UTC)

	for _, s := range []string{
		"2023-08-01T00:00:00-04:00",
		"2023-08-01 00:00:00-04:00",
		"2023-08-01T00:00:00-0400",
		"2023-08-01 00:00:00-0400",
		"2023-08-01T04:00:00Z",
		"  2023-08-01T04:00:00+00:00\n",
	} {
		t.Run(s, func(t *testing.T) {
			got, err := ParseTimestamp(s)
			require.NoError(t, err)
			assert.True(t, got.Equal(want), "got %v", got)
		})
	}
}

func TestParseTimestamp_Naive(t *testing.T) {
	_, err := ParseTimestamp("2023-08-01 00:00:00")
	require.ErrorIs(t, err, ErrClockSkew)

	_, err = ParseTimestamp("")
	require.ErrorIs(t, err, ErrMalformedTimestamp)
}

func TestFormatTimestamp_RoundTrip(t *testing.T) {
	ts, err := ParseTimestamp("2023-08-04 03:01:58-04:00")
	require.NoError(t, err)

	s := FormatTimestamp(ts)
	assert.Equal(t, "2023-08-04T03:01:58-04:00", s)

	back, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, back.Equal(ts))
}

func TestFormatTimestamp_KeepsFractionalSeconds(t *testing.T) {
	ts, err := ParseTimestamp("2023-08-04T03:01:58.500-04:00")
	require.NoError(t, err)

	s := FormatTimestamp(ts)
	assert.Equal(t, "2023-08-04T03:01:58.5-04:00", s)

	back, err := ParseTimestamp(s)
	require.NoError(t, err)
	assert.True(t, back.Equal(ts))

	stale, err := IsStale(ts, back)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestIsStale(t *testing.T) {
	stored, _ := ParseTimestamp("2023-08-01T00:00:00-04:00")
	newer, _ := ParseTimestamp("2023-08-04T03:01:58-04:00")
	sameInUTC, _ := ParseTimestamp("2023-08-01T04:00:00Z")
	earlierDifferentZone, _ := ParseTimestamp("2023-08-01T05:00:00+02:00")

	tests := []struct {
		name   string
		remote time.Time
		want   bool
	}{
		{"newer", newer, true},
		{"equal", stored, false},
		{"equal instant different offset", sameInUTC, false},
		{"older instant later wall clock", earlierDifferentZone, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsStale(tt.remote, stored)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsStale_ZeroTime(t *testing.T) {
	ts, _ := ParseTimestamp("2023-08-01T00:00:00-04:00")

	_, err := IsStale(time.Time{}, ts)
	require.ErrorIs(t, err, ErrClockSkew)

	_, err = IsStale(ts, time.Time{})
	require.ErrorIs(t, err, ErrClockSkew)
}

func TestURLs(t *testing.T) {
	base := "https://nvd.nist.gov/feeds/json/cve/1.1/"
	assert.Equal(t, "https://nvd.nist.gov/feeds/json/cve/1.1/nvdcve-1.1-2023.meta", DescriptorURL(base, "nvdcve-1.1-2023"))
	assert.Equal(t, "https://nvd.nist.gov/feeds/json/cve/1.1/nvdcve-1.1-2023.json.gz", PayloadURL(base, "nvdcve-1.1-2023"))

	name, ok := NameFromFilename("nvdcve-1.1-modified.meta")
	assert.True(t, ok)
	assert.Equal(t, "nvdcve-1.1-modified", name)

	_, ok = NameFromFilename("nvdcve-1.1-modified.json.gz")
	assert.False(t, ok)
	_, ok = NameFromFilename(".meta")
	assert.False(t, ok)
}
