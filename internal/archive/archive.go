// Package archive opens container archives held fully in memory and exposes
// their entries for position-based reads from many goroutines at once.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format identifies a container layout.
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
	FormatTarLz4 Format = "tar.lz4"
)

var (
	// ErrUnsupportedFormat is returned when a key carries no recognised container suffix.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrInvalidEntryName marks an entry whose trailing name cannot be used as an object name.
	ErrInvalidEntryName = errors.New("invalid entry name")
)

var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
	{".tar.zst", FormatTarZst},
	{".tar.lz4", FormatTarLz4},
	{".tar", FormatTar},
	{".zip", FormatZip},
}

// DetectFormat maps a key's suffix (case-insensitive) to its container format.
func DetectFormat(key string) (Format, bool) {
	lower := strings.ToLower(key)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format, true
		}
	}
	return "", false
}

// HasArchiveSuffix reports whether key names a supported container.
func HasArchiveSuffix(key string) bool {
	_, ok := DetectFormat(key)
	return ok
}

// Entry is one non-directory item of an archive.
type Entry struct {
	Index int    // position among the archive's entries
	Path  string // full in-archive path
	Name  string // trailing path component
	Size  int64
}

// Archive is an opened, validated container. It is immutable and safe to share.
type Archive struct {
	Format  Format
	entries []Entry

	// zip: the raw payload plus the position of each entry in the zip directory.
	payload  []byte
	zipIndex []int

	// tar formats: decompressed entry bodies laid out back to back.
	arena   []byte
	offsets []int64
}

// Open validates payload as the container named by key's suffix and indexes its entries.
func Open(key string, payload []byte) (*Archive, error) {
	format, ok := DetectFormat(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrUnsupportedFormat)
	}
	switch format {
	case FormatZip:
		return openZip(payload)
	default:
		return openTar(format, payload)
	}
}

// Entries returns the archive's entries in container order. Directory records are excluded.
func (a *Archive) Entries() []Entry {
	return a.entries
}

// Len is the number of entries.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Names returns each entry's trailing name in container order. Names may repeat.
func (a *Archive) Names() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.Name
	}
	return names
}

// Validate reports whether the entry's name can be written as an object name.
// Paths such as "a/.." or "" reduce to a name that would resolve outside the
// destination prefix.
func (e Entry) Validate() error {
	switch e.Name {
	case "", ".", "..", "/":
		return fmt.Errorf("entry %d %q: %w", e.Index, e.Path, ErrInvalidEntryName)
	}
	return nil
}

func entryName(p string) string {
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}

func openZip(payload []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	a := &Archive{Format: FormatZip, payload: payload}
	for i, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		a.entries = append(a.entries, Entry{
			Index: len(a.entries),
			Path:  f.Name,
			Name:  entryName(f.Name),
			Size:  int64(f.UncompressedSize64),
		})
		a.zipIndex = append(a.zipIndex, i)
	}
	return a, nil
}

func decompressor(format Format, r io.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatTar:
		return r, func() {}, nil
	case FormatTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case FormatTarZst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case FormatTarLz4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return nil, nil, ErrUnsupportedFormat
	}
}

func openTar(format Format, payload []byte) (*Archive, error) {
	r, done, err := decompressor(format, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", format, err)
	}
	defer done()

	a := &Archive{Format: format}
	var arena bytes.Buffer
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s header: %w", format, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		offset := int64(arena.Len())
		n, err := io.Copy(&arena, tr)
		if err != nil {
			return nil, fmt.Errorf("read %s entry %s: %w", format, hdr.Name, err)
		}
		a.entries = append(a.entries, Entry{
			Index: len(a.entries),
			Path:  hdr.Name,
			Name:  entryName(hdr.Name),
			Size:  n,
		})
		a.offsets = append(a.offsets, offset)
	}
	a.arena = arena.Bytes()
	return a, nil
}

// View is a private read handle over an Archive. Each goroutine takes its own.
type View struct {
	a  *Archive
	zr *zip.Reader
}

// View returns a new read handle. For zip archives the handle owns its own
// directory reader over the shared payload.
func (a *Archive) View() (*View, error) {
	v := &View{a: a}
	if a.Format == FormatZip {
		zr, err := zip.NewReader(bytes.NewReader(a.payload), int64(len(a.payload)))
		if err != nil {
			return nil, fmt.Errorf("open zip view: %w", err)
		}
		v.zr = zr
	}
	return v, nil
}

// Read returns the content of the entry at position i.
// Tar content is a read-only slice of the shared arena and must not be modified.
func (v *View) Read(i int) ([]byte, error) {
	if i < 0 || i >= len(v.a.entries) {
		return nil, fmt.Errorf("entry index %d out of range [0,%d)", i, len(v.a.entries))
	}
	e := v.a.entries[i]
	if v.zr == nil {
		off := v.a.offsets[i]
		end := off + e.Size
		return v.a.arena[off:end:end], nil
	}

	f := v.zr.File[v.a.zipIndex[i]]
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", e.Path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", e.Path, err)
	}
	return data, nil
}
