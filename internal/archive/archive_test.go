package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type file struct {
	name string
	body string
}

var sample = []file{
	{"dir/", ""},
	{"dir/a.log", "alpha"},
	{"b.log", "bravo"},
	{"other/a.log", "second alpha"},
}

func buildZip(t *testing.T, files []file) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeTar(t *testing.T, w io.Writer, files []file) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body)), Typeflag: tar.TypeReg}
		if f.name[len(f.name)-1] == '/' {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func buildTar(t *testing.T, format Format, files []file) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch format {
	case FormatTar:
		writeTar(t, &buf, files)
	case FormatTarGz:
		gz := gzip.NewWriter(&buf)
		writeTar(t, gz, files)
		require.NoError(t, gz.Close())
	case FormatTarZst:
		zw, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		writeTar(t, zw, files)
		require.NoError(t, zw.Close())
	case FormatTarLz4:
		lw := lz4.NewWriter(&buf)
		writeTar(t, lw, files)
		require.NoError(t, lw.Close())
	default:
		t.Fatalf("no tar builder for %s", format)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]Format{
		"logs/a.zip":     FormatZip,
		"logs/A.ZIP":     FormatZip,
		"logs/a.tar":     FormatTar,
		"logs/a.tar.gz":  FormatTarGz,
		"logs/a.tgz":     FormatTarGz,
		"logs/a.tar.zst": FormatTarZst,
		"logs/a.tar.lz4": FormatTarLz4,
	}
	for key, want := range cases {
		got, ok := DetectFormat(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	assert.False(t, HasArchiveSuffix("logs/readme.txt"))
	assert.False(t, HasArchiveSuffix("logs/zip"))
}

func TestOpen_AllFormats(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{
		"x.zip":     buildZip(t, sample),
		"x.tar":     buildTar(t, FormatTar, sample),
		"x.tgz":     buildTar(t, FormatTarGz, sample),
		"x.tar.zst": buildTar(t, FormatTarZst, sample),
		"x.tar.lz4": buildTar(t, FormatTarLz4, sample),
	}
	for key, payload := range payloads {
		a, err := Open(key, payload)
		require.NoError(t, err, key)

		// Directory records are not entries; duplicate trailing names are kept.
		assert.Equal(t, []string{"a.log", "b.log", "a.log"}, a.Names(), key)
		assert.Equal(t, "dir/a.log", a.Entries()[0].Path, key)
		assert.Equal(t, 2, a.Entries()[2].Index, key)

		v, err := a.View()
		require.NoError(t, err, key)
		for i, want := range []string{"alpha", "bravo", "second alpha"} {
			data, err := v.Read(i)
			require.NoError(t, err, key)
			assert.Equal(t, want, string(data), key)
		}
		_, err = v.Read(3)
		assert.Error(t, err, key)
	}
}

func TestOpen_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Open("x.rar", []byte("whatever"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Open("x.zip", []byte("not a zip"))
	assert.Error(t, err)

	_, err = Open("x.tar.gz", []byte("not gzip"))
	assert.Error(t, err)
}

func TestOpen_EmptyZip(t *testing.T) {
	t.Parallel()

	a, err := Open("empty.zip", buildZip(t, nil))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Len())
}

func TestView_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	files := make([]file, 0, 50)
	for i := range 50 {
		files = append(files, file{name: string(rune('a'+i%26)) + ".txt", body: string(bytes.Repeat([]byte{byte('0' + i%10)}, 100+i))})
	}
	a, err := Open("many.zip", buildZip(t, files))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			v, err := a.View()
			if err != nil {
				errs <- err
				return
			}
			for i := w; i < a.Len(); i += 8 {
				data, err := v.Read(i)
				if err != nil {
					errs <- err
					return
				}
				if len(data) != 100+i {
					errs <- io.ErrShortBuffer
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestEntry_ValidateRejectsUnusableNames(t *testing.T) {
	t.Parallel()

	payload := buildZip(t, []file{
		{"a/..", "up"},
		{"..", "up"},
		{"a/.", "here"},
		{"b.log", "bravo"},
	})
	a, err := Open("x.zip", payload)
	require.NoError(t, err)
	require.Equal(t, 4, a.Len())

	entries := a.Entries()
	for _, e := range entries[:3] {
		assert.ErrorIs(t, e.Validate(), ErrInvalidEntryName, e.Path)
	}
	assert.NoError(t, entries[3].Validate())
	assert.ErrorIs(t, Entry{Path: ""}.Validate(), ErrInvalidEntryName)
}
