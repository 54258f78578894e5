package archive

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writer(content string) func(string) error {
	return func(dest string) error { return os.WriteFile(dest, []byte(content), 0644) }
}

func createAt(t *testing.T, dir string, at time.Time, flat string) string {
	t.Helper()
	path, err := Create(Params{
		FlatFile:   writer(flat),
		Bolt:       writer("bolt-bytes"),
		ArchiveDir: dir,
		Name:       "TestWorld",
		Top:        10,
		Live:       8,
		DBVersion:  5,
		Now:        at,
	})
	require.NoError(t, err)
	return path
}

func TestCreateAndReadManifest(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(t.TempDir(), "musedb.yaml")
	require.NoError(t, os.WriteFile(conf, []byte("mud_name: x\n"), 0644))

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	path, err := Create(Params{
		FlatFile:   writer("+V5\n***END OF DUMP***\n"),
		SQL:        writer("sqlite"),
		ConfPath:   conf,
		ArchiveDir: dir,
		Name:       "TestWorld",
		Live:       3,
		Now:        at,
	})
	require.NoError(t, err)
	assert.Equal(t, "archive-20240501-100000.tar.gz", filepath.Base(path))

	m, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "TestWorld", m.Name)
	assert.Equal(t, 3, m.Live)
	assert.Equal(t, "2024-05-01T10:00:00Z", m.Timestamp)
	require.Len(t, m.Files, 3)
	assert.Equal(t, "flatfile", m.Files[memberFlatFile].Type)
	assert.Equal(t, "sql", m.Files[memberSQL].Type)
	assert.Equal(t, "conf", m.Files["conf/musedb.yaml"].Type)
	assert.Equal(t, int64(len("sqlite")), m.Files[memberSQL].Size)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestProducerErrorLeavesNoArchive(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(Params{
		FlatFile:   func(string) error { return os.ErrPermission },
		ArchiveDir: dir,
	})
	require.ErrorIs(t, err, os.ErrPermission)

	list, err := List(dir)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListAndPrune(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		createAt(t, dir, base.Add(time.Duration(i)*time.Hour), "dump")
	}

	list, err := List(dir)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "archive-20240101-030000.tar.gz", list[0].Filename)
	assert.Equal(t, "TestWorld", list[0].Name)
	assert.Equal(t, 8, list[0].Live)

	removed, err := Prune(dir, 2)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	list, err = List(dir)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "archive-20240101-020000.tar.gz", list[1].Filename)

	removed, err = Prune(dir, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestRestoreRoundTrip(t *testing.T) {
	path := createAt(t, t.TempDir(), time.Now(), "+V5\n!0\n")
	out := t.TempDir()

	res, err := Restore(RestoreParams{
		ArchivePath:  path,
		FlatFileDest: filepath.Join(out, "db", "world.flat"),
		BoltDest:     filepath.Join(out, "db", "world.bolt"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FilesRestored)
	assert.Equal(t, 5, res.Manifest.DBVersion)

	got, err := os.ReadFile(filepath.Join(out, "db", "world.flat"))
	require.NoError(t, err)
	assert.Equal(t, "+V5\n!0\n", string(got))
}

func TestRestoreConfigPrompt(t *testing.T) {
	src := filepath.Join(t.TempDir(), "musedb.yaml")
	require.NoError(t, os.WriteFile(src, []byte("a: 1\nb: 2\n"), 0644))
	path, err := Create(Params{ConfPath: src, ArchiveDir: t.TempDir()})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "musedb.yaml")
	require.NoError(t, os.WriteFile(dest, []byte("a: 1\nb: 3\n"), 0644))

	var out strings.Builder
	res, err := Restore(RestoreParams{
		ArchivePath: path,
		ConfDest:    dest,
		Stdin:       strings.NewReader("d\nu\n"),
		Stdout:      &out,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesRestored)
	assert.Contains(t, out.String(), "- b: 3")
	assert.Contains(t, out.String(), "+ b: 2")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "a: 1\nb: 2\n", string(got))

	// without answers the current file is kept
	require.NoError(t, os.WriteFile(dest, []byte("c: 4\n"), 0644))
	res, err = Restore(RestoreParams{ArchivePath: path, ConfDest: dest})
	require.NoError(t, err)
	assert.Equal(t, 0, res.FilesRestored)
	assert.Len(t, res.Warnings, 1)
}

func TestRestoreRejectsTraversal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape", Size: 1, Mode: 0644, Typeflag: tar.TypeReg}))
	_, err = tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())

	_, err = Restore(RestoreParams{ArchivePath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid archive entry")
}

func TestRestoreDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	manifest := `{"version":1,"files":{"data/db.flat":{"sha256":"00","size":4,"type":"flatfile"}}}`
	for _, e := range []struct{ name, body string }{
		{memberFlatFile, "dump"},
		{manifestName, manifest},
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Size: int64(len(e.body)), Mode: 0644, Typeflag: tar.TypeReg}))
		_, err = tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())

	_, err = Restore(RestoreParams{ArchivePath: path, FlatFileDest: filepath.Join(t.TempDir(), "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}
