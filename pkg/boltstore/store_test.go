package boltstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newDB(t *testing.T) *gamedb.DB {
	t.Helper()
	db := gamedb.New(gamedb.Options{Clock: gamedb.ClockFunc(func() time.Time { return epoch })})
	_, err := db.Create("Limbo", gamedb.TypeRoom, 1)
	require.NoError(t, err)
	_, err = db.Create("Wizard", gamedb.TypePlayer, gamedb.Nothing)
	require.NoError(t, err)
	db.Get(1).Exits = 0
	db.MoveTo(1, 0)
	return db
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "muse.bolt"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := newDB(t)
	kid, _ := db.Create("kid", gamedb.TypeThing, 1)
	base, _ := db.Create("base", gamedb.TypeThing, 1)
	require.NoError(t, db.AddParent(1, kid, base))
	def, err := db.DefineAttr(1, base, "COLOR", "inherit")
	require.NoError(t, err)
	require.NoError(t, db.SetAttr(base, def, "green"))
	require.NoError(t, db.SetAttr(kid, gamedb.AttrDesc, "small"))

	s := openStore(t)
	assert.False(t, s.HasData())
	require.NoError(t, s.SaveDB(db))
	assert.True(t, s.HasData())

	got := gamedb.New(gamedb.Options{})
	require.NoError(t, s.LoadInto(got))
	assert.Equal(t, db.Top(), got.Top())
	assert.Equal(t, "small", got.GetAttr(kid, gamedb.AttrDesc))
	def2 := got.FindDef(base, "COLOR")
	require.NotNil(t, def2)
	assert.Equal(t, "green", got.GetAttr(kid, def2), "inherited through the restored parent edge")
	assert.Equal(t, 2, def2.Refs())
	assert.Equal(t, db.ContentsOf(0), got.ContentsOf(0))
}

func TestWriteThrough(t *testing.T) {
	db := newDB(t)
	s := openStore(t)
	require.NoError(t, s.SaveDB(db))

	box, _ := db.Create("box", gamedb.TypeThing, 1)
	require.NoError(t, s.PutObject(db, box))
	top, recs, err := s.Records()
	require.NoError(t, err)
	assert.Equal(t, 3, top, "stored top follows growth")
	assert.Len(t, recs, 3)

	db.Recycle(box)
	require.NoError(t, s.PutObject(db, box))
	_, recs, err = s.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 2, "recycled slot is removed")

	got := gamedb.New(gamedb.Options{})
	require.NoError(t, s.LoadInto(got))
	assert.Equal(t, []gamedb.DBRef{box}, got.FreeList(), "gap comes back as a free slot")
}

func TestPlayerIndex(t *testing.T) {
	db := newDB(t)
	s := openStore(t)
	require.NoError(t, s.SaveDB(db))

	ref, ok := s.PlayerRef("wizard")
	require.True(t, ok)
	assert.Equal(t, gamedb.DBRef(1), ref)

	db.Get(1).Name = "Merlin"
	require.NoError(t, s.PutObject(db, 1))
	_, ok = s.PlayerRef("Wizard")
	assert.False(t, ok, "old name dropped")
	ref, ok = s.PlayerRef("MERLIN")
	assert.True(t, ok)
	assert.Equal(t, gamedb.DBRef(1), ref)

	require.NoError(t, s.DeleteObject(1))
	_, ok = s.PlayerRef("merlin")
	assert.False(t, ok)
}

func TestRecordsWithoutSnapshot(t *testing.T) {
	s := openStore(t)
	_, _, err := s.Records()
	assert.True(t, errors.Is(err, ErrNoSnapshot))
	assert.ErrorIs(t, s.LoadInto(gamedb.New(gamedb.Options{})), ErrNoSnapshot)
}

func TestBackup(t *testing.T) {
	db := newDB(t)
	s := openStore(t)
	require.NoError(t, s.SaveDB(db))

	path := filepath.Join(t.TempDir(), "backup.bolt")
	require.NoError(t, s.Backup(path))

	b, err := Open(path, nil)
	require.NoError(t, err)
	defer b.Close()
	top, recs, err := b.Records()
	require.NoError(t, err)
	assert.Equal(t, 2, top)
	assert.Len(t, recs, 2)
}

func TestKeysSortNegativeRefs(t *testing.T) {
	for _, ref := range []gamedb.DBRef{gamedb.NoPerm, gamedb.Nothing, 0, 1, 1 << 20} {
		assert.Equal(t, ref, refFromKey(objectKey(ref)))
	}
	assert.Less(t, string(objectKey(gamedb.Nothing)), string(objectKey(0)))
}
