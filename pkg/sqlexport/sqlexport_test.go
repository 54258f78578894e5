package sqlexport

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

func buildDB(t *testing.T) (*gamedb.DB, gamedb.DBRef, gamedb.DBRef) {
	t.Helper()
	db := gamedb.New(gamedb.Options{
		Clock: gamedb.ClockFunc(func() time.Time { return time.Unix(1700000000, 0) }),
	})
	_, err := db.Create("Limbo", gamedb.TypeRoom, 1)
	require.NoError(t, err)
	_, err = db.Create("Root", gamedb.TypePlayer, gamedb.Nothing)
	require.NoError(t, err)
	parent, err := db.Create("Widget", gamedb.TypeThing, 1)
	require.NoError(t, err)
	child, err := db.Create("Gizmo", gamedb.TypeThing, 1)
	require.NoError(t, err)
	db.MoveTo(parent, 0)
	db.MoveTo(child, 0)

	require.NoError(t, db.AddParent(1, child, parent))
	def, err := db.DefineAttr(1, parent, "color", "inherit")
	require.NoError(t, err)
	require.NoError(t, db.SetAttr(child, def, "blue"))
	require.NoError(t, db.SetAttr(parent, gamedb.AttrDesc, "A widget."))
	return db, parent, child
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "export.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExportCounts(t *testing.T) {
	db, _, _ := buildDB(t)
	s := openStore(t)

	n, err := s.Export(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, Counts{Objects: 4, Attrs: 2, Defs: 1, Parents: 1}, n)
}

func TestExportQueries(t *testing.T) {
	db, parent, child := buildDB(t)
	s := openStore(t)
	ctx := context.Background()
	_, err := s.Export(ctx, db)
	require.NoError(t, err)

	got, err := s.Query(ctx, "SELECT name FROM objects WHERE type = 'THING' ORDER BY ref", ",", ":")
	require.NoError(t, err)
	assert.Equal(t, "Widget,Gizmo", got)

	got, err = s.Query(ctx, "SELECT parent FROM parents WHERE child = "+itoa(child), ",", ":")
	require.NoError(t, err)
	assert.Equal(t, itoa(parent), got)

	got, err = s.Query(ctx, "SELECT name, def_owner, value FROM attrs ORDER BY ref", "|", ":")
	require.NoError(t, err)
	assert.Equal(t, "Desc::A widget.|color:"+itoa(parent)+":blue", got)

	got, err = s.Query(ctx, "SELECT refs FROM defs", ",", ":")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestExportSkipsDestroyed(t *testing.T) {
	db, _, _ := buildDB(t)
	extra, err := db.Create("Junk", gamedb.TypeThing, 1)
	require.NoError(t, err)
	db.Recycle(extra)

	s := openStore(t)
	n, err := s.Export(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 4, n.Objects)
}

func TestReexportReplaces(t *testing.T) {
	db, _, _ := buildDB(t)
	s := openStore(t)
	ctx := context.Background()
	_, err := s.Export(ctx, db)
	require.NoError(t, err)
	_, err = s.Export(ctx, db)
	require.NoError(t, err)

	got, err := s.Query(ctx, "SELECT COUNT(*) FROM objects", ",", ":")
	require.NoError(t, err)
	assert.Equal(t, "4", got)
}

func TestQueryRejectsWrites(t *testing.T) {
	s := openStore(t)
	_, err := s.Query(context.Background(), "DELETE FROM objects", ",", ":")
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestClosedStore(t *testing.T) {
	db, _, _ := buildDB(t)
	s := openStore(t)
	require.NoError(t, s.Close())
	_, err := s.Export(context.Background(), db)
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close())
}

func itoa(r gamedb.DBRef) string { return strconv.Itoa(int(r)) }
