package gamedb

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestDB returns a database holding #0 Limbo (room) and #1 Root (player).
func newTestDB(t testing.TB, opts ...func(*Options)) *DB {
	t.Helper()
	o := Options{
		Clock: ClockFunc(func() time.Time { return testEpoch }),
		Fatal: func(msg string, _ ...zap.Field) { panic(msg) },
	}
	for _, f := range opts {
		f(&o)
	}
	db := New(o)
	limbo, err := db.Create("Limbo", TypeRoom, 1)
	require.NoError(t, err)
	require.Equal(t, DBRef(0), limbo)
	root, err := db.Create("Root", TypePlayer, Nothing)
	require.NoError(t, err)
	require.Equal(t, DBRef(1), root)
	db.Get(root).Exits = limbo
	db.MoveTo(root, limbo)
	return db
}

func mustCreate(t testing.TB, db *DB, name string, typ ObjectType) DBRef {
	t.Helper()
	ref, err := db.Create(name, typ, 1)
	require.NoError(t, err)
	return ref
}

func mustDefine(t testing.TB, db *DB, owner DBRef, name, opts string) *AttrDef {
	t.Helper()
	def, err := db.DefineAttr(1, owner, name, opts)
	require.NoError(t, err)
	return def
}

func itoa(n int) string { return strconv.Itoa(n) }
