package gamedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveToUpdatesChains(t *testing.T) {
	db := newTestDB(t)
	hall := mustCreate(t, db, "Hall", TypeRoom)
	box := mustCreate(t, db, "box", TypeThing)
	ball := mustCreate(t, db, "ball", TypeThing)

	db.MoveTo(box, hall)
	db.MoveTo(ball, hall)
	assert.Equal(t, []DBRef{ball, box}, db.ContentsOf(hall))

	db.MoveTo(box, 0)
	assert.Equal(t, []DBRef{ball}, db.ContentsOf(hall))
	assert.Contains(t, db.ContentsOf(0), box)
	assert.Equal(t, DBRef(0), db.Get(box).Location)

	db.MoveTo(ball, Nothing)
	assert.Empty(t, db.ContentsOf(hall))
	assert.Equal(t, Nothing, db.Get(ball).Location)
}

func TestMoveHome(t *testing.T) {
	db := newTestDB(t)
	hall := mustCreate(t, db, "Hall", TypeRoom)
	box := mustCreate(t, db, "box", TypeThing)
	db.Get(box).Exits = hall
	db.MoveTo(box, Home)
	assert.Equal(t, hall, db.Get(box).Location)
}

func TestAddToContentsNoDuplicate(t *testing.T) {
	db := newTestDB(t)
	box := mustCreate(t, db, "box", TypeThing)
	db.MoveTo(box, 0)
	before := db.ContentsOf(0)
	db.AddToContents(0, box)
	assert.Equal(t, before, db.ContentsOf(0))
	assert.NotEqual(t, box, db.Get(box).Next, "no self loop")
}

func TestExitChain(t *testing.T) {
	db := newTestDB(t)
	hall := mustCreate(t, db, "Hall", TypeRoom)
	north := mustCreate(t, db, "north", TypeExit)
	south := mustCreate(t, db, "south", TypeExit)
	db.AddExit(hall, north)
	db.AddExit(hall, south)
	assert.Equal(t, []DBRef{south, north}, db.ExitsOf(hall))
	assert.Equal(t, hall, db.Get(north).Location)
	assert.True(t, db.RemoveExit(hall, north))
	assert.Equal(t, []DBRef{south}, db.ExitsOf(hall))
	assert.False(t, db.RemoveExit(hall, north))
}

func TestChainWalkSurvivesLoop(t *testing.T) {
	db := newTestDB(t)
	a := mustCreate(t, db, "a", TypeThing)
	b := mustCreate(t, db, "b", TypeThing)
	db.Get(0).Contents = a
	db.Get(a).Next = b
	db.Get(b).Next = a
	require.Len(t, db.ContentsOf(0), 2)
	assert.False(t, db.RemoveFromContents(0, 1))
}
