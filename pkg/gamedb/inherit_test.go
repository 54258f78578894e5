package gamedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAddParentRejectsCycle(t *testing.T) {
	db := newTestDB(t)
	a := mustCreate(t, db, "A", TypeThing)
	b := mustCreate(t, db, "B", TypeThing)
	require.NoError(t, db.AddParent(1, a, b))
	assert.ErrorIs(t, db.AddParent(1, b, a), ErrCycle)
	assert.ErrorIs(t, db.AddParent(1, a, a), ErrCycle)
	assert.ErrorIs(t, db.AddParent(1, a, b), ErrAlreadyParent)
	assert.True(t, db.Get(a).HasParent(b))
	assert.True(t, db.Get(b).HasChild(a))
}

func TestAddParentErrors(t *testing.T) {
	db := newTestDB(t, func(o *Options) {
		o.Auth = AuthorizerFunc(func(_, target DBRef, c Capability) bool {
			return !(c == CapParent && target == 0)
		})
	})
	a := mustCreate(t, db, "A", TypeThing)
	assert.ErrorIs(t, db.AddParent(1, a, Nothing), ErrBadObject)
	assert.ErrorIs(t, db.AddParent(1, a, 0), ErrPermission)
	assert.ErrorIs(t, db.RemoveParent(1, a, 0), ErrNotParent)
}

func TestRemoveParent(t *testing.T) {
	db := newTestDB(t)
	a := mustCreate(t, db, "A", TypeThing)
	b := mustCreate(t, db, "B", TypeThing)
	require.NoError(t, db.AddParent(1, a, b))
	require.NoError(t, db.RemoveParent(1, a, b))
	assert.Empty(t, db.Get(a).Parents)
	assert.Empty(t, db.Get(b).Children)
	assert.False(t, db.IsA(a, b))
}

func TestIsAReflexive(t *testing.T) {
	db := newTestDB(t)
	assert.True(t, db.IsA(0, 0))
	assert.True(t, db.IsA(Nothing, Nothing))
	assert.False(t, db.IsA(0, 1))
}

func TestIsATerminatesOnCorruptCycle(t *testing.T) {
	db := newTestDB(t)
	a := mustCreate(t, db, "A", TypeThing)
	b := mustCreate(t, db, "B", TypeThing)
	c := mustCreate(t, db, "C", TypeThing)
	db.Get(a).Parents = []DBRef{b}
	db.Get(b).Parents = []DBRef{a}
	assert.False(t, db.IsA(a, c))
	assert.True(t, db.IsA(a, b))
	assert.ElementsMatch(t, []DBRef{b}, db.Ancestors(a))
}

func TestIsADepthBound(t *testing.T) {
	db := newTestDB(t)
	chain := []DBRef{mustCreate(t, db, "gen0", TypeThing)}
	for i := 1; i <= MaxIsADepth+1; i++ {
		r := mustCreate(t, db, "gen", TypeThing)
		require.NoError(t, db.AddParent(1, r, chain[len(chain)-1]))
		chain = append(chain, r)
	}
	last := chain[len(chain)-1]
	assert.True(t, db.IsA(last, chain[1]), "20 generations up")
	assert.False(t, db.IsA(last, chain[0]), "21 generations is past the bound")
}

func TestDescendants(t *testing.T) {
	db := newTestDB(t)
	a := mustCreate(t, db, "A", TypeThing)
	b := mustCreate(t, db, "B", TypeThing)
	c := mustCreate(t, db, "C", TypeThing)
	d := mustCreate(t, db, "D", TypeThing)
	require.NoError(t, db.AddParent(1, b, a))
	require.NoError(t, db.AddParent(1, c, b))
	require.NoError(t, db.AddParent(1, d, a))
	require.NoError(t, db.AddParent(1, d, c))
	assert.ElementsMatch(t, []DBRef{b, c, d}, db.Descendants(a))
	assert.ElementsMatch(t, []DBRef{c, b, a}, db.Ancestors(d))
}

// Random AddParent sequences never produce a cycle and keep both arrays
// in lockstep.
func TestPropertyParentGraphAcyclic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		db := newTestDB(t)
		var objs []DBRef
		for i := 0; i < 8; i++ {
			objs = append(objs, mustCreate(t, db, "o", TypeThing))
		}
		pick := rapid.SampledFrom(objs)
		for i := rapid.IntRange(0, 30).Draw(rt, "edges"); i > 0; i-- {
			c, p := pick.Draw(rt, "child"), pick.Draw(rt, "parent")
			_ = db.AddParent(1, c, p)
		}
		for _, o := range objs {
			for _, p := range db.Get(o).Parents {
				if db.IsA(p, o) {
					rt.Fatalf("cycle through #%d and #%d", o, p)
				}
				if !db.Get(p).HasChild(o) {
					rt.Fatalf("#%d lists parent #%d without reciprocal child", o, p)
				}
			}
		}
	})
}
