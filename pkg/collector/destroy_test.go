package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/crystal-mush/musedb/pkg/events"
	"github.com/crystal-mush/musedb/pkg/gamedb"
)

func TestDestroyRoomCascade(t *testing.T) {
	w := newWorld(t)
	room := w.create(t, "Doomed", gamedb.TypeRoom)
	h1 := w.create(t, "H1", gamedb.TypeRoom)
	h2 := w.create(t, "H2", gamedb.TypeRoom)
	e1 := w.exit(t, room, h1)
	e2 := w.exit(t, room, h2)

	things := make([]gamedb.DBRef, 3)
	homes := []gamedb.DBRef{h1, h2, gamedb.Nothing}
	for i := range things {
		things[i] = w.create(t, "thing", gamedb.TypeThing)
		w.db.Get(things[i]).Exits = homes[i]
		w.db.MoveTo(things[i], room)
	}

	var destroyed []gamedb.DBRef
	w.bus.SubscribeGlobal(events.SubscriberFunc(func(ev events.Event) {
		if ev.Type == events.EvDestroy {
			destroyed = append(destroyed, ev.Ref)
		}
	}))

	require.NoError(t, w.c.Destroy(room))

	assert.True(t, w.db.IsDestroyed(e1))
	assert.True(t, w.db.IsDestroyed(e2))
	assert.Equal(t, h1, w.db.Get(things[0]).Location)
	assert.Equal(t, h2, w.db.Get(things[1]).Location)
	assert.Equal(t, gamedb.DBRef(0), w.db.Get(things[2]).Location, "fallback to the default home")
	assert.Contains(t, w.db.ContentsOf(h1), things[0])
	assert.Contains(t, w.db.FreeList(), room)
	assert.Contains(t, w.db.FreeList(), e1)
	assert.Contains(t, w.db.FreeList(), e2)
	assert.ElementsMatch(t, []gamedb.DBRef{e1, e2, room}, destroyed)
	assert.Contains(t, w.queue.refs, room)
	assert.Contains(t, w.sess.refs, room)
}

func TestDestroyRehomesAndRefunds(t *testing.T) {
	w := newWorld(t)
	hall := w.create(t, "Hall", gamedb.TypeRoom)
	box := w.create(t, "box", gamedb.TypeThing)
	w.db.Get(box).Exits = hall
	w.db.MoveTo(box, 0)
	w.db.Get(box).Zone = hall
	w.db.Get(box).Link = hall
	w.db.Get(box).Fighting = hall

	require.NoError(t, w.c.Destroy(hall))
	b := w.db.Get(box)
	assert.Equal(t, gamedb.DBRef(0), b.Home())
	assert.Equal(t, gamedb.Nothing, b.Link)
	assert.Equal(t, gamedb.Nothing, b.Zone)
	assert.Equal(t, gamedb.Nothing, b.Fighting)
	assert.Equal(t, []gamedb.DBRef{1}, w.econ.refs)
	assert.Equal(t, "1", w.db.GetAttr(1, gamedb.AttrRQuota))
}

func TestDestroyUnlimitedQuota(t *testing.T) {
	w := newWorld(t)
	w.db = gamedb.New(gamedb.Options{
		Clock: w.clock,
		Auth: gamedb.AuthorizerFunc(func(_, _ gamedb.DBRef, c gamedb.Capability) bool {
			return c == gamedb.CapUnlimitedQuota || c == gamedb.CapModify
		}),
	})
	w.db.Create("Limbo", gamedb.TypeRoom, 1)
	w.db.Create("Root", gamedb.TypePlayer, gamedb.Nothing)
	w.c = New(w.db, w.c.Config(), Options{Economy: w.econ})
	box := w.create(t, "box", gamedb.TypeThing)
	require.NoError(t, w.c.Destroy(box))
	assert.Empty(t, w.econ.refs)
	assert.Equal(t, "", w.db.GetAttr(1, gamedb.AttrRQuota))
}

func TestDestroyReleasesDefinitionsAndEdges(t *testing.T) {
	w := newWorld(t)
	base := w.create(t, "base", gamedb.TypeThing)
	kid := w.create(t, "kid", gamedb.TypeThing)
	require.NoError(t, w.db.AddParent(1, kid, base))
	def, err := w.db.DefineAttr(1, base, "COLOR", "inherit")
	require.NoError(t, err)
	require.NoError(t, w.db.SetAttr(kid, def, "red"))

	require.NoError(t, w.c.Destroy(base))
	assert.True(t, def.Freed())
	assert.Empty(t, w.db.Get(kid).Parents)
	assert.Empty(t, w.db.Attrs(kid))
}

func TestDestroyProtectedAndInvalid(t *testing.T) {
	w := newWorld(t)
	assert.ErrorIs(t, w.c.Destroy(1), ErrProtected)
	assert.ErrorIs(t, w.c.Destroy(0), ErrProtected)
	assert.ErrorIs(t, w.c.Destroy(99), gamedb.ErrBadObject)

	box := w.create(t, "box", gamedb.TypeThing)
	require.NoError(t, w.c.Destroy(box))
	assert.ErrorIs(t, w.c.Destroy(box), gamedb.ErrBadObject, "already recycled")
}

func TestDestroyRecursionGuard(t *testing.T) {
	w := newWorld(t)
	w.c.depth = maxDestroyDepth
	box := w.create(t, "box", gamedb.TypeThing)
	assert.ErrorIs(t, w.c.Destroy(box), ErrRecursion)
	assert.True(t, w.db.GoodObject(box))
}

func TestDoomAndReap(t *testing.T) {
	w := newWorld(t)
	box := w.create(t, "box", gamedb.TypeThing)
	require.NoError(t, w.c.Doom(box, 15*time.Minute))
	assert.True(t, w.db.Get(box).IsGoing())

	assert.Equal(t, 0, w.c.ReapDoomed(false))
	w.clock.now = w.clock.now.Add(16 * time.Minute)
	assert.Equal(t, 1, w.c.ReapDoomed(false))
	assert.True(t, w.db.IsDestroyed(box))
}

func TestUndoom(t *testing.T) {
	w := newWorld(t)
	box := w.create(t, "box", gamedb.TypeThing)
	require.NoError(t, w.c.Doom(box, 0))
	require.NoError(t, w.c.Undoom(box))
	assert.False(t, w.db.Get(box).IsGoing())
	assert.Equal(t, 0, w.c.ReapDoomed(true))
	assert.ErrorIs(t, w.c.Doom(1, 0), ErrProtected)
}

func TestFullPassFinalizesOrphanedGoing(t *testing.T) {
	w := newWorld(t)
	box := w.create(t, "box", gamedb.TypeThing)
	w.db.MoveTo(box, 0)
	w.db.Get(box).SetFlag(gamedb.FlagGoing, true)
	rep := w.c.FixFreeList()
	assert.Equal(t, 1, rep.Destroyed)
	assert.Equal(t, 1, rep.Free)
	assert.Equal(t, []gamedb.DBRef{box}, w.db.FreeList())
}

// After destroying X no live object refers to X through any relationship
// field, X has no attributes, and X is on the free list.
func TestPropertyDestructionCompleteness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := newWorld(t)
		rooms := []gamedb.DBRef{0}
		var all []gamedb.DBRef
		for i := rapid.IntRange(1, 5).Draw(rt, "rooms"); i > 0; i-- {
			r := w.create(t, "room", gamedb.TypeRoom)
			rooms = append(rooms, r)
			all = append(all, r)
		}
		pickRoom := rapid.SampledFrom(rooms)
		for i := rapid.IntRange(0, 6).Draw(rt, "exits"); i > 0; i-- {
			all = append(all, w.exit(t, pickRoom.Draw(rt, "from"), pickRoom.Draw(rt, "to")))
		}
		for i := rapid.IntRange(0, 6).Draw(rt, "things"); i > 0; i-- {
			typ := rapid.SampledFrom([]gamedb.ObjectType{gamedb.TypeThing, gamedb.TypePlayer}).Draw(rt, "type")
			th := w.create(t, "thing", typ)
			w.db.Get(th).Exits = pickRoom.Draw(rt, "home")
			w.db.Get(th).Link = pickRoom.Draw(rt, "link")
			w.db.MoveTo(th, pickRoom.Draw(rt, "loc"))
			all = append(all, th)
		}
		for i := rapid.IntRange(0, 6).Draw(rt, "parents"); i > 0; i-- {
			sf := rapid.SampledFrom(all)
			_ = w.db.AddParent(1, sf.Draw(rt, "child"), sf.Draw(rt, "parent"))
		}
		x := rapid.SampledFrom(all).Draw(rt, "victim")
		require.NoError(rt, w.db.SetAttr(x, gamedb.AttrDesc, "soon gone"))

		if err := w.c.Destroy(x); err != nil {
			rt.Fatalf("destroy #%d: %v", x, err)
		}

		if len(w.db.Attrs(x)) != 0 {
			rt.Fatalf("#%d still has attributes", x)
		}
		onFree := false
		for _, r := range w.db.FreeList() {
			onFree = onFree || r == x
		}
		if !onFree {
			rt.Fatalf("#%d not on the free list", x)
		}
		for i := 0; i < w.db.Top(); i++ {
			r := gamedb.DBRef(i)
			if !w.db.GoodObject(r) {
				continue
			}
			o := w.db.Get(r)
			if o.Location == x || o.Contents == x || o.Exits == x || o.Link == x || o.Next == x {
				rt.Fatalf("#%d still points at destroyed #%d: %+v", r, x, o)
			}
			if o.HasParent(x) || o.HasChild(x) {
				rt.Fatalf("#%d still has an edge to destroyed #%d", r, x)
			}
		}
	})
}
