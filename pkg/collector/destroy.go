package collector

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/events"
	"github.com/crystal-mush/musedb/pkg/gamedb"
	"github.com/crystal-mush/musedb/pkg/obslog"
)

// Doom schedules ref for destruction after delay by setting Going and the
// Doomsday attribute. A zero delay destroys at the next reap.
func (c *Collector) Doom(ref gamedb.DBRef, delay time.Duration) error {
	if !c.db.GoodObject(ref) {
		return gamedb.ErrBadObject
	}
	if c.protected(ref) {
		return ErrProtected
	}
	o := c.db.Get(ref)
	o.SetFlag(gamedb.FlagGoing, true)
	when := c.db.Now().Add(delay).Unix()
	return c.db.SetAttr(ref, gamedb.AttrDoomsday, strconv.FormatInt(when, 10))
}

// Undoom cancels a scheduled destruction.
func (c *Collector) Undoom(ref gamedb.DBRef) error {
	if !c.db.GoodObject(ref) {
		return gamedb.ErrBadObject
	}
	c.db.Get(ref).SetFlag(gamedb.FlagGoing, false)
	c.db.ClearAttr(ref, gamedb.AttrDoomsday)
	return nil
}

// ReapDoomed destroys every going object whose doomsday has passed. With
// orphans set, going objects with no doomsday at all are destroyed too.
func (c *Collector) ReapDoomed(orphans bool) int {
	now := c.db.Now()
	n := 0
	for i := 0; i < c.db.Top(); i++ {
		ref := gamedb.DBRef(i)
		if !c.db.GoodObject(ref) || c.db.IsDestroyed(ref) || !c.db.Get(ref).IsGoing() {
			continue
		}
		when, ok := c.db.Doomsday(ref)
		if ok && when.After(now) {
			continue
		}
		if !ok && !orphans {
			continue
		}
		if err := c.Destroy(ref); err != nil {
			obslog.Important(c.log, "collector: doomed object not destroyed",
				zap.Int("ref", i), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

func (c *Collector) protected(ref gamedb.DBRef) bool {
	return ref == c.db.Root() || ref == c.cfg.StartRoom
}

// Destroy recycles ref: it severs every relationship, relocates what it
// held, refunds its owner and pushes the slot on the free list.
func (c *Collector) Destroy(ref gamedb.DBRef) error {
	db := c.db
	if !db.GoodObject(ref) {
		return gamedb.ErrBadObject
	}
	if c.protected(ref) {
		return ErrProtected
	}
	if c.depth >= maxDestroyDepth {
		obslog.Important(c.log, "collector: destruction nested too deeply, truncating",
			zap.Int("ref", int(ref)), zap.Int("depth", c.depth))
		return ErrRecursion
	}
	c.depth++
	defer func() { c.depth-- }()

	o := db.Get(ref)
	typ := o.ObjType()
	owner := o.Owner

	if c.sessions != nil {
		c.sessions.Disconnect(ref)
	}

	switch typ {
	case gamedb.TypeRoom:
	case gamedb.TypeExit:
		if db.GoodObject(o.Location) {
			db.RemoveExit(o.Location, ref)
		}
	default:
		if db.GoodObject(o.Location) {
			db.RemoveFromContents(o.Location, ref)
		}
	}
	o.Location = gamedb.Nothing
	o.Next = gamedb.Nothing

	db.DropDefs(ref)

	if typ == gamedb.TypeRoom {
		for _, ex := range db.ExitsOf(ref) {
			if err := c.Destroy(ex); err != nil {
				// unlink so the room's chain holds nothing stale
				db.RemoveExit(ref, ex)
				db.Get(ex).Location = gamedb.Nothing
			}
		}
		o.Exits = gamedb.Nothing
	}

	if c.bus != nil && typ == gamedb.TypeRoom {
		c.bus.EmitToContents(db, ref, events.Event{Type: events.EvDestroy, Ref: ref, ObjType: typ,
			Text: "The room around you dissolves."})
	}

	c.fixReferences(ref)

	for _, item := range db.ContentsOf(ref) {
		io := db.Get(item)
		dest := c.homeFor(item, io)
		if dest == ref {
			dest = gamedb.Nothing
		}
		db.MoveTo(item, dest)
	}
	o.Contents = gamedb.Nothing

	if db.GoodObject(owner) && owner != ref &&
		!db.Auth().HasCapability(owner, owner, gamedb.CapUnlimitedQuota) {
		if c.economy != nil {
			if cost := c.cfg.Costs[typ]; cost > 0 {
				c.economy.Refund(owner, cost)
			}
		}
		if typ != gamedb.TypePlayer {
			rq, _ := strconv.Atoi(db.GetAttr(owner, gamedb.AttrRQuota))
			db.SetAttr(owner, gamedb.AttrRQuota, strconv.Itoa(rq+1))
		}
	}

	db.FreeAll(ref)
	o.Powers = nil
	db.SeverEdges(ref)

	if c.queue != nil {
		c.queue.Cancel(ref)
	}

	c.emit(events.Event{Type: events.EvDestroy, Ref: ref, Related: owner, ObjType: typ,
		Text: o.Name})

	db.Recycle(ref)
	c.rec.Destroyed(typ)
	obslog.Diagnostic(c.log, "collector: destroyed", zap.Int("ref", int(ref)), zap.Stringer("type", typ))
	return nil
}

// fixReferences scans the table for fields still pointing at ref: links and
// homes, zones, owners, fighting targets and stray locations.
func (c *Collector) fixReferences(ref gamedb.DBRef) {
	db := c.db
	held := make(map[gamedb.DBRef]bool)
	for _, item := range db.ContentsOf(ref) {
		held[item] = true
	}
	for i := 0; i < db.Top(); i++ {
		r := gamedb.DBRef(i)
		if r == ref || !db.GoodObject(r) || db.IsDestroyed(r) {
			continue
		}
		x := db.Get(r)
		if x.Link == ref {
			x.Link = gamedb.Nothing
		}
		if x.Zone == ref {
			x.Zone = c.fallbackZone(r)
			if x.Zone == ref {
				x.Zone = gamedb.Nothing
			}
		}
		if x.Owner == ref {
			x.Owner = db.Root()
		}
		if x.Fighting == ref {
			x.Fighting = gamedb.Nothing
		}
		if x.ObjType() != gamedb.TypeRoom && x.Exits == ref {
			x.Exits = gamedb.Nothing
			if h := c.homeFor(r, x); h != ref {
				x.Exits = h
			}
		}
		if x.Next == ref {
			x.Next = gamedb.Nothing
		}
		if x.Location == ref && !held[r] {
			// not in the chain; contents relocation will not find it
			if x.ObjType() == gamedb.TypeExit {
				x.Location = gamedb.Nothing
				c.Doom(r, 0)
			} else {
				x.Location = gamedb.Nothing
				dest := c.homeFor(r, x)
				if dest != ref {
					db.MoveTo(r, dest)
				}
			}
		}
	}
}
