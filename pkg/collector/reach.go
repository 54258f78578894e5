package collector

import (
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/events"
	"github.com/crystal-mush/musedb/pkg/gamedb"
	"github.com/crystal-mush/musedb/pkg/obslog"
)

// Report is the outcome of a full consistency pass.
type Report struct {
	Destroyed    int            // doomed objects recycled
	Free         int            // free list length after the rebuild
	Disconnected []gamedb.DBRef // rooms unreachable from the start room
	Unlinked     []gamedb.DBRef // exits with no destination
	Elapsed      time.Duration
}

// FixFreeList runs the full consistency pass: it reaps doomed objects,
// checks every object, rebuilds the free list and reports disconnected
// rooms and unlinked exits.
func (c *Collector) FixFreeList() Report {
	start := time.Now()
	var rep Report
	rep.Destroyed = c.ReapDoomed(true)
	for i := 0; i < c.db.Top(); i++ {
		c.check(gamedb.DBRef(i))
	}
	// checks may have doomed dangling exits
	rep.Destroyed += c.ReapDoomed(false)
	rep.Free = c.db.RebuildFreeList()
	rep.Disconnected, rep.Unlinked = c.Reachability()
	rep.Elapsed = time.Since(start)

	c.rec.Pass(true, rep.Elapsed)
	obslog.Important(c.log, "collector: full pass complete",
		zap.Int("destroyed", rep.Destroyed), zap.Int("free", rep.Free),
		zap.Int("disconnected", len(rep.Disconnected)), zap.Int("unlinked", len(rep.Unlinked)),
		zap.Duration("elapsed", rep.Elapsed))
	c.emit(events.Event{Type: events.EvGCPass, Ref: gamedb.Nothing, Related: gamedb.Nothing,
		Data: map[string]any{
			"destroyed":    rep.Destroyed,
			"free":         rep.Free,
			"disconnected": len(rep.Disconnected),
			"unlinked":     len(rep.Unlinked),
		}})
	return rep
}

// Reachability marks every room reachable through exit links from the
// start room, from floating rooms, and from rooms that hold or are home to
// a player, channel or thing. It returns the unmarked rooms and the exits
// with no destination. Marks are cleared before returning.
func (c *Collector) Reachability() (disconnected, unlinked []gamedb.DBRef) {
	db := c.db
	var work []gamedb.DBRef
	mark := func(r gamedb.DBRef) {
		o := db.Get(r)
		if !db.GoodObject(r) || o.ObjType() != gamedb.TypeRoom || o.IFlags&gamedb.IMark != 0 {
			return
		}
		o.IFlags |= gamedb.IMark
		work = append(work, r)
	}

	mark(c.cfg.StartRoom)
	for i := 0; i < db.Top(); i++ {
		r := gamedb.DBRef(i)
		if !db.GoodObject(r) || db.IsDestroyed(r) {
			continue
		}
		o := db.Get(r)
		switch o.ObjType() {
		case gamedb.TypeRoom:
			if o.HasFlag(gamedb.FlagFloating) {
				mark(r)
			}
		case gamedb.TypePlayer, gamedb.TypeChannel, gamedb.TypeThing:
			mark(o.Location)
			mark(o.Exits)
			mark(o.Link)
		}
	}

	for len(work) > 0 {
		room := work[len(work)-1]
		work = work[:len(work)-1]
		for _, ex := range db.ExitsOf(room) {
			mark(db.Get(ex).Link)
		}
	}

	for i := 0; i < db.Top(); i++ {
		r := gamedb.DBRef(i)
		if !db.GoodObject(r) || db.IsDestroyed(r) {
			continue
		}
		o := db.Get(r)
		switch o.ObjType() {
		case gamedb.TypeRoom:
			if o.IFlags&gamedb.IMark == 0 {
				disconnected = append(disconnected, r)
			}
		case gamedb.TypeExit:
			if o.Link == gamedb.Nothing {
				unlinked = append(unlinked, r)
			}
		}
		o.IFlags &^= gamedb.IMark
	}
	return disconnected, unlinked
}
