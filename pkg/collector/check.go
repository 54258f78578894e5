package collector

import (
	"strings"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// check runs the per-object consistency checks shared by the incremental
// and full passes. Every correction is logged and counted.
func (c *Collector) check(ref gamedb.DBRef) {
	db := c.db
	o := db.Get(ref)
	if o == nil {
		return
	}

	// Re-materialize the display name with a bounded copy.
	name := o.DisplayName
	if len(name) > c.cfg.MaxNameLen {
		name = name[:c.cfg.MaxNameLen]
	}
	o.DisplayName = strings.Clone(name)

	db.CollectGarbage(ref)

	if db.IsDestroyed(ref) {
		return
	}

	c.checkParents(ref, o)
	c.checkChildren(ref, o)
	c.checkAttrs(ref)
	c.checkZone(ref, o)
	c.checkFields(ref, o)

	if db.GoodObject(o.Owner) && db.BytesUsed(o.Owner) < 0 {
		db.RecalcOwnerBytes(o.Owner)
	} else if o.IFlags&gamedb.IRecount != 0 {
		db.RecalcBytes(ref)
	}
}

func (c *Collector) checkParents(ref gamedb.DBRef, o *gamedb.Object) {
	fixes := 0
	for i := 0; i < len(o.Parents) && fixes < maxEdgeFixes; {
		p := o.Parents[i]
		if p != ref && c.db.GoodObject(p) && c.db.Get(p).HasChild(ref) {
			i++
			continue
		}
		o.Parents = append(o.Parents[:i:i], o.Parents[i+1:]...)
		fixes++
		c.repaired("parent", ref, "dropped one-sided parent", zap.Int("parent", int(p)))
	}
	if len(o.Parents) == 0 {
		o.Parents = nil
	}
	if fixes > 0 {
		c.db.InvalidateCache()
	}
}

func (c *Collector) checkChildren(ref gamedb.DBRef, o *gamedb.Object) {
	fixes := 0
	for i := 0; i < len(o.Children) && fixes < maxEdgeFixes; {
		ch := o.Children[i]
		if ch != ref && c.db.GoodObject(ch) && c.db.Get(ch).HasParent(ref) {
			i++
			continue
		}
		o.Children = append(o.Children[:i:i], o.Children[i+1:]...)
		fixes++
		c.repaired("child", ref, "dropped one-sided child", zap.Int("child", int(ch)))
	}
	if len(o.Children) == 0 {
		o.Children = nil
	}
	if fixes > 0 {
		c.db.InvalidateCache()
	}
}

// checkAttrs drops entries whose definition was unlinked or belongs to an
// object ref no longer descends from.
func (c *Collector) checkAttrs(ref gamedb.DBRef) {
	for _, a := range c.db.Attrs(ref) {
		d := a.Def
		if d.IsBuiltin() {
			continue
		}
		if c.db.DefLinked(d) && c.db.IsA(ref, d.Owner) {
			continue
		}
		c.db.ClearAttr(ref, d)
		c.repaired("attr", ref, "dropped attribute with foreign definition",
			zap.String("attr", d.Name), zap.Int("owner", int(d.Owner)))
	}
}

func (c *Collector) fallbackZone(ref gamedb.DBRef) gamedb.DBRef {
	if ref == c.cfg.DefaultZone || !c.db.GoodObject(c.cfg.DefaultZone) {
		return gamedb.Nothing
	}
	return c.cfg.DefaultZone
}

// checkZone walks the zone chain up to the nesting limit; a chain that
// dangles, loops, or runs too deep is re-pointed at the default zone.
func (c *Collector) checkZone(ref gamedb.DBRef, o *gamedb.Object) {
	if o.Zone == gamedb.Nothing {
		return
	}
	seen := map[gamedb.DBRef]bool{ref: true}
	cur := o.Zone
	for hops := 0; cur != gamedb.Nothing; hops++ {
		if !c.db.GoodObject(cur) || seen[cur] || hops >= c.cfg.ZoneNestLimit {
			bad := o.Zone
			o.Zone = c.fallbackZone(ref)
			c.repaired("zone", ref, "reset broken zone chain", zap.Int("zone", int(bad)))
			return
		}
		seen[cur] = true
		cur = c.db.Get(cur).Zone
	}
}

func (c *Collector) okRef(r gamedb.DBRef) bool {
	return r == gamedb.Nothing || c.db.GoodObject(r)
}

func (c *Collector) homeFor(ref gamedb.DBRef, o *gamedb.Object) gamedb.DBRef {
	if h := o.Home(); h != ref && c.db.GoodObject(h) && c.db.Get(h).ObjType() != gamedb.TypeExit {
		return h
	}
	if c.db.GoodObject(c.cfg.DefaultHome) && c.cfg.DefaultHome != ref {
		return c.cfg.DefaultHome
	}
	return gamedb.Nothing
}

// checkFields applies the type-specific legality rules to pointer fields.
func (c *Collector) checkFields(ref gamedb.DBRef, o *gamedb.Object) {
	db := c.db
	switch o.ObjType() {
	case gamedb.TypeRoom:
		if o.Location != ref {
			c.repaired("location", ref, "room location reset to self", zap.Int("was", int(o.Location)))
			o.Location = ref
		}
		if o.Link != gamedb.Home && !c.okRef(o.Link) {
			c.repaired("link", ref, "cleared dangling drop-to", zap.Int("was", int(o.Link)))
			o.Link = gamedb.Nothing
		}
		if o.Next != gamedb.Nothing {
			c.repaired("next", ref, "room had a next pointer", zap.Int("was", int(o.Next)))
			o.Next = gamedb.Nothing
		}
		c.checkChain(ref, &o.Exits, "exits", func(x *gamedb.Object) bool {
			return x.ObjType() == gamedb.TypeExit
		})

	case gamedb.TypeExit:
		if !db.GoodObject(o.Location) || db.Get(o.Location).ObjType() != gamedb.TypeRoom {
			if !o.IsGoing() {
				c.repaired("location", ref, "exit has no source room, scheduling destruction",
					zap.Int("was", int(o.Location)))
				c.Doom(ref, 0)
			}
		}
		if o.Link != gamedb.Home && !c.okRef(o.Link) {
			c.repaired("link", ref, "cleared dangling exit destination", zap.Int("was", int(o.Link)))
			o.Link = gamedb.Nothing
		}
		if o.Contents != gamedb.Nothing {
			c.repaired("contents", ref, "exit had contents", zap.Int("was", int(o.Contents)))
			o.Contents = gamedb.Nothing
		}

	default:
		if h := o.Exits; h != gamedb.Nothing && (!db.GoodObject(h) || db.Get(h).ObjType() == gamedb.TypeExit || h == ref) {
			o.Exits = c.homeFor(ref, o)
			c.repaired("exits", ref, "reset dangling home", zap.Int("was", int(h)), zap.Int("now", int(o.Exits)))
		}
		if !c.okRef(o.Link) {
			c.repaired("link", ref, "cleared dangling link", zap.Int("was", int(o.Link)))
			o.Link = gamedb.Nothing
		}
		loc := o.Location
		if loc != gamedb.Nothing && (!db.GoodObject(loc) || db.Get(loc).ObjType() == gamedb.TypeExit || loc == ref) {
			o.Location = gamedb.Nothing
			o.Next = gamedb.Nothing
			dest := c.homeFor(ref, o)
			db.MoveTo(ref, dest)
			c.repaired("location", ref, "relocated object from dangling location",
				zap.Int("was", int(loc)), zap.Int("now", int(dest)))
		}
	}

	if !c.okRef(o.Next) {
		c.repaired("next", ref, "cleared dangling next", zap.Int("was", int(o.Next)))
		o.Next = gamedb.Nothing
	}
	if o.ObjType() != gamedb.TypeExit {
		c.checkChain(ref, &o.Contents, "contents", func(x *gamedb.Object) bool {
			t := x.ObjType()
			return t != gamedb.TypeRoom && t != gamedb.TypeExit
		})
	}
	if !db.GoodObject(o.Owner) {
		c.repaired("owner", ref, "owner reset to root", zap.Int("was", int(o.Owner)))
		o.Owner = db.Root()
	}
	if !c.okRef(o.Fighting) {
		c.repaired("fighting", ref, "cleared dangling fighting target", zap.Int("was", int(o.Fighting)))
		o.Fighting = gamedb.Nothing
	}
}

// checkChain truncates a contents or exit chain at the first element that
// is out of range, of the wrong type, or repeats.
func (c *Collector) checkChain(ref gamedb.DBRef, head *gamedb.DBRef, kind string, ok func(*gamedb.Object) bool) {
	seen := make(map[gamedb.DBRef]bool)
	link := head
	for *link != gamedb.Nothing {
		cur := *link
		if !c.db.GoodObject(cur) || seen[cur] || !ok(c.db.Get(cur)) {
			c.repaired(kind, ref, "truncated corrupt "+kind+" chain", zap.Int("at", int(cur)))
			*link = gamedb.Nothing
			return
		}
		seen[cur] = true
		link = &c.db.Get(cur).Next
	}
}
