package gamedb

import (
	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/obslog"
)

// MaxIsADepth bounds ancestor searches. Ancestors further away than this
// are treated as unrelated.
const MaxIsADepth = 20

// IsA reports whether anc is desc or one of its ancestors within
// MaxIsADepth generations. Cycles terminate through the visited set.
func (db *DB) IsA(desc, anc DBRef) bool {
	if desc == anc {
		return true
	}
	if !db.GoodObject(desc) {
		return false
	}
	visited := map[DBRef]bool{desc: true}
	frontier := []DBRef{desc}
	for depth := 0; depth < MaxIsADepth && len(frontier) > 0; depth++ {
		var next []DBRef
		for _, r := range frontier {
			for _, p := range db.objs[r].Parents {
				if p == anc {
					return true
				}
				if !visited[p] && db.GoodObject(p) {
					visited[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return false
}

// Ancestors returns obj's ancestors nearest first, excluding obj, up to
// MaxIsADepth generations.
func (db *DB) Ancestors(obj DBRef) []DBRef {
	if !db.GoodObject(obj) {
		return nil
	}
	var out []DBRef
	visited := map[DBRef]bool{obj: true}
	frontier := []DBRef{obj}
	for depth := 0; depth < MaxIsADepth && len(frontier) > 0; depth++ {
		var next []DBRef
		for _, r := range frontier {
			for _, p := range db.objs[r].Parents {
				if !visited[p] && db.GoodObject(p) {
					visited[p] = true
					out = append(out, p)
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return out
}

// Descendants returns every object reachable through child arrays,
// excluding obj. The walk is unbounded in depth.
func (db *DB) Descendants(obj DBRef) []DBRef {
	if !db.GoodObject(obj) {
		return nil
	}
	var out []DBRef
	visited := map[DBRef]bool{obj: true}
	work := []DBRef{obj}
	for len(work) > 0 {
		r := work[len(work)-1]
		work = work[:len(work)-1]
		for _, c := range db.objs[r].Children {
			if !visited[c] && db.GoodObject(c) {
				visited[c] = true
				out = append(out, c)
				work = append(work, c)
			}
		}
	}
	return out
}

// AddParent makes parent a parent of child on behalf of actor.
func (db *DB) AddParent(actor, child, parent DBRef) error {
	if !db.GoodObject(child) || !db.GoodObject(parent) {
		return ErrBadObject
	}
	if db.IsA(parent, child) {
		return ErrCycle
	}
	if !db.auth.HasCapability(actor, child, CapModify) || !db.auth.HasCapability(actor, parent, CapParent) {
		obslog.Security(db.log, "gamedb: parent denied",
			zap.Int("actor", int(actor)), zap.Int("child", int(child)), zap.Int("parent", int(parent)))
		return ErrPermission
	}
	c, p := db.objs[child], db.objs[parent]
	if c.HasParent(parent) {
		return ErrAlreadyParent
	}
	c.Parents = append(c.Parents, parent)
	if !p.HasChild(child) {
		p.Children = append(p.Children, child)
	}
	db.cache.reset()
	db.notify(ChangeParent, child)
	return nil
}

// RemoveParent severs the parent edge between child and parent.
func (db *DB) RemoveParent(actor, child, parent DBRef) error {
	if !db.GoodObject(child) {
		return ErrBadObject
	}
	c := db.objs[child]
	if !c.HasParent(parent) {
		return ErrNotParent
	}
	if !db.auth.HasCapability(actor, child, CapModify) {
		obslog.Security(db.log, "gamedb: unparent denied",
			zap.Int("actor", int(actor)), zap.Int("child", int(child)), zap.Int("parent", int(parent)))
		return ErrPermission
	}
	db.unparent(child, parent)
	db.notify(ChangeUnparent, child)
	return nil
}

// unparent drops the edge in both directions without checks.
func (db *DB) unparent(child, parent DBRef) {
	if c := db.Get(child); c != nil {
		c.Parents = removeRef(c.Parents, parent)
	}
	if p := db.Get(parent); p != nil {
		p.Children = removeRef(p.Children, child)
	}
	db.cache.reset()
}

// SeverEdges removes obj from every parent's child array and every child's
// parent array, then clears its own arrays.
func (db *DB) SeverEdges(obj DBRef) {
	o := db.Get(obj)
	if o == nil {
		return
	}
	for _, p := range o.Parents {
		if po := db.Get(p); po != nil {
			po.Children = removeRef(po.Children, obj)
		}
	}
	for _, c := range o.Children {
		if co := db.Get(c); co != nil {
			co.Parents = removeRef(co.Parents, obj)
		}
	}
	o.Parents = nil
	o.Children = nil
	db.cache.reset()
}
