package validate

import (
	"fmt"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// EdgeChecker reports parent/child edges recorded on one side only. The fix
// drops the stray half.
type EdgeChecker struct{}

func (c *EdgeChecker) Name() string { return "edges" }

func (c *EdgeChecker) Check(db *gamedb.DB) []Finding {
	var findings []Finding
	for _, ref := range liveRefs(db) {
		obj := db.Get(ref)
		for _, p := range obj.Parents {
			if po := db.Get(p); db.GoodObject(p) && po.HasChild(ref) {
				continue
			}
			p := p
			findings = append(findings, Finding{
				Category:    CatEdge,
				Severity:    SevError,
				ObjectRef:   ref,
				Field:       "parents",
				Description: fmt.Sprintf("#%d lists parent #%d, which does not list it as a child", ref, p),
				Current:     refStr(p),
				Fixable:     true,
				fixFunc:     func() { obj.Parents = without(obj.Parents, p) },
			})
		}
		for _, ch := range obj.Children {
			if co := db.Get(ch); db.GoodObject(ch) && co.HasParent(ref) {
				continue
			}
			ch := ch
			findings = append(findings, Finding{
				Category:    CatEdge,
				Severity:    SevError,
				ObjectRef:   ref,
				Field:       "children",
				Description: fmt.Sprintf("#%d lists child #%d, which does not list it as a parent", ref, ch),
				Current:     refStr(ch),
				Fixable:     true,
				fixFunc:     func() { obj.Children = without(obj.Children, ch) },
			})
		}
	}
	return findings
}

func without(list []gamedb.DBRef, r gamedb.DBRef) []gamedb.DBRef {
	out := list[:0]
	for _, x := range list {
		if x != r {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// AttrChecker reports attribute entries whose user definition is no longer
// linked or belongs to an object that is not an ancestor.
type AttrChecker struct{}

func (c *AttrChecker) Name() string { return "attrs" }

func (c *AttrChecker) Check(db *gamedb.DB) []Finding {
	var findings []Finding
	for _, ref := range liveRefs(db) {
		for _, a := range db.Attrs(ref) {
			d := a.Def
			if d.IsBuiltin() {
				continue
			}
			var why string
			switch {
			case !db.DefLinked(d):
				why = "is no longer defined"
			case !db.IsA(ref, d.Owner):
				why = fmt.Sprintf("belongs to #%d, which is not an ancestor", d.Owner)
			default:
				continue
			}
			ref := ref
			findings = append(findings, Finding{
				Category:    CatForeignAttr,
				Severity:    SevWarning,
				ObjectRef:   ref,
				AttrName:    d.Name,
				Description: fmt.Sprintf("#%d attribute %s %s", ref, d.Name, why),
				Current:     a.Value,
				Fixable:     true,
				fixFunc:     func() { db.ClearAttr(ref, d) },
			})
		}
	}
	return findings
}

// RefcountChecker compares every definition's reference count with the
// number of entries that use it plus one for the definition itself.
type RefcountChecker struct{}

func (c *RefcountChecker) Name() string { return "refcount" }

func (c *RefcountChecker) Check(db *gamedb.DB) []Finding {
	uses := make(map[*gamedb.AttrDef]int)
	live := liveRefs(db)
	for _, ref := range live {
		for _, a := range db.Attrs(ref) {
			uses[a.Def]++
		}
	}
	var findings []Finding
	for _, ref := range live {
		for _, d := range db.Get(ref).Defs {
			want := 1 + uses[d]
			if d.Refs() == want && !d.Freed() {
				continue
			}
			findings = append(findings, Finding{
				Category:    CatRefcount,
				Severity:    SevError,
				ObjectRef:   ref,
				AttrName:    d.Name,
				Description: fmt.Sprintf("#%d definition %s has %d references, expected %d", ref, d.Name, d.Refs(), want),
				Current:     fmt.Sprint(d.Refs()),
				Proposed:    fmt.Sprint(want),
				Fixable:     true,
				fixFunc:     db.RecountRefs,
			})
		}
	}
	return findings
}

// FreeListChecker reports live objects on the free list and destroyed
// slots missing from it. The fix rebuilds the list.
type FreeListChecker struct{}

func (c *FreeListChecker) Name() string { return "freelist" }

func (c *FreeListChecker) Check(db *gamedb.DB) []Finding {
	var findings []Finding
	onList := make(map[gamedb.DBRef]bool)
	for _, ref := range db.FreeList() {
		if onList[ref] {
			findings = append(findings, Finding{
				Category:    CatFreeList,
				Severity:    SevError,
				ObjectRef:   ref,
				Description: fmt.Sprintf("#%d appears on the free list twice", ref),
				Fixable:     true,
				fixFunc:     func() { db.RebuildFreeList() },
			})
		}
		onList[ref] = true
		if !db.IsDestroyed(ref) {
			findings = append(findings, Finding{
				Category:    CatFreeList,
				Severity:    SevError,
				ObjectRef:   ref,
				Description: fmt.Sprintf("#%d is on the free list but not destroyed", ref),
				Fixable:     true,
				fixFunc:     func() { db.RebuildFreeList() },
			})
		}
	}
	for i := 0; i < db.Top(); i++ {
		ref := gamedb.DBRef(i)
		if db.IsDestroyed(ref) && !onList[ref] {
			findings = append(findings, Finding{
				Category:    CatFreeList,
				Severity:    SevWarning,
				ObjectRef:   ref,
				Description: fmt.Sprintf("#%d is destroyed but not on the free list", ref),
				Fixable:     true,
				fixFunc:     func() { db.RebuildFreeList() },
			})
		}
	}
	return findings
}

// ZoneChecker follows each zone chain up to Limit hops.
type ZoneChecker struct {
	// Limit is the nesting bound (default 15).
	Limit int
}

func (c *ZoneChecker) Name() string { return "zones" }

func (c *ZoneChecker) Check(db *gamedb.DB) []Finding {
	limit := c.Limit
	if limit <= 0 {
		limit = 15
	}
	var findings []Finding
	for _, ref := range liveRefs(db) {
		obj := db.Get(ref)
		seen := map[gamedb.DBRef]bool{ref: true}
		for cur, hops := obj.Zone, 0; cur != gamedb.Nothing; hops++ {
			var why string
			switch {
			case !db.GoodObject(cur):
				why = fmt.Sprintf("dangles at #%d", cur)
			case seen[cur]:
				why = fmt.Sprintf("loops at #%d", cur)
			case hops >= limit:
				why = fmt.Sprintf("is deeper than %d", limit)
			}
			if why != "" {
				findings = append(findings, Finding{
					Category:    CatZone,
					Severity:    SevWarning,
					ObjectRef:   ref,
					Field:       "zone",
					Description: fmt.Sprintf("#%d zone chain %s", ref, why),
					Current:     refStr(obj.Zone),
				})
				break
			}
			seen[cur] = true
			cur = db.Get(cur).Zone
		}
	}
	return findings
}
