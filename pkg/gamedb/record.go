package gamedb

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/obslog"
)

// AttrRef identifies a definition independent of memory: a built-in by
// number, or a user definition by owner and index in the owner's list.
type AttrRef struct {
	Builtin int   // > 0 for built-ins
	Owner   DBRef // user definitions only
	Index   int
}

// AttrRecord is a persisted attribute-list entry.
type AttrRecord struct {
	Ref   AttrRef
	Value string
}

// DefRecord is a persisted user definition.
type DefRecord struct {
	Name  string
	Flags int
	Owner DBRef
}

// Record is the portable form of one object, shared by the flatfile codec
// and the bolt store.
type Record struct {
	Ref         DBRef
	Name        string
	DisplayName string
	Location    DBRef
	Zone        DBRef
	Contents    DBRef
	Exits       DBRef
	Fighting    DBRef
	Link        DBRef
	Next        DBRef
	Owner       DBRef
	Flags       int
	Modified    int64
	Created     int64
	Powers      []int
	Attrs       []AttrRecord
	Parents     []DBRef
	Children    []DBRef
	Defs        []DefRecord
}

// NewRecord returns a record with every pointer field Nothing.
func NewRecord(ref DBRef) *Record {
	return &Record{
		Ref:      ref,
		Location: Nothing,
		Zone:     Nothing,
		Contents: Nothing,
		Exits:    Nothing,
		Fighting: Nothing,
		Link:     Nothing,
		Next:     Nothing,
		Owner:    Nothing,
		Flags:    int(TypeThing),
	}
}

// RefOf returns the persistent reference for def.
func (db *DB) RefOf(def *AttrDef) (AttrRef, bool) {
	if def.IsBuiltin() {
		return AttrRef{Builtin: def.Number}, def.Number > 0
	}
	idx := db.DefIndex(def)
	if idx < 0 {
		return AttrRef{}, false
	}
	return AttrRef{Owner: def.Owner, Index: idx}, true
}

// Export builds the record for obj. Unsaved attributes and entries whose
// definition is no longer linked are omitted.
func (db *DB) Export(obj DBRef) (*Record, bool) {
	if !db.GoodObject(obj) {
		return nil, false
	}
	o := db.objs[obj]
	r := &Record{
		Ref:         obj,
		Name:        o.Name,
		DisplayName: o.DisplayName,
		Location:    o.Location,
		Zone:        o.Zone,
		Contents:    o.Contents,
		Exits:       o.Exits,
		Fighting:    o.Fighting,
		Link:        o.Link,
		Next:        o.Next,
		Owner:       o.Owner,
		Flags:       o.Flags,
		Modified:    unixOrZero(o.Modified),
		Created:     unixOrZero(o.Created),
		Powers:      append([]int(nil), o.Powers...),
		Parents:     append([]DBRef(nil), o.Parents...),
		Children:    append([]DBRef(nil), o.Children...),
	}
	for _, e := range o.attrs {
		if e.def == nil || e.def.Flags&AFUnsaved != 0 {
			continue
		}
		ref, ok := db.RefOf(e.def)
		if !ok {
			obslog.Diagnostic(db.log, "gamedb: skipping entry with unlinked definition",
				zap.Int("ref", int(obj)), zap.String("attr", e.def.Name))
			continue
		}
		r.Attrs = append(r.Attrs, AttrRecord{Ref: ref, Value: string(e.val)})
	}
	for _, d := range o.Defs {
		r.Defs = append(r.Defs, DefRecord{Name: d.Name, Flags: d.Flags, Owner: d.Owner})
	}
	return r, true
}

// ExportAll returns records for every live object in index order.
func (db *DB) ExportAll() []*Record {
	out := make([]*Record, 0, len(db.objs))
	for i := range db.objs {
		if r, ok := db.Export(DBRef(i)); ok {
			out = append(out, r)
		}
	}
	return out
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(secs int64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// Restore materializes records into an empty database. The table is sized
// to top or the highest record, whichever is larger. Slots with no record
// are left in the destroyed state but not pushed on the free list; the
// consistency pass rebuilds it. Attribute references are resolved only
// after every definition is known, so records may refer forward.
func (db *DB) Restore(top int, recs []*Record) error {
	if len(db.objs) != 0 {
		return ErrNotEmpty
	}
	for _, r := range recs {
		if r.Ref < 0 {
			return fmt.Errorf("gamedb: record with negative ref #%d", r.Ref)
		}
		if int(r.Ref) >= top {
			top = int(r.Ref) + 1
		}
	}
	if top > db.maxObjects {
		return fmt.Errorf("%w: restore needs %d slots, max %d", ErrTableFull, top, db.maxObjects)
	}
	if err := db.Grow(top); err != nil {
		return err
	}
	present := make([]bool, top)

	// Phase 1: objects and definitions.
	for _, r := range recs {
		if present[r.Ref] {
			return fmt.Errorf("gamedb: duplicate record #%d", r.Ref)
		}
		present[r.Ref] = true
		o := db.objs[r.Ref]
		o.Name = r.Name
		o.DisplayName = r.DisplayName
		o.Location = r.Location
		o.Zone = r.Zone
		o.Contents = r.Contents
		o.Exits = r.Exits
		o.Fighting = r.Fighting
		o.Link = r.Link
		o.Next = r.Next
		o.Owner = r.Owner
		o.Flags = r.Flags
		o.Modified = timeOrZero(r.Modified)
		o.Created = timeOrZero(r.Created)
		o.Powers = append([]int(nil), r.Powers...)
		o.Parents = append([]DBRef(nil), r.Parents...)
		o.Children = append([]DBRef(nil), r.Children...)
		o.IFlags = IRecount
		for _, d := range r.Defs {
			o.Defs = append(o.Defs, &AttrDef{Name: d.Name, Flags: d.Flags, Owner: r.Ref, refs: 1})
		}
	}
	for i := range db.objs {
		if !present[i] {
			o := db.objs[i]
			o.Owner = db.root
			o.Flags = int(TypeThing) | FlagGoing
		}
	}

	// Phase 2: attribute entries.
	for _, r := range recs {
		o := db.objs[r.Ref]
		for _, a := range r.Attrs {
			def := db.resolveRef(a.Ref)
			if def == nil {
				obslog.Diagnostic(db.log, "gamedb: dropping attribute with unknown definition",
					zap.Int("ref", int(r.Ref)), zap.Int("builtin", a.Ref.Builtin),
					zap.Int("owner", int(a.Ref.Owner)), zap.Int("index", a.Ref.Index))
				continue
			}
			if def.IsComputed() || a.Value == "" || o.entry(def) != nil {
				continue
			}
			o.attrs = append(o.attrs, &attrEntry{def: def, val: []byte(a.Value)})
			def.retain()
		}
	}
	db.cache.reset()
	return nil
}

func (db *DB) resolveRef(ref AttrRef) *AttrDef {
	if ref.Builtin > 0 {
		return db.reg.BuiltinByNumber(ref.Builtin)
	}
	o := db.Get(ref.Owner)
	if o == nil || ref.Index < 0 || ref.Index >= len(o.Defs) {
		return nil
	}
	return o.Defs[ref.Index]
}
