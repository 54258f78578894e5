package gamedb

import "time"

// attrEntry is one (definition, value) pair on an object. A cleared entry
// stays in the chain as a tombstone (def == nil) until CollectGarbage.
type attrEntry struct {
	def *AttrDef
	val []byte
}

// AttrValue is a read-only view of a live attribute-list entry.
type AttrValue struct {
	Def   *AttrDef
	Value string
}

// readCache remembers the last (object, definition) read.
type readCache struct {
	obj DBRef
	def *AttrDef
	val string
}

func (c *readCache) reset() {
	c.obj = Nothing
	c.def = nil
	c.val = ""
}

// InvalidateCache forgets the last attribute read. Callers that edit
// Parents or Children directly must call it.
func (db *DB) InvalidateCache() { db.cache.reset() }

func (o *Object) entry(def *AttrDef) *attrEntry {
	for _, e := range o.attrs {
		if e.def == def {
			return e
		}
	}
	return nil
}

// SetAttr stores value for def on obj. An empty value clears the entry. When
// the existing buffer is large enough it is overwritten in place.
func (db *DB) SetAttr(obj DBRef, def *AttrDef, value string) error {
	if !db.GoodObject(obj) {
		return ErrBadObject
	}
	if def == nil || def.Freed() {
		return ErrNoSuchAttr
	}
	if def.IsComputed() {
		return ErrComputedAttr
	}
	if value == "" {
		db.ClearAttr(obj, def)
		return nil
	}
	db.cache.reset()
	o := db.objs[obj]
	if e := o.entry(def); e != nil {
		if len(value) <= cap(e.val) {
			e.val = append(e.val[:0], value...)
		} else {
			e.val = []byte(value)
		}
	} else {
		o.attrs = append(o.attrs, &attrEntry{def: def, val: []byte(value)})
		def.retain()
	}
	db.touch(o, def)
	return nil
}

func (db *DB) touch(o *Object, def *AttrDef) {
	if def.Flags&AFNoMem != 0 {
		return
	}
	o.Modified = db.clock.Now()
	if owner := db.Get(o.Owner); owner != nil {
		owner.IFlags |= IRecount
	}
	o.IFlags |= IRecount
}

// GetAttr returns obj's value for def. Inheritable definitions fall back to the
// first non-empty ancestor value; computed built-ins are synthesized.
func (db *DB) GetAttr(obj DBRef, def *AttrDef) string {
	if !db.GoodObject(obj) || def == nil || def.Freed() {
		return ""
	}
	if def.IsComputed() {
		return db.computed(db.objs[obj], def)
	}
	if db.cache.def == def && db.cache.obj == obj {
		return db.cache.val
	}
	val := db.own(obj, def)
	if val == "" && def.Inheritable() {
		for _, a := range db.Ancestors(obj) {
			if v := db.own(a, def); v != "" {
				val = v
				break
			}
		}
	}
	db.cache.obj, db.cache.def, db.cache.val = obj, def, val
	return val
}

func (db *DB) own(obj DBRef, def *AttrDef) string {
	if !db.GoodObject(obj) {
		return ""
	}
	if e := db.objs[obj].entry(def); e != nil {
		return string(e.val)
	}
	return ""
}

// HasAttr reports whether obj itself carries an entry for def.
func (db *DB) HasAttr(obj DBRef, def *AttrDef) bool {
	return db.GoodObject(obj) && def != nil && db.objs[obj].entry(def) != nil
}

// ClearAttr removes obj's entry for def, releasing one reference. It reports
// whether an entry was present.
func (db *DB) ClearAttr(obj DBRef, def *AttrDef) bool {
	o := db.Get(obj)
	if o == nil || def == nil {
		return false
	}
	e := o.entry(def)
	if e == nil {
		return false
	}
	db.cache.reset()
	e.def = nil
	e.val = nil
	db.touch(o, def)
	def.release()
	return true
}

// FreeAll releases every entry on obj and empties its chain.
func (db *DB) FreeAll(obj DBRef) {
	o := db.Get(obj)
	if o == nil {
		return
	}
	db.cache.reset()
	for _, e := range o.attrs {
		if e.def != nil {
			e.def.release()
		}
	}
	o.attrs = nil
	o.IFlags |= IRecount
}

// CollectGarbage compacts obj's chain, dropping tombstones and entries
// whose definition was freed. It returns the number of slots removed.
func (db *DB) CollectGarbage(obj DBRef) int {
	o := db.Get(obj)
	if o == nil || len(o.attrs) == 0 {
		return 0
	}
	live := make([]*attrEntry, 0, len(o.attrs))
	for _, e := range o.attrs {
		if e.def == nil || e.def.Freed() {
			continue
		}
		live = append(live, e)
	}
	dropped := len(o.attrs) - len(live)
	if len(live) == 0 {
		live = nil
	}
	o.attrs = live
	if dropped > 0 {
		db.cache.reset()
	}
	return dropped
}

// CopyNonInheritable copies src's non-inheritable entries onto dest.
// Inheritable values reach a clone through its parents instead.
func (db *DB) CopyNonInheritable(dest, src DBRef) error {
	if !db.GoodObject(dest) || !db.GoodObject(src) {
		return ErrBadObject
	}
	for _, e := range db.objs[src].attrs {
		if e.def == nil || e.def.Inheritable() {
			continue
		}
		if err := db.SetAttr(dest, e.def, string(e.val)); err != nil {
			return err
		}
	}
	return nil
}

// Attrs returns the live entries on obj in chain order.
func (db *DB) Attrs(obj DBRef) []AttrValue {
	o := db.Get(obj)
	if o == nil {
		return nil
	}
	var out []AttrValue
	for _, e := range o.attrs {
		if e.def != nil {
			out = append(out, AttrValue{Def: e.def, Value: string(e.val)})
		}
	}
	return out
}

// ChainLen returns the raw chain length of obj, tombstones included.
func (db *DB) ChainLen(obj DBRef) int {
	o := db.Get(obj)
	if o == nil {
		return 0
	}
	return len(o.attrs)
}

// Doomsday returns the scheduled destruction time of obj, if any.
func (db *DB) Doomsday(obj DBRef) (time.Time, bool) {
	v := db.own(obj, AttrDoomsday)
	if v == "" {
		return time.Time{}, false
	}
	secs, ok := parseInt(v)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0), true
}
