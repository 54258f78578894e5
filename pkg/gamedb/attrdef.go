package gamedb

import (
	"strings"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/obslog"
)

// badAttrChars are delimiters elsewhere in the command language.
const badAttrChars = "=,;:.[] "

// ValidAttrName reports whether name is usable for a user definition.
func ValidAttrName(name string) bool {
	return name != "" && !strings.ContainsAny(name, badAttrChars)
}

// FindDef returns obj's own definition named name, ignoring case.
func (db *DB) FindDef(obj DBRef, name string) *AttrDef {
	o := db.Get(obj)
	if o == nil {
		return nil
	}
	for _, d := range o.Defs {
		if strings.EqualFold(d.Name, name) {
			return d
		}
	}
	return nil
}

// DefIndex returns the position of def in its owner's list, or -1.
func (db *DB) DefIndex(def *AttrDef) int {
	if def == nil {
		return -1
	}
	o := db.Get(def.Owner)
	if o == nil {
		return -1
	}
	for i, d := range o.Defs {
		if d == def {
			return i
		}
	}
	return -1
}

// DefLinked reports whether def is a built-in or still in its owner's list.
func (db *DB) DefLinked(def *AttrDef) bool {
	return def != nil && (def.IsBuiltin() || db.DefIndex(def) >= 0)
}

// findInherited searches obj's own definitions, then its ancestors'
// inheritable ones.
func (db *DB) findInherited(obj DBRef, name string) *AttrDef {
	if d := db.FindDef(obj, name); d != nil {
		return d
	}
	for _, a := range db.Ancestors(obj) {
		if d := db.FindDef(a, name); d != nil && d.Inheritable() {
			return d
		}
	}
	return nil
}

// Resolve finds the definition name refers to when player acts on target.
// Resolution order:
//  1. "OBJ.attr" names a definition on OBJ that target inherits from;
//     ".attr" names a built-in.
//  2. player's own definitions, when target is-a player.
//  3. built-ins.
//  4. target's own definitions, then inheritable ones on its ancestors.
func (db *DB) Resolve(player, target DBRef, name string) *AttrDef {
	if name == "" {
		return nil
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		objPart, attr := name[:i], name[i+1:]
		if objPart == "" {
			return db.reg.LookupBuiltin(attr)
		}
		obj := db.matchQualifier(player, target, objPart)
		if obj == Nothing || !db.IsA(target, obj) {
			return nil
		}
		return db.FindDef(obj, attr)
	}
	if db.GoodObject(player) && db.IsA(target, player) {
		if d := db.findInherited(player, name); d != nil {
			return d
		}
	}
	if d := db.reg.LookupBuiltin(name); d != nil {
		return d
	}
	return db.findInherited(target, name)
}

// matchQualifier resolves the OBJ part of a qualified attribute name: a
// dbref, "me", "here", or the name of one of target's ancestors.
func (db *DB) matchQualifier(player, target DBRef, s string) DBRef {
	if r, ok := ParseRef(s); ok && strings.HasPrefix(s, "#") {
		if db.GoodObject(r) {
			return r
		}
		return Nothing
	}
	switch strings.ToLower(s) {
	case "me":
		return player
	case "here":
		if p := db.Get(player); p != nil && db.GoodObject(p.Location) {
			return p.Location
		}
		return Nothing
	}
	if !db.GoodObject(target) {
		return Nothing
	}
	for _, r := range append([]DBRef{target}, db.Ancestors(target)...) {
		if strings.EqualFold(db.objs[r].Name, s) {
			return r
		}
	}
	return Nothing
}

// DefineAttr creates a user definition on owner for actor.
func (db *DB) DefineAttr(actor, owner DBRef, name, options string) (*AttrDef, error) {
	if !db.GoodObject(owner) {
		return nil, ErrBadObject
	}
	if !ValidAttrName(name) {
		return nil, ErrBadAttrName
	}
	if !db.auth.HasCapability(actor, owner, CapModify) {
		obslog.Security(db.log, "gamedb: defattr denied",
			zap.Int("actor", int(actor)), zap.Int("owner", int(owner)), zap.String("attr", name))
		return nil, ErrPermission
	}
	if db.Resolve(owner, owner, name) != nil {
		return nil, ErrAttrExists
	}
	o := db.objs[owner]
	if len(o.Defs) >= db.maxUserAttrs && !db.auth.HasCapability(actor, owner, CapUnlimitedAttrs) {
		return nil, ErrTooManyAttrs
	}
	flags, err := ParseAttrOptions(options)
	if err != nil {
		return nil, err
	}
	def := &AttrDef{Name: name, Flags: flags, Owner: owner, refs: 1}
	o.Defs = append([]*AttrDef{def}, o.Defs...)
	db.notify(ChangeAttrDef, owner)
	return def, nil
}

// UndefineAttr removes def from owner, clearing every entry that refers to
// it, then drops the definition's own reference.
func (db *DB) UndefineAttr(actor, owner DBRef, def *AttrDef) error {
	if !db.GoodObject(owner) {
		return ErrBadObject
	}
	if def == nil || def.Owner != owner || db.DefIndex(def) < 0 {
		return ErrNoSuchAttr
	}
	if !db.auth.HasCapability(actor, owner, CapModify) {
		obslog.Security(db.log, "gamedb: undefattr denied",
			zap.Int("actor", int(actor)), zap.Int("owner", int(owner)), zap.String("attr", def.Name))
		return ErrPermission
	}
	db.undefine(owner, def)
	db.notify(ChangeAttrUndef, owner)
	return nil
}

func (db *DB) undefine(owner DBRef, def *AttrDef) {
	o := db.objs[owner]
	for i, d := range o.Defs {
		if d == def {
			o.Defs = append(o.Defs[:i:i], o.Defs[i+1:]...)
			break
		}
	}
	if len(o.Defs) == 0 {
		o.Defs = nil
	}
	// copies made with CopyNonInheritable can sit outside owner's subtree
	for i, x := range db.objs {
		if x.entry(def) != nil {
			db.ClearAttr(DBRef(i), def)
		}
	}
	def.release()
	db.cache.reset()
}

// DropDefs releases every definition owned by obj, as destruction does.
func (db *DB) DropDefs(obj DBRef) {
	o := db.Get(obj)
	if o == nil {
		return
	}
	for len(o.Defs) > 0 {
		db.undefine(obj, o.Defs[0])
	}
}

// RecountRefs recomputes every user definition's reference count from the
// attribute chains.
func (db *DB) RecountRefs() {
	seen := make(map[*AttrDef]bool)
	for _, o := range db.objs {
		for _, d := range o.Defs {
			d.refs, d.freed = 1, false
			seen[d] = true
		}
	}
	for _, o := range db.objs {
		for _, e := range o.attrs {
			if e.def == nil || e.def.IsBuiltin() {
				continue
			}
			if !seen[e.def] {
				// unlinked definition still referenced from a chain
				e.def.refs, e.def.freed = 0, false
				seen[e.def] = true
			}
			e.def.refs++
		}
	}
	db.cache.reset()
}

// SetByName resolves name as player acting on target and stores value.
func (db *DB) SetByName(player, target DBRef, name, value string) error {
	def := db.Resolve(player, target, name)
	if def == nil {
		return ErrNoSuchAttr
	}
	return db.SetAttr(target, def, value)
}

// GetByName resolves name as player acting on target and reads its value.
func (db *DB) GetByName(player, target DBRef, name string) string {
	return db.GetAttr(target, db.Resolve(player, target, name))
}
