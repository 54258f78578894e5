package gamedb

import (
	"strings"
	"sync"
)

// Attribute flag constants.
const (
	AFOSee    = 0x00000001 // others may see
	AFDark    = 0x00000002 // hidden from everyone but the root
	AFWizard  = 0x00000004 // only privileged actors may change
	AFUnsaved = 0x00000008 // transient, never written to disk
	AFDate    = 0x00000010 // value is a unix time
	AFInherit = 0x00000020 // value propagates to descendants
	AFLock    = 0x00000040 // value is a boolean lock
	AFFunc    = 0x00000080 // value is a user function
	AFDBRef   = 0x00000100 // value is a dbref
	AFNoMem   = 0x00000200 // not counted toward byte usage
	AFBuiltin = 0x00000400 // computed from object fields, never stored
	AFHaven   = 0x00000800 // never triggered
)

// attrOptions maps @defattr option words to flags.
var attrOptions = map[string]int{
	"osee":      AFOSee,
	"dark":      AFDark,
	"wizard":    AFWizard,
	"unsaved":   AFUnsaved,
	"transient": AFUnsaved,
	"date":      AFDate,
	"inherit":   AFInherit,
	"lock":      AFLock,
	"function":  AFFunc,
	"dbref":     AFDBRef,
	"haven":     AFHaven,
}

// AttrDef is an attribute definition. Built-ins have Owner == Nothing and a
// positive Number; user definitions are owned by exactly one object and
// carry a reference count: 1 for the definition itself plus one per
// attribute-list entry pointing at it.
type AttrDef struct {
	Name   string
	Flags  int
	Owner  DBRef
	Number int

	refs  int
	freed bool
}

// Refs returns the reference count of a user definition.
func (d *AttrDef) Refs() int { return d.refs }

// Freed reports whether the definition's count reached zero.
func (d *AttrDef) Freed() bool { return d.freed }

// IsBuiltin reports whether d is a compiled-in definition.
func (d *AttrDef) IsBuiltin() bool { return d.Owner == Nothing }

// IsComputed reports whether d is synthesized from object fields.
func (d *AttrDef) IsComputed() bool { return d.Flags&AFBuiltin != 0 }

// Inheritable reports whether values of d propagate to descendants.
func (d *AttrDef) Inheritable() bool { return d.Flags&AFInherit != 0 }

func (d *AttrDef) retain() {
	if !d.IsBuiltin() {
		d.refs++
	}
}

func (d *AttrDef) release() {
	if d.IsBuiltin() || d.freed {
		return
	}
	d.refs--
	if d.refs <= 0 {
		d.refs = 0
		d.freed = true
	}
}

// ParseAttrOptions parses a space separated @defattr option list.
func ParseAttrOptions(s string) (int, error) {
	flags := 0
	for _, w := range strings.Fields(strings.ToLower(s)) {
		f, ok := attrOptions[w]
		if !ok {
			return 0, ErrBadAttrOption
		}
		flags |= f
	}
	return flags, nil
}

// MaxBuiltin bounds built-in attribute numbers.
const MaxBuiltin = 256

func builtin(num int, name string, flags int) *AttrDef {
	return &AttrDef{Name: name, Flags: flags, Owner: Nothing, Number: num}
}

// Built-in attributes referenced directly by the engine.
var (
	AttrDesc      = builtin(6, "Desc", AFOSee)
	AttrDoomsday  = builtin(60, "Doomsday", AFDate|AFWizard|AFNoMem)
	AttrBytesUsed = builtin(61, "Bytesused", AFWizard|AFNoMem)
	AttrQuota     = builtin(62, "Quota", AFWizard|AFNoMem)
	AttrRQuota    = builtin(63, "Rquota", AFWizard|AFNoMem)
	AttrCredits   = builtin(64, "Credits", AFWizard|AFNoMem)

	AttrLocation = builtin(200, "Location", AFBuiltin|AFDBRef|AFOSee)
	AttrOwner    = builtin(201, "Owner", AFBuiltin|AFDBRef|AFOSee)
	AttrLink     = builtin(202, "Link", AFBuiltin|AFDBRef|AFOSee)
	AttrParents  = builtin(203, "Parents", AFBuiltin|AFOSee)
	AttrChildren = builtin(204, "Children", AFBuiltin|AFOSee)
	AttrContents = builtin(205, "Contents", AFBuiltin)
	AttrExits    = builtin(206, "Exits", AFBuiltin)
	AttrName     = builtin(207, "Name", AFBuiltin|AFOSee)
	AttrCName    = builtin(208, "Cname", AFBuiltin|AFOSee)
	AttrFlags    = builtin(209, "Flags", AFBuiltin|AFOSee)
	AttrZone     = builtin(210, "Zone", AFBuiltin|AFDBRef|AFOSee)
	AttrNext     = builtin(211, "Next", AFBuiltin|AFDBRef)
	AttrModified = builtin(212, "Modified", AFBuiltin|AFDate|AFOSee)
	AttrCreated  = builtin(213, "Created", AFBuiltin|AFDate|AFOSee)
)

// builtinAttrs is the compiled-in table. Numbers are stable: version 1-3
// flatfiles store attributes by number.
var builtinAttrs = []*AttrDef{
	builtin(1, "Osucc", AFOSee),
	builtin(2, "Ofail", AFOSee),
	builtin(3, "Fail", AFOSee),
	builtin(4, "Succ", AFOSee),
	builtin(5, "Password", AFDark|AFWizard),
	AttrDesc,
	builtin(7, "Sex", AFOSee),
	builtin(8, "Odrop", AFOSee),
	builtin(9, "Drop", AFOSee),
	builtin(10, "Okill", AFOSee),
	builtin(11, "Kill", AFOSee),
	builtin(12, "Asucc", 0),
	builtin(13, "Afail", 0),
	builtin(14, "Adrop", 0),
	builtin(15, "Akill", 0),
	builtin(16, "Ause", 0),
	builtin(17, "Charges", 0),
	builtin(18, "Runout", 0),
	builtin(19, "Startup", 0),
	builtin(20, "Aclone", 0),
	builtin(21, "Apay", 0),
	builtin(22, "Opay", AFOSee),
	builtin(23, "Pay", AFOSee),
	builtin(24, "Cost", 0),
	builtin(25, "Listen", 0),
	builtin(26, "Aahear", 0),
	builtin(27, "Amhear", 0),
	builtin(28, "Ahear", 0),
	builtin(29, "Last", AFWizard|AFDate|AFOSee),
	builtin(30, "Idesc", 0),
	builtin(31, "Enter", AFOSee),
	builtin(32, "Oenter", AFOSee),
	builtin(33, "Aenter", 0),
	builtin(34, "Adesc", 0),
	builtin(35, "Odesc", AFOSee),
	builtin(36, "Leave", AFOSee),
	builtin(37, "Oleave", AFOSee),
	builtin(38, "Aleave", 0),
	builtin(39, "Lock", AFLock),
	builtin(40, "Elock", AFLock),
	builtin(41, "Ulock", AFLock),
	builtin(42, "Llock", AFLock),
	builtin(43, "Alias", AFOSee),
	builtin(44, "Use", AFOSee),
	builtin(45, "Ouse", AFOSee),
	builtin(46, "Move", AFOSee),
	builtin(47, "Omove", AFOSee),
	builtin(48, "Amove", 0),
	builtin(49, "Aconnect", 0),
	builtin(50, "Adisconnect", 0),
	builtin(51, "Away", 0),
	builtin(52, "Idle", 0),
	builtin(53, "Reject", 0),
	builtin(54, "Oconnect", AFOSee),
	builtin(55, "Odisconnect", AFOSee),
	builtin(56, "Lastsite", AFWizard|AFDark),
	builtin(57, "Email", AFWizard|AFDark),
	builtin(58, "Ufail", 0),
	builtin(59, "Oufail", AFOSee),
	AttrDoomsday,
	AttrBytesUsed,
	AttrQuota,
	AttrRQuota,
	AttrCredits,
	builtin(65, "Rainbow", 0),
	builtin(66, "Users", AFLock),
	builtin(67, "Slock", AFLock),
	builtin(68, "Blacklist", AFWizard),
	builtin(69, "Apage", 0),
	builtin(70, "Talent", 0),
	builtin(100, "Va", 0),
	builtin(101, "Vb", 0),
	builtin(102, "Vc", 0),
	builtin(103, "Vd", 0),
	builtin(104, "Ve", 0),
	builtin(105, "Vf", 0),
	builtin(106, "Vg", 0),
	builtin(107, "Vh", 0),
	builtin(108, "Vi", 0),
	builtin(109, "Vj", 0),
	builtin(110, "Vk", 0),
	builtin(111, "Vl", 0),
	builtin(112, "Vm", 0),
	builtin(113, "Vn", 0),
	builtin(114, "Vo", 0),
	builtin(115, "Vp", 0),
	builtin(116, "Vq", 0),
	builtin(117, "Vr", 0),
	builtin(118, "Vs", 0),
	builtin(119, "Vt", 0),
	builtin(120, "Vu", 0),
	builtin(121, "Vv", 0),
	builtin(122, "Vw", 0),
	builtin(123, "Vx", 0),
	builtin(124, "Vy", 0),
	builtin(125, "Vz", 0),
	AttrLocation,
	AttrOwner,
	AttrLink,
	AttrParents,
	AttrChildren,
	AttrContents,
	AttrExits,
	AttrName,
	AttrCName,
	AttrFlags,
	AttrZone,
	AttrNext,
	AttrModified,
	AttrCreated,
}

// Registry indexes a table of built-in definitions by number and by
// case-insensitive name. The name index is built on first lookup.
type Registry struct {
	table  []*AttrDef
	byNum  [MaxBuiltin]*AttrDef
	once   sync.Once
	byName map[string]*AttrDef
}

// NewRegistry creates a registry over table. Entries with a number outside
// [1, MaxBuiltin) are ignored.
func NewRegistry(table []*AttrDef) *Registry {
	r := &Registry{table: table}
	for _, d := range table {
		if d.Number > 0 && d.Number < MaxBuiltin {
			r.byNum[d.Number] = d
		}
	}
	return r
}

var (
	defaultRegOnce sync.Once
	defaultReg     *Registry
)

// DefaultRegistry returns the registry over the compiled-in table.
func DefaultRegistry() *Registry {
	defaultRegOnce.Do(func() { defaultReg = NewRegistry(builtinAttrs) })
	return defaultReg
}

// LookupBuiltin finds a built-in by name, ignoring case.
func (r *Registry) LookupBuiltin(name string) *AttrDef {
	if name == "" {
		return nil
	}
	r.once.Do(func() {
		r.byName = make(map[string]*AttrDef, len(r.table))
		for _, d := range r.table {
			r.byName[strings.ToUpper(d.Name)] = d
		}
	})
	return r.byName[strings.ToUpper(name)]
}

// BuiltinByNumber finds a built-in by its numeric id.
func (r *Registry) BuiltinByNumber(num int) *AttrDef {
	if num <= 0 || num >= MaxBuiltin {
		return nil
	}
	return r.byNum[num]
}

// Builtins returns the registry's table in number order.
func (r *Registry) Builtins() []*AttrDef {
	out := make([]*AttrDef, 0, len(r.table))
	for _, d := range r.byNum {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}
