package gamedb

import (
	"strings"
	"time"
)

// DBRef is the fundamental object reference type in MUSE.
type DBRef int

const (
	Nothing   DBRef = -1
	Ambiguous DBRef = -2
	Home      DBRef = -3
	NoPerm    DBRef = -4
)

// IsSentinel reports whether r is one of the reserved negative references
// that may legally appear in a pointer field.
func (r DBRef) IsSentinel() bool {
	return r == Nothing || r == Ambiguous || r == Home
}

// ObjectType represents the type of a MUSE object.
type ObjectType int

const (
	TypeRoom     ObjectType = 0
	TypeThing    ObjectType = 1
	TypeExit     ObjectType = 2
	TypePlayer   ObjectType = 3
	TypeChannel  ObjectType = 4
	TypeUniverse ObjectType = 5 // reserved
)

func (t ObjectType) String() string {
	switch t {
	case TypeRoom:
		return "ROOM"
	case TypeThing:
		return "THING"
	case TypeExit:
		return "EXIT"
	case TypePlayer:
		return "PLAYER"
	case TypeChannel:
		return "CHANNEL"
	case TypeUniverse:
		return "UNIVERSE"
	default:
		return "UNKNOWN"
	}
}

const TypeMask = 0x7

// Flag constants. The low three bits hold the ObjectType.
const (
	FlagGoing     = 0x00000008
	FlagChownOK   = 0x00000010
	FlagDark      = 0x00000020
	FlagSticky    = 0x00000040
	FlagHaven     = 0x00000080
	FlagLinkOK    = 0x00000100
	FlagJumpOK    = 0x00000200
	FlagEnterOK   = 0x00000400
	FlagVisible   = 0x00000800
	FlagOpaque    = 0x00001000
	FlagQuiet     = 0x00002000
	FlagPuppet    = 0x00004000
	FlagFloating  = 0x00008000
	FlagConnected = 0x00010000
	FlagInherit   = 0x00020000 // inherit owner's powers
	FlagAbode     = 0x00040000
	FlagBearing   = 0x00080000 // may be used as a parent
	FlagSeeThru   = 0x00100000
)

// flagLetters drives the computed FLAGS attribute.
var flagLetters = []struct {
	bit    int
	letter byte
}{
	{FlagGoing, 'G'},
	{FlagChownOK, 'C'},
	{FlagDark, 'D'},
	{FlagSticky, 'S'},
	{FlagHaven, 'H'},
	{FlagLinkOK, 'L'},
	{FlagJumpOK, 'J'},
	{FlagEnterOK, 'e'},
	{FlagVisible, 'v'},
	{FlagOpaque, 'o'},
	{FlagQuiet, 'q'},
	{FlagPuppet, 'p'},
	{FlagFloating, 'f'},
	{FlagConnected, 'c'},
	{FlagInherit, 'I'},
	{FlagAbode, 'A'},
	{FlagBearing, 'b'},
	{FlagSeeThru, 'T'},
}

var typeLetters = map[ObjectType]byte{
	TypeRoom:     'R',
	TypeExit:     'E',
	TypePlayer:   'P',
	TypeChannel:  'K',
	TypeUniverse: 'U',
}

// FlagString renders a flags word as MUSE flag letters, type letter first.
func FlagString(flags int) string {
	var sb strings.Builder
	if c, ok := typeLetters[ObjectType(flags&TypeMask)]; ok {
		sb.WriteByte(c)
	}
	for _, fl := range flagLetters {
		if flags&fl.bit != 0 {
			sb.WriteByte(fl.letter)
		}
	}
	return sb.String()
}

// Internal (transient, never persisted) flags.
const (
	IMark    byte = 0x01 // reachability mark
	IRecount byte = 0x02 // byte usage needs recount
	IFree    byte = 0x04 // slot is on the free list
)

// Object represents a MUSE database object.
type Object struct {
	DBRef       DBRef
	Name        string
	DisplayName string // may carry formatting markup
	Location    DBRef
	Zone        DBRef
	Contents    DBRef
	Exits       DBRef // home for non-room types
	Link        DBRef
	Next        DBRef
	Owner       DBRef
	Fighting    DBRef
	Flags       int
	Powers      []int
	Created     time.Time
	Modified    time.Time
	Bytes       int // cached usage figure for quota accounting
	IFlags      byte

	Parents  []DBRef
	Children []DBRef
	Defs     []*AttrDef // owned user definitions, newest first

	attrs []*attrEntry
}

// ObjType returns the object type from the flags.
func (o *Object) ObjType() ObjectType {
	return ObjectType(o.Flags & TypeMask)
}

// HasFlag checks if a flag bit is set.
func (o *Object) HasFlag(flag int) bool {
	return o.Flags&flag != 0
}

// SetFlag sets or clears a flag bit.
func (o *Object) SetFlag(flag int, set bool) {
	if set {
		o.Flags |= flag
	} else {
		o.Flags &^= flag
	}
}

// IsGoing returns true if the object is marked for destruction.
func (o *Object) IsGoing() bool {
	return o.HasFlag(FlagGoing)
}

// Home returns the home of a non-room object, which MUSE keeps in Exits.
func (o *Object) Home() DBRef {
	if o.ObjType() == TypeRoom {
		return Nothing
	}
	return o.Exits
}

// HasParent reports whether p is listed in o's parent array.
func (o *Object) HasParent(p DBRef) bool {
	return containsRef(o.Parents, p)
}

// HasChild reports whether c is listed in o's child array.
func (o *Object) HasChild(c DBRef) bool {
	return containsRef(o.Children, c)
}

func containsRef(list []DBRef, r DBRef) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}

func removeRef(list []DBRef, r DBRef) []DBRef {
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
