package gamedb

import (
	"strconv"
	"strings"
	"time"
)

// computed synthesizes a built-in attribute from object fields.
func (db *DB) computed(o *Object, def *AttrDef) string {
	switch def {
	case AttrLocation:
		return refString(o.Location)
	case AttrOwner:
		return refString(o.Owner)
	case AttrLink:
		return refString(o.Link)
	case AttrZone:
		return refString(o.Zone)
	case AttrNext:
		return refString(o.Next)
	case AttrParents:
		return refList(o.Parents)
	case AttrChildren:
		return refList(o.Children)
	case AttrContents:
		return refList(db.chain(o.Contents))
	case AttrExits:
		if o.ObjType() != TypeRoom {
			return refString(o.Exits)
		}
		return refList(db.chain(o.Exits))
	case AttrName:
		return o.Name
	case AttrCName:
		if o.DisplayName != "" {
			return o.DisplayName
		}
		return o.Name
	case AttrFlags:
		return FlagString(o.Flags)
	case AttrModified:
		return timeString(o.Modified)
	case AttrCreated:
		return timeString(o.Created)
	}
	return ""
}

func refString(r DBRef) string {
	return "#" + strconv.Itoa(int(r))
}

func refList(refs []DBRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = refString(r)
	}
	return strings.Join(parts, " ")
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// ParseRef parses "#123" or "123" into a DBRef.
func ParseRef(s string) (DBRef, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	n, ok := parseInt(s)
	if !ok {
		return Nothing, false
	}
	return DBRef(n), true
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}
