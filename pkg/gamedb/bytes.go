package gamedb

import "strconv"

// Approximate per-item overheads used for quota accounting.
const (
	objectOverhead = 96
	entryOverhead  = 16
	defOverhead    = 32
	edgeOverhead   = 4
)

// RecalcBytes recomputes obj's cached usage figure and clears IRecount.
func (db *DB) RecalcBytes(obj DBRef) int {
	o := db.Get(obj)
	if o == nil {
		return 0
	}
	n := objectOverhead + len(o.Name) + len(o.DisplayName)
	for _, e := range o.attrs {
		if e.def == nil || e.def.Flags&AFNoMem != 0 {
			continue
		}
		n += entryOverhead + len(e.val)
	}
	for _, d := range o.Defs {
		n += defOverhead + len(d.Name)
	}
	n += edgeOverhead * (len(o.Parents) + len(o.Children) + len(o.Powers))
	o.Bytes = n
	o.IFlags &^= IRecount
	return n
}

// RecalcOwnerBytes sums usage over everything owner owns, refreshing stale
// per-object figures, and records the total in owner's Bytesused.
func (db *DB) RecalcOwnerBytes(owner DBRef) int {
	if !db.GoodObject(owner) {
		return 0
	}
	total := 0
	for _, o := range db.objs {
		if o.IFlags&IFree != 0 || o.Owner != owner {
			continue
		}
		if o.IFlags&IRecount != 0 || o.Bytes == 0 {
			db.RecalcBytes(o.DBRef)
		}
		total += o.Bytes
	}
	db.SetAttr(owner, AttrBytesUsed, strconv.Itoa(total))
	db.objs[owner].IFlags &^= IRecount
	return total
}

// BytesUsed returns owner's recorded usage, or -1 if never computed.
func (db *DB) BytesUsed(owner DBRef) int {
	v := db.own(owner, AttrBytesUsed)
	if v == "" {
		return -1
	}
	n, ok := parseInt(v)
	if !ok {
		return -1
	}
	return n
}
