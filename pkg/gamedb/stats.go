package gamedb

// Stats summarizes the table for administrative reports.
type Stats struct {
	Top         int
	Capacity    int
	Free        int
	Rooms       int
	Things      int
	Exits       int
	Players     int
	Channels    int
	Universes   int
	Going       int // live objects scheduled for destruction
	UserDefs    int
	AttrEntries int
	Bytes       int
}

// Live returns the number of slots not on the free list.
func (s Stats) Live() int { return s.Top - s.Free }

// Stats walks the table and counts objects by type.
func (db *DB) Stats() Stats {
	s := Stats{Top: len(db.objs), Capacity: cap(db.objs), Free: len(db.free)}
	for _, o := range db.objs {
		if o.IFlags&IFree != 0 {
			continue
		}
		switch o.ObjType() {
		case TypeRoom:
			s.Rooms++
		case TypeThing:
			s.Things++
		case TypeExit:
			s.Exits++
		case TypePlayer:
			s.Players++
		case TypeChannel:
			s.Channels++
		case TypeUniverse:
			s.Universes++
		}
		if o.IsGoing() {
			s.Going++
		}
		s.UserDefs += len(o.Defs)
		for _, e := range o.attrs {
			if e.def != nil {
				s.AttrEntries++
			}
		}
		s.Bytes += o.Bytes
	}
	return s
}
