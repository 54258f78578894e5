package gamedb

// Contents and exit lists are singly linked through Object.Next. Every walk
// is bounded by a visited set so a corrupted chain cannot hang the caller.

func (db *DB) chain(head DBRef) []DBRef {
	var out []DBRef
	seen := make(map[DBRef]bool)
	for cur := head; db.ValidRef(cur) && !seen[cur]; cur = db.objs[cur].Next {
		seen[cur] = true
		out = append(out, cur)
	}
	return out
}

func (db *DB) unlink(head *DBRef, obj DBRef) bool {
	o := db.Get(obj)
	if o == nil {
		return false
	}
	if *head == obj {
		*head = o.Next
		o.Next = Nothing
		return true
	}
	prev := *head
	seen := make(map[DBRef]bool)
	for db.ValidRef(prev) && !seen[prev] {
		seen[prev] = true
		p := db.objs[prev]
		if p.Next == obj {
			p.Next = o.Next
			o.Next = Nothing
			return true
		}
		prev = p.Next
	}
	return false
}

func (db *DB) link(head *DBRef, obj DBRef) {
	o := db.Get(obj)
	if o == nil {
		return
	}
	seen := make(map[DBRef]bool)
	for cur := *head; db.ValidRef(cur) && !seen[cur]; cur = db.objs[cur].Next {
		if cur == obj {
			return // already in chain
		}
		seen[cur] = true
	}
	o.Next = *head
	*head = obj
}

// ContentsOf returns the contents chain of loc.
func (db *DB) ContentsOf(loc DBRef) []DBRef {
	if !db.GoodObject(loc) {
		return nil
	}
	return db.chain(db.objs[loc].Contents)
}

// ExitsOf returns the exit chain of a room.
func (db *DB) ExitsOf(room DBRef) []DBRef {
	if !db.GoodObject(room) || db.objs[room].ObjType() != TypeRoom {
		return nil
	}
	return db.chain(db.objs[room].Exits)
}

// RemoveFromContents removes obj from loc's contents chain.
func (db *DB) RemoveFromContents(loc, obj DBRef) bool {
	if !db.GoodObject(loc) {
		return false
	}
	return db.unlink(&db.objs[loc].Contents, obj)
}

// AddToContents pushes obj onto loc's contents chain unless already there.
func (db *DB) AddToContents(loc, obj DBRef) {
	if !db.GoodObject(loc) || !db.GoodObject(obj) {
		return
	}
	db.link(&db.objs[loc].Contents, obj)
}

// AddExit pushes exit onto room's exit chain and sets its location.
func (db *DB) AddExit(room, exit DBRef) {
	if !db.GoodObject(room) || !db.GoodObject(exit) || db.objs[room].ObjType() != TypeRoom {
		return
	}
	db.link(&db.objs[room].Exits, exit)
	db.objs[exit].Location = room
}

// RemoveExit removes exit from room's exit chain.
func (db *DB) RemoveExit(room, exit DBRef) bool {
	if !db.GoodObject(room) || db.objs[room].ObjType() != TypeRoom {
		return false
	}
	return db.unlink(&db.objs[room].Exits, exit)
}

// MoveTo moves a non-exit object from its current location into dest.
// Moving to Nothing leaves the object nowhere.
func (db *DB) MoveTo(obj, dest DBRef) {
	o := db.Get(obj)
	if !db.GoodObject(obj) || o.ObjType() == TypeRoom || o.ObjType() == TypeExit {
		return
	}
	if dest == Home {
		dest = o.Home()
	}
	if db.GoodObject(o.Location) {
		db.RemoveFromContents(o.Location, obj)
	}
	o.Location = Nothing
	o.Next = Nothing
	if db.GoodObject(dest) {
		db.AddToContents(dest, obj)
		o.Location = dest
	}
}
