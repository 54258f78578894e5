package gamedb

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/obslog"
)

// Capability identifies a permission asked of the Authorizer.
type Capability int

const (
	CapModify         Capability = iota // actor controls target
	CapParent                           // actor may use target as a parent
	CapUnlimitedAttrs                   // actor may exceed the per-object definition cap
	CapUnlimitedQuota                   // target owner pays no quota or cost
)

// Authorizer answers capability questions for the session layer.
type Authorizer interface {
	HasCapability(actor, target DBRef, cap Capability) bool
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(actor, target DBRef, cap Capability) bool

func (f AuthorizerFunc) HasCapability(actor, target DBRef, cap Capability) bool {
	return f(actor, target, cap)
}

// AllowAll grants every capability except the unlimited ones.
var AllowAll = AuthorizerFunc(func(_, _ DBRef, cap Capability) bool {
	return cap == CapModify || cap == CapParent
})

// Clock supplies wall-clock time for timestamps and doom scheduling.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads time.Now.
var SystemClock = ClockFunc(time.Now)

// ChangeKind classifies notifications sent to Options.OnChange.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota
	ChangeAttrDef
	ChangeAttrUndef
	ChangeParent
	ChangeUnparent
)

// Options configures a DB.
type Options struct {
	InitialCapacity int   // Physical slots allocated on first growth (default 100)
	MaxObjects      int   // Hard limit on the table; exceeding it is fatal
	MaxUserAttrs    int   // Per-object cap on user definitions (0 = default 100)
	Root            DBRef // System root; owner of destroyed slots (default #1)
	Logger          *zap.Logger
	Clock           Clock
	Auth            Authorizer
	Registry        *Registry
	// Fatal is called on resource exhaustion. Defaults to Logger.Fatal.
	Fatal func(msg string, fields ...zap.Field)
	// OnChange is invoked after structural changes. May be nil.
	OnChange func(kind ChangeKind, ref DBRef)
}

const (
	defaultInitialCapacity = 100
	defaultMaxObjects      = 1 << 24
	defaultMaxUserAttrs    = 100
)

// DB is the object table: a contiguous growable array of objects plus the
// free list of recycled slots. It is not safe for concurrent use.
type DB struct {
	objs []*Object // len is the logical top, cap the physical capacity
	free []DBRef   // stack; top of stack is handed out next

	initialCap   int
	maxObjects   int
	maxUserAttrs int
	root         DBRef
	log          *zap.Logger
	clock        Clock
	auth         Authorizer
	reg          *Registry
	fatal        func(msg string, fields ...zap.Field)
	onChange     func(kind ChangeKind, ref DBRef)

	cache readCache
}

// New creates an empty database.
func New(opts Options) *DB {
	db := &DB{
		initialCap:   opts.InitialCapacity,
		maxObjects:   opts.MaxObjects,
		maxUserAttrs: opts.MaxUserAttrs,
		root:         opts.Root,
		log:          obslog.OrNop(opts.Logger),
		clock:        opts.Clock,
		auth:         opts.Auth,
		reg:          opts.Registry,
		fatal:        opts.Fatal,
		onChange:     opts.OnChange,
	}
	if db.initialCap <= 0 {
		db.initialCap = defaultInitialCapacity
	}
	if db.maxObjects <= 0 {
		db.maxObjects = defaultMaxObjects
	}
	if db.maxUserAttrs <= 0 {
		db.maxUserAttrs = defaultMaxUserAttrs
	}
	if db.root <= 0 {
		db.root = 1
	}
	if db.clock == nil {
		db.clock = SystemClock
	}
	if db.auth == nil {
		db.auth = AllowAll
	}
	if db.reg == nil {
		db.reg = DefaultRegistry()
	}
	if db.fatal == nil {
		log := db.log
		db.fatal = func(msg string, fields ...zap.Field) { log.Fatal(msg, fields...) }
	}
	db.cache.reset()
	return db
}

// Top returns the logical number of slots, live or free.
func (db *DB) Top() int { return len(db.objs) }

// Capacity returns the physical number of slots allocated.
func (db *DB) Capacity() int { return cap(db.objs) }

// MaxObjects returns the hard limit on the table size.
func (db *DB) MaxObjects() int { return db.maxObjects }

// Root returns the system root object.
func (db *DB) Root() DBRef { return db.root }

// Logger returns the database logger.
func (db *DB) Logger() *zap.Logger { return db.log }

// Now returns the database clock's current time.
func (db *DB) Now() time.Time { return db.clock.Now() }

// Auth returns the configured authorizer.
func (db *DB) Auth() Authorizer { return db.auth }

// Registry returns the built-in attribute registry.
func (db *DB) Registry() *Registry { return db.reg }

// SetMaxUserAttrs changes the per-object definition cap at runtime.
func (db *DB) SetMaxUserAttrs(n int) {
	if n > 0 {
		db.maxUserAttrs = n
	}
}

func (db *DB) notify(kind ChangeKind, ref DBRef) {
	if db.onChange != nil {
		db.onChange(kind, ref)
	}
}

// Grow makes indices [0, n) valid, preserving existing objects. New slots
// hold blank objects with every pointer field set to Nothing. Physical
// capacity doubles from the initial capacity; the logical top only ever
// moves to n. Requests beyond the configured maximum are fatal.
func (db *DB) Grow(n int) error {
	if n <= len(db.objs) {
		return nil
	}
	if n > db.maxObjects {
		db.fatal("gamedb: object table exhausted",
			zap.Int("requested", n), zap.Int("max", db.maxObjects))
		return fmt.Errorf("%w: requested %d, max %d", ErrTableFull, n, db.maxObjects)
	}
	if n > cap(db.objs) {
		newCap := cap(db.objs)
		if newCap < db.initialCap {
			newCap = db.initialCap
		}
		// bounded before doubling so newCap never overflows
		for newCap < n && newCap <= db.maxObjects/2 {
			newCap *= 2
		}
		if newCap < n || newCap > db.maxObjects {
			newCap = db.maxObjects
		}
		grown := make([]*Object, len(db.objs), newCap)
		copy(grown, db.objs)
		db.objs = grown
	}
	for i := len(db.objs); i < n; i++ {
		db.objs = append(db.objs, db.blank(DBRef(i)))
	}
	return nil
}

func (db *DB) blank(ref DBRef) *Object {
	return &Object{
		DBRef:    ref,
		Location: Nothing,
		Zone:     Nothing,
		Contents: Nothing,
		Exits:    Nothing,
		Link:     Nothing,
		Next:     Nothing,
		Owner:    Nothing,
		Fighting: Nothing,
		Flags:    int(TypeThing),
	}
}

// ValidRef reports whether ref is inside the table.
func (db *DB) ValidRef(ref DBRef) bool {
	return ref >= 0 && int(ref) < len(db.objs)
}

// GoodObject reports whether ref is inside the table and not a recycled slot.
func (db *DB) GoodObject(ref DBRef) bool {
	return db.ValidRef(ref) && db.objs[ref].IFlags&IFree == 0
}

// Get returns the object at ref, or nil if ref is outside the table.
// Recycled slots are returned; callers check GoodObject first.
func (db *DB) Get(ref DBRef) *Object {
	if !db.ValidRef(ref) {
		return nil
	}
	return db.objs[ref]
}

// IsDestroyed reports whether the slot at ref is in the canonical destroyed
// state: type Thing, Going, no location, owned by root, no attributes. Being
// on the free list does not count; the slot's fields are checked.
func (db *DB) IsDestroyed(ref DBRef) bool {
	o := db.Get(ref)
	return o != nil && db.destroyedTemplate(o)
}

func (db *DB) destroyedTemplate(o *Object) bool {
	return o.DBRef != db.root && o.ObjType() == TypeThing && o.IsGoing() &&
		o.Location == Nothing && o.Owner == db.root && len(o.attrs) == 0
}

// AllocateNew returns a fresh object. Recycled slots are preferred; each
// one is verified to be destroyed before reuse, and slots that are not are
// dropped from the free list with a diagnostic. Otherwise the table grows by
// one. The object comes back with all pointers Nothing and timestamps set.
func (db *DB) AllocateNew() (DBRef, error) {
	for len(db.free) > 0 {
		ref := db.free[len(db.free)-1]
		db.free = db.free[:len(db.free)-1]
		if !db.ValidRef(ref) || !db.IsDestroyed(ref) {
			obslog.Diagnostic(db.log, "gamedb: free list held a live object, skipping",
				zap.Int("ref", int(ref)))
			if db.ValidRef(ref) {
				db.objs[ref].IFlags &^= IFree
			}
			continue
		}
		db.initSlot(ref)
		return ref, nil
	}
	ref := DBRef(len(db.objs))
	if err := db.Grow(len(db.objs) + 1); err != nil {
		return Nothing, err
	}
	db.initSlot(ref)
	return ref, nil
}

func (db *DB) initSlot(ref DBRef) {
	o := db.blank(ref)
	now := db.clock.Now()
	o.Created = now
	o.Modified = now
	db.objs[ref] = o
	db.cache.reset()
}

// Create allocates an object of the given type and owner.
func (db *DB) Create(name string, typ ObjectType, owner DBRef) (DBRef, error) {
	ref, err := db.AllocateNew()
	if err != nil {
		return Nothing, err
	}
	o := db.objs[ref]
	o.Name = name
	o.Flags = int(typ)
	o.Owner = owner
	if typ == TypePlayer && owner == Nothing {
		o.Owner = ref
	}
	if typ == TypeRoom {
		o.Location = ref
	}
	o.IFlags |= IRecount
	db.notify(ChangeCreate, ref)
	return ref, nil
}

// FreeList returns a copy of the free list, next-to-allocate first.
func (db *DB) FreeList() []DBRef {
	out := make([]DBRef, len(db.free))
	for i, r := range db.free {
		out[len(db.free)-1-i] = r
	}
	return out
}

// FreeCount returns the number of slots on the free list.
func (db *DB) FreeCount() int { return len(db.free) }

// ResetFreeList empties the free list and clears every membership bit.
func (db *DB) ResetFreeList() {
	for _, r := range db.free {
		if db.ValidRef(r) {
			db.objs[r].IFlags &^= IFree
		}
	}
	db.free = db.free[:0]
}

// PushFree puts a destroyed slot on the free list. Slots already on it
// are ignored.
func (db *DB) PushFree(ref DBRef) {
	o := db.Get(ref)
	if o == nil || o.IFlags&IFree != 0 {
		return
	}
	o.IFlags |= IFree
	db.free = append(db.free, ref)
}

// Recycle resets ref to the destroyed template and pushes it on the free
// list. Relationships must already be severed.
func (db *DB) Recycle(ref DBRef) {
	o := db.Get(ref)
	if o == nil {
		return
	}
	db.cache.reset()
	*o = Object{
		DBRef:    ref,
		Location: Nothing,
		Zone:     Nothing,
		Contents: Nothing,
		Exits:    Nothing,
		Link:     Nothing,
		Next:     Nothing,
		Owner:    db.root,
		Fighting: Nothing,
		Flags:    int(TypeThing) | FlagGoing,
		Modified: db.clock.Now(),
	}
	db.PushFree(ref)
}

// RebuildFreeList replaces the free list with every destroyed slot, pushed so
// that the lowest index is allocated first.
func (db *DB) RebuildFreeList() int {
	db.ResetFreeList()
	for i := len(db.objs) - 1; i >= 0; i-- {
		if db.IsDestroyed(DBRef(i)) {
			db.PushFree(DBRef(i))
		}
	}
	return len(db.free)
}
