// Package collector recycles destroyed objects and keeps the object table
// consistent. It runs incrementally from the server tick and in full on
// demand and once after every load.
package collector

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/events"
	"github.com/crystal-mush/musedb/pkg/gamedb"
	"github.com/crystal-mush/musedb/pkg/obslog"
)

var (
	ErrProtected = errors.New("collector: object may not be destroyed")
	ErrRecursion = errors.New("collector: destruction nested too deeply")
)

// Sessions disconnects network sessions bound to an object.
type Sessions interface {
	Disconnect(ref gamedb.DBRef)
}

// Queue cancels pending queued actions of an object.
type Queue interface {
	Cancel(ref gamedb.DBRef) int
}

// Economy refunds creation costs on destruction.
type Economy interface {
	Refund(owner gamedb.DBRef, amount int)
}

// Recorder receives collector statistics. pkg/metrics implements it.
type Recorder interface {
	Repair(kind string)
	Destroyed(typ gamedb.ObjectType)
	Pass(full bool, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Repair(string)               {}
func (nopRecorder) Destroyed(gamedb.ObjectType) {}
func (nopRecorder) Pass(bool, time.Duration)    {}

// State is the incremental scan state.
type State int

const (
	Idle     State = 0
	Scanning State = 1
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}

const (
	DefaultChunkSize     = 123
	DefaultMaxNameLen    = 512
	DefaultZoneNestLimit = 15
	maxEdgeFixes         = 100
	maxDestroyDepth      = 20
)

// Config holds the collector's tunables and well-known objects.
type Config struct {
	StartRoom     gamedb.DBRef // reachability root
	DefaultHome   gamedb.DBRef // fallback home for relocated objects
	DefaultZone   gamedb.DBRef // fallback for broken zone chains
	ChunkSize     int          // objects per incremental step
	MaxNameLen    int          // display-name bound
	ZoneNestLimit int          // zone hops before a chain is declared broken
	Costs         map[gamedb.ObjectType]int
}

// Options supplies the collector's collaborators. All are optional.
type Options struct {
	Logger   *zap.Logger
	Sessions Sessions
	Queue    Queue
	Economy  Economy
	Bus      *events.Bus
	Recorder Recorder
}

// Collector owns the consistency passes and the destruction protocol.
type Collector struct {
	db       *gamedb.DB
	cfg      Config
	log      *zap.Logger
	sessions Sessions
	queue    Queue
	economy  Economy
	bus      *events.Bus
	rec      Recorder

	state  State
	cursor int
	depth  int
}

// New creates a collector over db.
func New(db *gamedb.DB, cfg Config, opts Options) *Collector {
	c := &Collector{
		db:       db,
		log:      obslog.OrNop(opts.Logger),
		sessions: opts.Sessions,
		queue:    opts.Queue,
		economy:  opts.Economy,
		bus:      opts.Bus,
		rec:      opts.Recorder,
	}
	if c.rec == nil {
		c.rec = nopRecorder{}
	}
	c.SetConfig(cfg)
	return c
}

// SetConfig replaces the tunables; zero values take defaults.
func (c *Collector) SetConfig(cfg Config) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxNameLen <= 0 {
		cfg.MaxNameLen = DefaultMaxNameLen
	}
	if cfg.ZoneNestLimit <= 0 {
		cfg.ZoneNestLimit = DefaultZoneNestLimit
	}
	c.cfg = cfg
}

// Config returns the active configuration.
func (c *Collector) Config() Config { return c.cfg }

// State returns the incremental scan state.
func (c *Collector) State() State { return c.state }

// Cursor returns the next object the incremental scan will check.
func (c *Collector) Cursor() int { return c.cursor }

// Step checks one chunk of objects. An idle collector starts a new pass at
// object 0; reaching the end of the table returns it to idle. Step reports
// the number of objects checked.
func (c *Collector) Step() int {
	start := time.Now()
	if c.state == Idle {
		c.state = Scanning
		c.cursor = 0
	}
	n := 0
	for n < c.cfg.ChunkSize && c.cursor < c.db.Top() {
		c.check(gamedb.DBRef(c.cursor))
		c.cursor++
		n++
	}
	if c.cursor >= c.db.Top() {
		c.state = Idle
		c.cursor = 0
		c.rec.Pass(false, time.Since(start))
	}
	return n
}

func (c *Collector) emit(ev events.Event) {
	if c.bus != nil {
		c.bus.Emit(ev)
	}
}

func (c *Collector) repaired(kind string, ref gamedb.DBRef, msg string, fields ...zap.Field) {
	c.rec.Repair(kind)
	obslog.Diagnostic(c.log, "collector: "+msg,
		append(fields, zap.Int("ref", int(ref)), zap.String("repair", kind))...)
	c.emit(events.Event{Type: events.EvRepair, Ref: ref, Related: gamedb.Nothing, Text: msg,
		Data: map[string]any{"kind": kind}})
}
