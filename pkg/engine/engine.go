// Package engine owns a running database: it boots it from bolt or a
// flatfile, drives the collector from the scheduler tick, writes changes
// through to bolt and produces dumps, archives and exports on demand.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/archive"
	"github.com/crystal-mush/musedb/pkg/boltstore"
	"github.com/crystal-mush/musedb/pkg/collector"
	"github.com/crystal-mush/musedb/pkg/conf"
	"github.com/crystal-mush/musedb/pkg/events"
	"github.com/crystal-mush/musedb/pkg/flatfile"
	"github.com/crystal-mush/musedb/pkg/gamedb"
	"github.com/crystal-mush/musedb/pkg/metrics"
	"github.com/crystal-mush/musedb/pkg/obslog"
	"github.com/crystal-mush/musedb/pkg/sqlexport"
	"github.com/crystal-mush/musedb/pkg/validate"
)

var (
	ErrNoSQLPath    = errors.New("engine: sql_export_path is not configured")
	ErrNoArchiveDir = errors.New("engine: archive_dir is not configured")
	ErrBooted       = errors.New("engine: already booted")
)

// Source says where Boot found the database.
type Source string

const (
	SourceBolt      Source = "bolt"
	SourceFlatFile  Source = "flatfile"
	SourceBootstrap Source = "bootstrap"
)

// Options supplies the engine's collaborators. Everything but Conf is
// optional.
type Options struct {
	Conf     *conf.Conf
	Logger   *zap.Logger
	Clock    gamedb.Clock
	Auth     gamedb.Authorizer
	Sessions collector.Sessions
	Queue    collector.Queue
	Economy  collector.Economy
	// Startup and Reconnect run after every load; the consistency hook is
	// always the collector's full pass.
	Startup   func(db *gamedb.DB)
	Reconnect func(db *gamedb.DB)
}

// Engine serializes every database operation behind one mutex. The DB
// itself is not safe for concurrent use, so callers reach it only through
// Do and the engine's methods.
type Engine struct {
	mu      sync.Mutex
	cfg     conf.Conf
	log     *zap.Logger
	clock   gamedb.Clock
	db      *gamedb.DB
	gc      *collector.Collector
	bus     *events.Bus
	metrics *metrics.Metrics
	bolt    *boltstore.Store
	opts    Options

	booted bool
	dirty  map[gamedb.DBRef]bool
	resync bool // next flush rewrites the whole snapshot

	lastSave    time.Time
	lastArchive time.Time
	lastFull    time.Time
}

// New builds an engine around an empty database. The bolt store is opened
// when bolt_path is set.
func New(opts Options) (*Engine, error) {
	cfg := opts.Conf
	if cfg == nil {
		cfg = conf.Default()
	}
	e := &Engine{
		cfg:   *cfg,
		log:   obslog.OrNop(opts.Logger),
		clock: opts.Clock,
		bus:   events.NewBus(),
		opts:  opts,
		dirty: make(map[gamedb.DBRef]bool),
	}
	if e.clock == nil {
		e.clock = gamedb.SystemClock
	}
	e.metrics = metrics.New(e.Stats)
	e.db = gamedb.New(gamedb.Options{
		InitialCapacity: cfg.InitialCapacity,
		MaxObjects:      cfg.MaxObjects,
		MaxUserAttrs:    cfg.MaxUserAttrs,
		Root:            gamedb.DBRef(cfg.RootPlayer),
		Logger:          e.log,
		Clock:           e.clock,
		Auth:            opts.Auth,
		OnChange:        e.onChange,
	})
	e.gc = collector.New(e.db, collectorConfig(cfg), collector.Options{
		Logger:   e.log,
		Sessions: opts.Sessions,
		Queue:    opts.Queue,
		Economy:  opts.Economy,
		Bus:      e.bus,
		Recorder: e.metrics,
	})
	e.bus.SubscribeGlobal(events.SubscriberFunc(e.track))

	if cfg.BoltPath != "" {
		store, err := boltstore.Open(cfg.BoltPath, e.log)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.bolt = store
	}
	return e, nil
}

func collectorConfig(c *conf.Conf) collector.Config {
	return collector.Config{
		StartRoom:     gamedb.DBRef(c.PlayerStartingRoom),
		DefaultHome:   gamedb.DBRef(c.DefaultHome),
		DefaultZone:   gamedb.DBRef(c.DefaultZone),
		ChunkSize:     c.GCChunkSize,
		MaxNameLen:    c.MaxNameLen,
		ZoneNestLimit: c.ZoneNestLimit,
		Costs: map[gamedb.ObjectType]int{
			gamedb.TypeRoom:    c.RoomCost,
			gamedb.TypeExit:    c.ExitCost,
			gamedb.TypeThing:   c.ThingCost,
			gamedb.TypeChannel: c.ChannelCost,
		},
	}
}

// onChange turns structural notifications from the DB into bus events.
func (e *Engine) onChange(kind gamedb.ChangeKind, ref gamedb.DBRef) {
	ev := events.Event{Ref: ref, Related: gamedb.Nothing}
	switch kind {
	case gamedb.ChangeCreate:
		ev.Type = events.EvCreate
	case gamedb.ChangeAttrDef:
		ev.Type = events.EvAttrDef
	case gamedb.ChangeAttrUndef:
		ev.Type = events.EvAttrUndef
	case gamedb.ChangeParent:
		ev.Type = events.EvParent
	case gamedb.ChangeUnparent:
		ev.Type = events.EvUnparent
	default:
		return
	}
	if o := e.db.Get(ref); o != nil {
		ev.ObjType = o.ObjType()
	}
	e.bus.Emit(ev)
}

// track marks the objects an event touched for the next bolt flush. It
// runs synchronously inside operations that already hold e.mu.
func (e *Engine) track(ev events.Event) {
	switch ev.Type {
	case events.EvDestroy, events.EvGCPass, events.EvLoaded, events.EvUnparent:
		// these rewrite references on objects the event does not name
		e.resync = true
	case events.EvAttrDef, events.EvAttrUndef:
		// definition indexes shift for the owner and every entry below it
		e.dirty[ev.Ref] = true
		for _, d := range e.db.Descendants(ev.Ref) {
			e.dirty[d] = true
		}
	case events.EvParent:
		e.dirty[ev.Ref] = true
		if o := e.db.Get(ev.Ref); o != nil {
			for _, p := range o.Parents {
				e.dirty[p] = true
			}
		}
	default:
		if ev.Ref != gamedb.Nothing {
			e.dirty[ev.Ref] = true
		}
	}
}

// Boot loads the database: from bolt when it holds a snapshot, otherwise
// from the configured flatfile, otherwise a minimal world of Limbo (#0) and
// the root player is created. A flatfile load is imported into bolt. ctx
// cancels a flatfile load between batches.
func (e *Engine) Boot(ctx context.Context) (Source, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.booted {
		return "", ErrBooted
	}

	var src Source
	switch {
	case e.bolt != nil && e.bolt.HasData():
		src = SourceBolt
		if err := e.bolt.LoadInto(e.db); err != nil {
			return "", fmt.Errorf("engine: %w", err)
		}
		e.gc.FixFreeList()
		if e.opts.Startup != nil {
			e.opts.Startup(e.db)
		}
		if e.opts.Reconnect != nil {
			e.opts.Reconnect(e.db)
		}
	case e.cfg.FlatFile != "" && fileExists(e.cfg.FlatFile):
		src = SourceFlatFile
		if err := e.loadFlatFile(ctx); err != nil {
			return "", err
		}
	default:
		src = SourceBootstrap
		if err := e.bootstrap(); err != nil {
			return "", err
		}
	}

	e.booted = true
	now := e.clock.Now()
	e.lastSave, e.lastArchive, e.lastFull = now, now, now
	e.bus.Emit(events.Event{Type: events.EvLoaded, Ref: gamedb.Nothing, Related: gamedb.Nothing,
		Text: string(src), Data: map[string]any{"top": e.db.Top()}})

	// a bolt boot keeps its pending repairs for the first flush
	switch {
	case e.bolt == nil:
		e.clearDirty()
	case src != SourceBolt:
		if err := e.bolt.SaveDB(e.db); err != nil {
			return src, fmt.Errorf("engine: import into bolt: %w", err)
		}
		e.clearDirty()
	}
	s := e.db.Stats()
	obslog.Important(e.log, "engine: database ready",
		zap.String("source", string(src)), zap.Int("top", s.Top), zap.Int("live", s.Live()))
	return src, nil
}

func (e *Engine) loadFlatFile(ctx context.Context) error {
	f, err := os.Open(e.cfg.FlatFile)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer f.Close()

	l, err := flatfile.NewLoader(f, flatfile.Options{
		DB:        e.db,
		BatchSize: e.cfg.LoadBatchSize,
		Logger:    e.log,
		Progress:  e.metrics.LoadProgress,
		Hooks: flatfile.Hooks{
			Consistency: func(*gamedb.DB) { e.gc.FixFreeList() },
			Startup:     e.opts.Startup,
			Reconnect:   e.opts.Reconnect,
		},
	})
	if err != nil {
		return fmt.Errorf("engine: %s: %w", e.cfg.FlatFile, err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("engine: load interrupted at line %d: %w", l.Line(), err)
		}
		st, err := l.Step()
		if err != nil {
			return fmt.Errorf("engine: %s: %w", e.cfg.FlatFile, err)
		}
		if st == flatfile.Done {
			return nil
		}
	}
}

func (e *Engine) bootstrap() error {
	limbo, err := e.db.Create("Limbo", gamedb.TypeRoom, gamedb.DBRef(e.cfg.RootPlayer))
	if err != nil {
		return fmt.Errorf("engine: bootstrap: %w", err)
	}
	root, err := e.db.Create("Root", gamedb.TypePlayer, gamedb.Nothing)
	if err != nil {
		return fmt.Errorf("engine: bootstrap: %w", err)
	}
	e.db.Get(root).Exits = limbo
	e.db.MoveTo(root, limbo)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Do runs fn with exclusive access to the database. touched objects are
// written through to bolt on the next tick.
func (e *Engine) Do(fn func(db *gamedb.DB) error, touched ...gamedb.DBRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := fn(e.db)
	for _, r := range touched {
		e.dirty[r] = true
	}
	return err
}

// Tick advances the periodic work: one incremental collector step, a due
// full pass, the bolt flush, and due autosaves and archives.
func (e *Engine) Tick(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gc.Step()
	if due(e.cfg.FullPassInterval, e.lastFull, now) {
		e.gc.FixFreeList()
		e.lastFull = now
	}

	var errs []error
	if err := e.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	if due(e.cfg.AutosaveInterval, e.lastSave, now) {
		if err := e.saveLocked(); err != nil {
			errs = append(errs, err)
		}
		e.lastSave = now
	}
	if e.cfg.ArchiveDir != "" && due(e.cfg.ArchiveInterval, e.lastArchive, now) {
		if _, err := e.archiveLocked(); err != nil {
			errs = append(errs, err)
		}
		e.lastArchive = now
	}
	return errors.Join(errs...)
}

func due(minutes int, last, now time.Time) bool {
	return minutes > 0 && now.Sub(last) >= time.Duration(minutes)*time.Minute
}

// Flush writes pending changes through to bolt.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
	if e.bolt == nil {
		e.clearDirty()
		return nil
	}
	if e.resync {
		if err := e.bolt.SaveDB(e.db); err != nil {
			return fmt.Errorf("engine: flush: %w", err)
		}
		e.clearDirty()
		return nil
	}
	if len(e.dirty) == 0 {
		return nil
	}
	refs := make([]gamedb.DBRef, 0, len(e.dirty))
	for r := range e.dirty {
		refs = append(refs, r)
	}
	slices.Sort(refs)
	if err := e.bolt.PutObjects(e.db, refs...); err != nil {
		return fmt.Errorf("engine: flush: %w", err)
	}
	e.clearDirty()
	return nil
}

func (e *Engine) clearDirty() {
	clear(e.dirty)
	e.resync = false
}

// Save dumps the database to the flatfile and rewrites the bolt snapshot.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.saveLocked()
	e.lastSave = e.clock.Now()
	return err
}

func (e *Engine) saveLocked() error {
	start := time.Now()
	if e.cfg.FlatFile != "" {
		if err := flatfile.Save(e.cfg.FlatFile, e.db); err != nil {
			return fmt.Errorf("engine: save: %w", err)
		}
	}
	if e.bolt != nil {
		if err := e.bolt.SaveDB(e.db); err != nil {
			return fmt.Errorf("engine: save: %w", err)
		}
		e.clearDirty()
	}
	elapsed := time.Since(start)
	e.metrics.Saved(elapsed)
	e.bus.Emit(events.Event{Type: events.EvSaved, Ref: gamedb.Nothing, Related: gamedb.Nothing,
		Data: map[string]any{"top": e.db.Top()}})
	e.log.Info("engine: saved", zap.String("flatfile", e.cfg.FlatFile), zap.Duration("elapsed", elapsed))
	return nil
}

// Archive writes a checksummed archive of the flatfile dump, the bolt
// snapshot, the SQLite export and the config, then prunes old archives.
func (e *Engine) Archive() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	path, err := e.archiveLocked()
	e.lastArchive = e.clock.Now()
	return path, err
}

func (e *Engine) archiveLocked() (string, error) {
	if e.cfg.ArchiveDir == "" {
		return "", ErrNoArchiveDir
	}
	s := e.db.Stats()
	p := archive.Params{
		FlatFile:   func(dest string) error { return flatfile.Save(dest, e.db) },
		ConfPath:   e.cfg.Path(),
		ArchiveDir: e.cfg.ArchiveDir,
		Name:       e.cfg.MudName,
		Top:        s.Top,
		Live:       s.Live(),
		DBVersion:  flatfile.CurrentVersion,
		Now:        e.clock.Now(),
	}
	if e.bolt != nil {
		p.Bolt = e.bolt.Backup
	}
	if e.cfg.SQLExportPath != "" {
		p.SQL = func(dest string) error {
			_, err := e.exportLocked(context.Background(), dest)
			return err
		}
	}
	path, err := archive.Create(p)
	if err != nil {
		return "", fmt.Errorf("engine: %w", err)
	}
	removed, err := archive.Prune(e.cfg.ArchiveDir, e.cfg.ArchiveRetain)
	if err != nil {
		e.log.Warn("engine: pruning archives failed", zap.Error(err))
	}
	obslog.Important(e.log, "engine: archive written",
		zap.String("path", path), zap.Int("pruned", len(removed)))
	return path, nil
}

// ExportSQL writes the live objects into the configured SQLite file.
func (e *Engine) ExportSQL(ctx context.Context) (sqlexport.Counts, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.SQLExportPath == "" {
		return sqlexport.Counts{}, ErrNoSQLPath
	}
	return e.exportLocked(ctx, e.cfg.SQLExportPath)
}

func (e *Engine) exportLocked(ctx context.Context, path string) (sqlexport.Counts, error) {
	s, err := sqlexport.Open(path, e.log)
	if err != nil {
		return sqlexport.Counts{}, err
	}
	n, err := s.Export(ctx, e.db)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// RunFullConsistencyPass runs the collector's full pass.
func (e *Engine) RunFullConsistencyPass() collector.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	rep := e.gc.FixFreeList()
	e.lastFull = e.clock.Now()
	return rep
}

// RunIncrementalConsistencyStep checks one chunk and returns its size.
func (e *Engine) RunIncrementalConsistencyStep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gc.Step()
}

// Destroy destroys ref immediately.
func (e *Engine) Destroy(ref gamedb.DBRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gc.Destroy(ref)
}

// Doom schedules ref for destruction after the configured doom delay.
func (e *Engine) Doom(ref gamedb.DBRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gc.Doom(ref, time.Duration(e.cfg.DoomDelay)*time.Second); err != nil {
		return err
	}
	e.dirty[ref] = true
	return nil
}

// Undoom cancels a scheduled destruction.
func (e *Engine) Undoom(ref gamedb.DBRef) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gc.Undoom(ref); err != nil {
		return err
	}
	e.dirty[ref] = true
	return nil
}

// Stats reports object counts for administrative displays.
func (e *Engine) Stats() gamedb.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Stats()
}

// Validate runs the read-only integrity checks. With fix set, every
// fixable finding is repaired and the snapshot is rewritten on the next
// flush.
func (e *Engine) Validate(fix bool) *validate.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := validate.New(e.db)
	findings := v.Run()
	if fix {
		if fixed := v.FixAll(); fixed > 0 {
			e.resync = true
			obslog.Important(e.log, "engine: validation fixes applied",
				zap.Int("findings", len(findings)), zap.Int("fixed", fixed))
		}
	}
	return validate.GenerateReport(v)
}

// ApplyConf installs reloaded tunables. Paths, the root player and table
// limits only take effect on restart.
func (e *Engine) ApplyConf(c *conf.Conf) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := *c
	if next.BoltPath != e.cfg.BoltPath || next.FlatFile != e.cfg.FlatFile ||
		next.RootPlayer != e.cfg.RootPlayer || next.MaxObjects != e.cfg.MaxObjects {
		e.log.Warn("engine: path and table settings change only on restart")
		next.BoltPath, next.FlatFile = e.cfg.BoltPath, e.cfg.FlatFile
		next.RootPlayer, next.MaxObjects = e.cfg.RootPlayer, e.cfg.MaxObjects
	}
	e.cfg = next
	e.gc.SetConfig(collectorConfig(&next))
	e.db.SetMaxUserAttrs(next.MaxUserAttrs)
	e.log.Info("engine: configuration applied",
		zap.Int("gc_chunk_size", next.GCChunkSize), zap.Int("max_user_attrs", next.MaxUserAttrs))
}

// Conf returns a copy of the active configuration.
func (e *Engine) Conf() conf.Conf {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Bus returns the event bus. Subscribers run while the engine lock is
// held and must not call back into the engine.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Metrics returns the engine's Prometheus metrics.
func (e *Engine) Metrics() *metrics.Metrics { return e.metrics }

// Close flushes pending changes and closes the bolt store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bolt == nil {
		return nil
	}
	err := e.flushLocked()
	if cerr := e.bolt.Close(); err == nil {
		err = cerr
	}
	e.bolt = nil
	return err
}
