package flatfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crystal-mush/musedb/pkg/gamedb"
	"github.com/crystal-mush/musedb/pkg/obslog"
)

// Status is the result of one loader step.
type Status int

const (
	More Status = iota
	Done
)

func (s Status) String() string {
	if s == Done {
		return "done"
	}
	return "more"
}

// DefaultBatchSize is the number of records parsed per Step.
const DefaultBatchSize = 1000

// Hooks run once the table is materialized, in field order. Nil hooks are
// skipped; without a Consistency hook the free list is rebuilt directly.
type Hooks struct {
	Consistency func(db *gamedb.DB)
	Startup     func(db *gamedb.DB)
	Reconnect   func(db *gamedb.DB)
}

// Options configures a Loader.
type Options struct {
	// DB receives the objects and must be empty. A fresh one is created
	// when nil.
	DB        *gamedb.DB
	BatchSize int
	Hooks     Hooks
	Logger    *zap.Logger
	// Progress is called after every batch with the records staged so far.
	Progress func(loaded int)
}

// Loader reads a flatfile incrementally so that a large database can be
// loaded between other work. Records are staged and only materialized into
// the table when the end marker is reached.
type Loader struct {
	reader *bufio.Reader
	db     *gamedb.DB
	opts   Options
	log    *zap.Logger
	lay    layout
	line   int
	top    int
	recs   []*gamedb.Record
	start  time.Time
	done   bool
	err    error
}

// NewLoader reads the header from r and returns a loader positioned at the
// first record.
func NewLoader(r io.Reader, opts Options) (*Loader, error) {
	if r == nil {
		return nil, ErrNoInput
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	l := &Loader{
		reader: bufio.NewReaderSize(r, 256*1024),
		db:     opts.DB,
		opts:   opts,
		log:    obslog.OrNop(opts.Logger),
		start:  time.Now(),
	}
	if l.db == nil {
		l.db = gamedb.New(gamedb.Options{Logger: opts.Logger})
	}
	if l.db.Top() != 0 {
		return nil, gamedb.ErrNotEmpty
	}
	if err := l.parseHeader(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load reads the flatfile at path to completion.
func Load(path string, opts Options) (*gamedb.DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flatfile: open: %w", err)
	}
	defer f.Close()

	return Parse(f, opts)
}

// Parse reads a flatfile from r to completion.
func Parse(r io.Reader, opts Options) (*gamedb.DB, error) {
	l, err := NewLoader(r, opts)
	if err != nil {
		return nil, err
	}
	for {
		st, err := l.Step()
		if err != nil {
			return nil, err
		}
		if st == Done {
			return l.DB(), nil
		}
	}
}

// DB returns the database being loaded.
func (l *Loader) DB() *gamedb.DB { return l.db }

// Version returns the format version from the header.
func (l *Loader) Version() int { return l.lay.version }

// Loaded returns the number of records staged so far.
func (l *Loader) Loaded() int { return len(l.recs) }

// Line returns the number of input lines consumed.
func (l *Loader) Line() int { return l.line }

// Step parses up to BatchSize records. It returns More until the end
// marker has been read and the database materialized, then Done. Any error
// aborts the load; later calls return the same error.
func (l *Loader) Step() (Status, error) {
	if l.err != nil {
		return Done, l.err
	}
	if l.done {
		return Done, nil
	}
	for i := 0; i < l.opts.BatchSize; i++ {
		ch, err := l.peekByte()
		if err == io.EOF {
			return Done, l.fail(fmt.Errorf("no end-of-dump marker: %w", ErrTruncated))
		}
		if err != nil {
			return Done, l.fail(fmt.Errorf("read error: %w", err))
		}

		switch ch {
		case '!':
			if err := l.parseObject(); err != nil {
				return Done, l.fail(err)
			}
		case '*':
			if err := l.parseEnd(); err != nil {
				return Done, l.fail(err)
			}
			if err := l.finish(); err != nil {
				return Done, l.fail(err)
			}
			return Done, nil
		case '\n', '\r':
			l.readLine()
		default:
			return Done, l.fail(fmt.Errorf("unexpected character %q: %w", ch, ErrMalformed))
		}
	}
	if l.opts.Progress != nil {
		l.opts.Progress(len(l.recs))
	}
	return More, nil
}

func (l *Loader) fail(err error) error {
	l.err = fmt.Errorf("flatfile: line %d: %w", l.line, err)
	obslog.Important(l.log, "flatfile: load aborted", zap.Error(l.err))
	return l.err
}

// parseHeader handles the + prefixed lines: +V (version) and +S (size).
func (l *Loader) parseHeader() error {
	for {
		ch, err := l.peekByte()
		if err == io.EOF {
			return fmt.Errorf("flatfile: line %d: empty input: %w", l.line, ErrTruncated)
		}
		if err != nil {
			return fmt.Errorf("flatfile: line %d: read error: %w", l.line, err)
		}
		if ch != '+' {
			break
		}
		line, _ := l.readLine()
		if len(line) < 2 {
			return fmt.Errorf("flatfile: line %d: bad header %q: %w", l.line, line, ErrMalformed)
		}
		switch line[1] {
		case 'V':
			v, err := strconv.Atoi(strings.TrimSpace(line[2:]))
			if err != nil {
				return fmt.Errorf("flatfile: line %d: bad version %q: %w", l.line, line, ErrMalformed)
			}
			lay, ok := layoutFor(v)
			if !ok {
				return fmt.Errorf("flatfile: line %d: %w: %d", l.line, ErrVersion, v)
			}
			l.lay = lay
		case 'S':
			n, err := strconv.Atoi(strings.TrimSpace(line[2:]))
			if err != nil || n < 0 {
				return fmt.Errorf("flatfile: line %d: bad size %q: %w", l.line, line, ErrMalformed)
			}
			if n > l.db.MaxObjects() {
				return fmt.Errorf("flatfile: line %d: size %d exceeds object limit %d: %w",
					l.line, n, l.db.MaxObjects(), ErrMalformed)
			}
			l.top = n
		default:
			obslog.Diagnostic(l.log, "flatfile: ignoring unknown header", zap.String("header", line))
		}
	}
	if l.lay.version == 0 {
		return fmt.Errorf("flatfile: line %d: missing version header: %w", l.line, ErrVersion)
	}
	return nil
}

// parseObject reads a single object record starting with !<dbref>.
func (l *Loader) parseObject() error {
	l.mustReadByte() // consume '!'
	ref, err := l.readInt()
	if err != nil {
		return fmt.Errorf("reading object dbref: %w", err)
	}
	if ref < 0 || ref >= l.db.MaxObjects() {
		return fmt.Errorf("object #%d outside table limit %d: %w", ref, l.db.MaxObjects(), ErrMalformed)
	}
	r := gamedb.NewRecord(gamedb.DBRef(ref))
	lay := l.lay

	fail := func(field string, err error) error {
		return fmt.Errorf("object #%d %s: %w", ref, field, err)
	}

	if r.Name, err = l.readString(); err != nil {
		return fail("name", err)
	}
	if lay.extended {
		if r.DisplayName, err = l.readString(); err != nil {
			return fail("display name", err)
		}
	}
	if r.Location, err = l.readRef(); err != nil {
		return fail("location", err)
	}
	if lay.zone {
		if r.Zone, err = l.readRef(); err != nil {
			return fail("zone", err)
		}
	}
	if r.Contents, err = l.readRef(); err != nil {
		return fail("contents", err)
	}
	if r.Exits, err = l.readRef(); err != nil {
		return fail("exits", err)
	}
	if r.Link, err = l.readRef(); err != nil {
		return fail("link", err)
	}
	if r.Next, err = l.readRef(); err != nil {
		return fail("next", err)
	}
	if r.Owner, err = l.readRef(); err != nil {
		return fail("owner", err)
	}
	if lay.extended {
		if r.Fighting, err = l.readRef(); err != nil {
			return fail("fighting", err)
		}
	}
	if r.Flags, err = l.readInt(); err != nil {
		return fail("flags", err)
	}
	if lay.timestamps {
		if r.Created, err = l.readLong(); err != nil {
			return fail("created", err)
		}
		if r.Modified, err = l.readLong(); err != nil {
			return fail("modified", err)
		}
	}
	if lay.extended {
		n, err := l.readCount()
		if err != nil {
			return fail("powers", err)
		}
		for i := 0; i < n; i++ {
			p, err := l.readInt()
			if err != nil {
				return fail("powers", err)
			}
			r.Powers = append(r.Powers, p)
		}
	}
	if lay.inheritance {
		if r.Parents, err = l.readRefList(); err != nil {
			return fail("parents", err)
		}
		if r.Children, err = l.readRefList(); err != nil {
			return fail("children", err)
		}
		if r.Defs, err = l.readDefs(gamedb.DBRef(ref)); err != nil {
			return fail("definitions", err)
		}
	}
	if r.Attrs, err = l.readAttrList(); err != nil {
		return fail("attrs", err)
	}

	l.recs = append(l.recs, r)
	return nil
}

// readDefs reads a counted list of "flags:name" definition lines.
func (l *Loader) readDefs(owner gamedb.DBRef) ([]gamedb.DefRecord, error) {
	n, err := l.readCount()
	if err != nil {
		return nil, err
	}
	var defs []gamedb.DefRecord
	for i := 0; i < n; i++ {
		line, err := l.readString()
		if err != nil {
			return nil, err
		}
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			return nil, fmt.Errorf("%w: bad definition %q", ErrMalformed, line)
		}
		flags, err := strconv.Atoi(line[:idx])
		if err != nil || !gamedb.ValidAttrName(line[idx+1:]) {
			return nil, fmt.Errorf("%w: bad definition %q", ErrMalformed, line)
		}
		defs = append(defs, gamedb.DefRecord{Name: line[idx+1:], Flags: flags, Owner: owner})
	}
	return defs, nil
}

// readAttrList reads the > tagged entries up to the closing <.
func (l *Loader) readAttrList() ([]gamedb.AttrRecord, error) {
	var attrs []gamedb.AttrRecord
	for {
		ch, err := l.peekByte()
		if err != nil {
			return attrs, ErrTruncated
		}

		switch ch {
		case '>':
			l.mustReadByte() // consume '>'
			tag, err := l.readLine()
			if err != nil {
				return attrs, ErrTruncated
			}
			ref, err := l.parseAttrTag(tag)
			if err != nil {
				return attrs, err
			}
			val, err := l.readString()
			if err != nil {
				return attrs, fmt.Errorf("reading value of %q: %w", tag, err)
			}
			if len(attrs) >= MaxListLen {
				return attrs, ErrListTooLong
			}
			attrs = append(attrs, gamedb.AttrRecord{Ref: ref, Value: val})
		case '<':
			l.readLine() // consume '<' and trailing newline
			return attrs, nil
		default:
			return attrs, fmt.Errorf("unexpected character %q in attribute list: %w", ch, ErrMalformed)
		}
	}
}

func (l *Loader) parseAttrTag(tag string) (gamedb.AttrRef, error) {
	tag = strings.TrimSpace(tag)
	if strings.HasPrefix(tag, "#") && l.lay.inheritance {
		owner, index, ok := strings.Cut(tag[1:], ".")
		if ok {
			o, err1 := strconv.Atoi(owner)
			i, err2 := strconv.Atoi(index)
			if err1 == nil && err2 == nil && i >= 0 {
				return gamedb.AttrRef{Owner: gamedb.DBRef(o), Index: i}, nil
			}
		}
		return gamedb.AttrRef{}, fmt.Errorf("%w: bad attribute tag %q", ErrMalformed, tag)
	}
	n, err := strconv.Atoi(tag)
	if err != nil || n <= 0 {
		return gamedb.AttrRef{}, fmt.Errorf("%w: bad attribute tag %q", ErrMalformed, tag)
	}
	return gamedb.AttrRef{Builtin: n}, nil
}

// parseEnd handles the ***END OF DUMP*** marker.
func (l *Loader) parseEnd() error {
	line, _ := l.readLine()
	if strings.TrimSpace(line) != endMarker {
		return fmt.Errorf("bad end marker %q: %w", line, ErrMalformed)
	}
	return nil
}

// finish materializes the staged records and runs the post-load hooks.
func (l *Loader) finish() error {
	db := l.db
	if err := db.Restore(l.top, l.recs); err != nil {
		return err
	}
	l.recs = l.recs[:0:0]
	db.ResetFreeList()

	if h := l.opts.Hooks.Consistency; h != nil {
		h(db)
	} else {
		db.RebuildFreeList()
	}
	db.RecountRefs()
	if h := l.opts.Hooks.Startup; h != nil {
		h(db)
	}
	if h := l.opts.Hooks.Reconnect; h != nil {
		h(db)
	}

	l.done = true
	obslog.Important(l.log, "flatfile: load complete",
		zap.Int("version", l.lay.version), zap.Int("top", db.Top()),
		zap.Int("free", db.FreeCount()), zap.Int("lines", l.line),
		zap.Duration("elapsed", time.Since(l.start)))
	return nil
}

// --- Low-level I/O helpers ---

func (l *Loader) peekByte() (byte, error) {
	b, err := l.reader.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (l *Loader) mustReadByte() (byte, error) {
	b, err := l.reader.ReadByte()
	if b == '\n' {
		l.line++
	}
	return b, err
}

// readLine reads until end of line and returns the content (excluding newline).
func (l *Loader) readLine() (string, error) {
	line, err := l.reader.ReadString('\n')
	l.line++
	line = strings.TrimRight(line, "\r\n")
	if errors.Is(err, io.EOF) && line != "" {
		err = nil
	}
	return line, err
}

func (l *Loader) readString() (string, error) {
	line, err := l.readLine()
	if errors.Is(err, io.EOF) {
		return "", ErrTruncated
	}
	if err != nil {
		return "", err
	}
	return decodeString(line), nil
}

func (l *Loader) readLong() (int64, error) {
	line, err := l.readLine()
	if errors.Is(err, io.EOF) {
		return 0, ErrTruncated
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", ErrMalformed, line)
	}
	return n, nil
}

func (l *Loader) readInt() (int, error) {
	n, err := l.readLong()
	if err != nil {
		return 0, err
	}
	if int64(int(n)) != n {
		return 0, fmt.Errorf("%w: integer out of range %d", ErrMalformed, n)
	}
	return int(n), nil
}

func (l *Loader) readRef() (gamedb.DBRef, error) {
	n, err := l.readInt()
	return gamedb.DBRef(n), err
}

func (l *Loader) readCount() (int, error) {
	n, err := l.readInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrMalformed, n)
	}
	if n > MaxListLen {
		return 0, fmt.Errorf("%w: %d", ErrListTooLong, n)
	}
	return n, nil
}

func (l *Loader) readRefList() ([]gamedb.DBRef, error) {
	n, err := l.readCount()
	if err != nil {
		return nil, err
	}
	var out []gamedb.DBRef
	for i := 0; i < n; i++ {
		r, err := l.readRef()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
