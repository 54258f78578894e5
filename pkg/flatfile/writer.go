package flatfile

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// Write dumps every live object of db in the current format.
func Write(w io.Writer, db *gamedb.DB) error {
	return WriteRecords(w, db.Top(), db.ExportAll(), CurrentVersion)
}

// WriteRecords dumps recs in the given format version. Fields the version
// does not carry are dropped; before VersionInherit that includes every
// attribute with a user definition.
func WriteRecords(w io.Writer, top int, recs []*gamedb.Record, version int) error {
	lay, ok := layoutFor(version)
	if !ok {
		return fmt.Errorf("%w: %d", ErrVersion, version)
	}
	wr := &writer{w: w, lay: lay}

	wr.writef("+V%d\n", version)
	wr.writef("+S%d\n", top)
	for _, r := range recs {
		if err := wr.writeRecord(r); err != nil {
			return fmt.Errorf("flatfile: writing object #%d: %w", r.Ref, err)
		}
	}
	wr.writef("%s\n", endMarker)
	return wr.err
}

// Save writes db to path through a temporary file and a rename, so a failed
// dump never clobbers the previous one.
func Save(path string, db *gamedb.DB) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("flatfile: create temp file: %w", err)
	}

	if err := Write(f, db); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flatfile: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("flatfile: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// On Windows, may need to remove target first
		os.Remove(path)
		if err := os.Rename(tmpPath, path); err != nil {
			return fmt.Errorf("flatfile: rename temp to final: %w", err)
		}
	}
	return nil
}

type writer struct {
	w   io.Writer
	lay layout
	err error
}

func (wr *writer) writef(format string, args ...any) {
	if wr.err != nil {
		return
	}
	_, wr.err = fmt.Fprintf(wr.w, format, args...)
}

func (wr *writer) str(s string)       { wr.writef("%s\n", encodeString(s)) }
func (wr *writer) ref(r gamedb.DBRef) { wr.writef("%d\n", r) }

func (wr *writer) refs(list []gamedb.DBRef) {
	wr.writef("%d\n", len(list))
	for _, r := range list {
		wr.ref(r)
	}
}

func (wr *writer) writeRecord(r *gamedb.Record) error {
	lay := wr.lay
	wr.writef("!%d\n", r.Ref)

	wr.str(r.Name)
	if lay.extended {
		wr.str(r.DisplayName)
	}
	wr.ref(r.Location)
	if lay.zone {
		wr.ref(r.Zone)
	}
	wr.ref(r.Contents)
	wr.ref(r.Exits)
	wr.ref(r.Link)
	wr.ref(r.Next)
	wr.ref(r.Owner)
	if lay.extended {
		wr.ref(r.Fighting)
	}
	wr.writef("%d\n", r.Flags)
	if lay.timestamps {
		wr.writef("%d\n%d\n", r.Created, r.Modified)
	}
	if lay.extended {
		wr.writef("%d\n", len(r.Powers))
		for _, p := range r.Powers {
			wr.writef("%d\n", p)
		}
	}
	if lay.inheritance {
		wr.refs(r.Parents)
		wr.refs(r.Children)
		wr.writef("%d\n", len(r.Defs))
		for _, d := range r.Defs {
			wr.writef("%d:%s\n", d.Flags, d.Name)
		}
	}

	for _, a := range r.Attrs {
		tag, ok := wr.attrTag(a.Ref)
		if !ok {
			continue
		}
		wr.writef(">%s\n", tag)
		wr.str(a.Value)
	}
	wr.writef("<\n")
	return wr.err
}

// attrTag renders an attribute reference: the built-in number, or
// "#owner.index" for a user definition.
func (wr *writer) attrTag(ref gamedb.AttrRef) (string, bool) {
	if ref.Builtin > 0 {
		return strconv.Itoa(ref.Builtin), true
	}
	if !wr.lay.inheritance {
		return "", false
	}
	var b strings.Builder
	b.WriteByte('#')
	b.WriteString(strconv.Itoa(int(ref.Owner)))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(ref.Index))
	return b.String(), true
}
