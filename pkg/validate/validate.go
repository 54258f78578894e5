// Package validate inspects a loaded database for broken invariants without
// changing it. Each finding describes one problem; some carry a fix that
// can be applied on request.
package validate

import (
	"fmt"
	"slices"
	"sort"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// Category classifies the type of finding.
type Category int

const (
	CatDanglingRef Category = iota // pointer field names no live object
	CatChain                       // contents or exit chain is corrupt
	CatEdge                        // parent/child edge recorded on one side only
	CatForeignAttr                 // entry whose definition the object cannot see
	CatRefcount                    // definition reference count drifted
	CatFreeList                    // free list disagrees with slot state
	CatZone                        // zone chain loops, dangles or runs too deep
)

func (c Category) String() string {
	switch c {
	case CatDanglingRef:
		return "dangling-ref"
	case CatChain:
		return "chain"
	case CatEdge:
		return "edge"
	case CatForeignAttr:
		return "foreign-attr"
	case CatRefcount:
		return "refcount"
	case CatFreeList:
		return "free-list"
	case CatZone:
		return "zone"
	default:
		return "unknown"
	}
}

// Severity indicates how serious a finding is.
type Severity int

const (
	SevError   Severity = iota // Must be fixed for correct behavior
	SevWarning                 // Should be reviewed
	SevInfo                    // Informational only
)

func (s Severity) String() string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	case SevInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Finding represents a single validation issue detected in the database.
type Finding struct {
	ID          string       `json:"id"`
	Category    Category     `json:"category"`
	Severity    Severity     `json:"severity"`
	ObjectRef   gamedb.DBRef `json:"object_ref"`
	Field       string       `json:"field,omitempty"`
	AttrName    string       `json:"attr_name,omitempty"`
	Description string       `json:"description"`
	Current     string       `json:"current,omitempty"`
	Proposed    string       `json:"proposed,omitempty"`
	Fixable     bool         `json:"fixable"`
	Fixed       bool         `json:"fixed"`
	fixFunc     func()       // run through ApplyFix
}

// Checker is the interface that each validation check implements.
type Checker interface {
	Name() string
	Check(db *gamedb.DB) []Finding
}

// Validator orchestrates running all checkers against a database.
type Validator struct {
	checkers []Checker
	db       *gamedb.DB
	findings []Finding
}

// New creates a Validator with all built-in checkers registered.
func New(db *gamedb.DB) *Validator {
	return NewWith(db,
		&IntegrityChecker{},
		&ChainChecker{},
		&EdgeChecker{},
		&AttrChecker{},
		&RefcountChecker{},
		&FreeListChecker{},
		&ZoneChecker{},
	)
}

// NewWith creates a Validator running only the given checkers.
func NewWith(db *gamedb.DB, checkers ...Checker) *Validator {
	return &Validator{db: db, checkers: checkers}
}

// Run executes all checkers and returns findings sorted by dbref then
// category. IDs are "<checker>-<n>" and stable for an unchanged database.
func (v *Validator) Run() []Finding {
	v.findings = nil
	for _, c := range v.checkers {
		fs := c.Check(v.db)
		for i := range fs {
			fs[i].ID = fmt.Sprintf("%s-%d", c.Name(), i)
		}
		v.findings = append(v.findings, fs...)
	}
	sort.SliceStable(v.findings, func(i, j int) bool {
		if v.findings[i].ObjectRef != v.findings[j].ObjectRef {
			return v.findings[i].ObjectRef < v.findings[j].ObjectRef
		}
		return v.findings[i].Category < v.findings[j].Category
	})
	return v.findings
}

// Findings returns the current findings (after Run has been called).
func (v *Validator) Findings() []Finding {
	return v.findings
}

// ApplyFix repairs the finding with the given ID.
func (v *Validator) ApplyFix(id string) error {
	i := slices.IndexFunc(v.findings, func(f Finding) bool { return f.ID == id })
	if i < 0 {
		return fmt.Errorf("validate: finding %s not found", id)
	}
	f := &v.findings[i]
	switch {
	case !f.Fixable:
		return fmt.Errorf("validate: finding %s is not fixable", id)
	case f.Fixed:
		return fmt.Errorf("validate: finding %s is already fixed", id)
	}
	v.apply(f)
	return nil
}

func (v *Validator) apply(f *Finding) {
	if f.fixFunc != nil {
		f.fixFunc()
	}
	f.Fixed = true
}

// ApplyAll repairs every open fixable finding in cat and returns how many
// were repaired.
func (v *Validator) ApplyAll(cat Category) int {
	n := 0
	for i := range v.findings {
		f := &v.findings[i]
		if f.Category == cat && f.Fixable && !f.Fixed {
			v.apply(f)
			n++
		}
	}
	return n
}

// FixAll repairs every fixable finding, category by category in
// declaration order: pointer and edge repairs first, attribute clears next,
// then the reference recount and the free-list rebuild that depend on them.
func (v *Validator) FixAll() int {
	n := 0
	for cat := CatDanglingRef; cat <= CatZone; cat++ {
		n += v.ApplyAll(cat)
	}
	return n
}

// Summary returns counts of findings per category.
func (v *Validator) Summary() map[Category]int {
	m := make(map[Category]int)
	for _, f := range v.findings {
		m[f.Category]++
	}
	return m
}

// liveRefs yields every slot that holds a live object.
func liveRefs(db *gamedb.DB) []gamedb.DBRef {
	var out []gamedb.DBRef
	for i := 0; i < db.Top(); i++ {
		ref := gamedb.DBRef(i)
		if db.GoodObject(ref) && !db.IsDestroyed(ref) {
			out = append(out, ref)
		}
	}
	return out
}

func refStr(r gamedb.DBRef) string { return fmt.Sprintf("#%d", r) }
