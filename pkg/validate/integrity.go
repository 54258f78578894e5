package validate

import (
	"fmt"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// IntegrityChecker reports pointer fields that name no live object.
// Dangling link, zone and fighting fields can be cleared; the structural
// fields are left for the consistency pass, which knows where to relocate.
type IntegrityChecker struct{}

func (c *IntegrityChecker) Name() string { return "integrity" }

func (c *IntegrityChecker) Check(db *gamedb.DB) []Finding {
	var findings []Finding

	for _, ref := range liveRefs(db) {
		obj := db.Get(ref)
		fields := []struct {
			name    string
			ptr     *gamedb.DBRef
			special bool // Home and Ambiguous allowed
			fixable bool
		}{
			{"location", &obj.Location, true, false},
			{"contents", &obj.Contents, false, false},
			{"exits", &obj.Exits, obj.ObjType() != gamedb.TypeRoom, false},
			{"next", &obj.Next, false, false},
			{"link", &obj.Link, true, true},
			{"zone", &obj.Zone, false, true},
			{"fighting", &obj.Fighting, false, true},
		}
		for _, f := range fields {
			v := *f.ptr
			if v == gamedb.Nothing || (db.GoodObject(v) && !db.IsDestroyed(v)) {
				continue
			}
			if f.special && (v == gamedb.Home || v == gamedb.Ambiguous) {
				continue
			}
			ptr := f.ptr
			finding := Finding{
				Category:    CatDanglingRef,
				Severity:    SevError,
				ObjectRef:   ref,
				Field:       f.name,
				Description: fmt.Sprintf("#%d %s #%d does not exist", ref, f.name, v),
				Current:     refStr(v),
			}
			if f.fixable {
				finding.Fixable = true
				finding.Proposed = refStr(gamedb.Nothing)
				finding.fixFunc = func() { *ptr = gamedb.Nothing }
			}
			findings = append(findings, finding)
		}

		// Owner should exist and be a player
		if owner := db.Get(obj.Owner); !db.GoodObject(obj.Owner) || db.IsDestroyed(obj.Owner) {
			findings = append(findings, Finding{
				Category:    CatDanglingRef,
				Severity:    SevError,
				ObjectRef:   ref,
				Field:       "owner",
				Description: fmt.Sprintf("#%d owner #%d does not exist", ref, obj.Owner),
				Current:     refStr(obj.Owner),
				Proposed:    refStr(db.Root()),
				Fixable:     true,
				fixFunc:     func() { obj.Owner = db.Root() },
			})
		} else if owner.ObjType() != gamedb.TypePlayer {
			findings = append(findings, Finding{
				Category:    CatDanglingRef,
				Severity:    SevWarning,
				ObjectRef:   ref,
				Field:       "owner",
				Description: fmt.Sprintf("#%d owner #%d is not a player (type=%s)", ref, obj.Owner, owner.ObjType()),
				Current:     refStr(obj.Owner),
			})
		}

		if obj.ObjType() == gamedb.TypeRoom && obj.Location != ref {
			findings = append(findings, Finding{
				Category:    CatDanglingRef,
				Severity:    SevWarning,
				ObjectRef:   ref,
				Field:       "location",
				Description: fmt.Sprintf("room #%d location is #%d, not itself", ref, obj.Location),
				Current:     refStr(obj.Location),
			})
		}
	}
	return findings
}

// ChainChecker walks every contents and exit chain looking for loops,
// members of the wrong type and members that do not point back.
type ChainChecker struct {
	// MaxLen bounds a chain walk (default 50000).
	MaxLen int
}

func (c *ChainChecker) Name() string { return "chain" }

func (c *ChainChecker) Check(db *gamedb.DB) []Finding {
	maxLen := c.MaxLen
	if maxLen <= 0 {
		maxLen = 50000
	}
	var findings []Finding
	report := func(ref gamedb.DBRef, kind, msg string, args ...any) {
		findings = append(findings, Finding{
			Category:    CatChain,
			Severity:    SevError,
			ObjectRef:   ref,
			Field:       kind,
			Description: fmt.Sprintf("#%d %s chain: ", ref, kind) + fmt.Sprintf(msg, args...),
		})
	}

	for _, ref := range liveRefs(db) {
		obj := db.Get(ref)
		walk := func(kind string, head gamedb.DBRef, wantExit bool) {
			visited := make(map[gamedb.DBRef]bool)
			for cur := head; cur != gamedb.Nothing; {
				if visited[cur] {
					report(ref, kind, "loop at #%d", cur)
					return
				}
				if len(visited) >= maxLen {
					report(ref, kind, "exceeds %d entries", maxLen)
					return
				}
				visited[cur] = true
				m := db.Get(cur)
				if m == nil || !db.GoodObject(cur) {
					report(ref, kind, "member #%d does not exist", cur)
					return
				}
				isExit := m.ObjType() == gamedb.TypeExit
				if isExit != wantExit || m.ObjType() == gamedb.TypeRoom {
					report(ref, kind, "member #%d has type %s", cur, m.ObjType())
				} else if m.Location != ref {
					report(ref, kind, "member #%d has location #%d", cur, m.Location)
				}
				cur = m.Next
			}
		}
		if obj.ObjType() != gamedb.TypeExit {
			walk("contents", obj.Contents, false)
		}
		if obj.ObjType() == gamedb.TypeRoom {
			walk("exits", obj.Exits, true)
		}
	}
	return findings
}
