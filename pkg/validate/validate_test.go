package validate

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/musedb/pkg/gamedb"
)

// makeTestDB returns a database with #0 Limbo (room) and #1 Root (player)
// standing in it.
func makeTestDB(t *testing.T) *gamedb.DB {
	t.Helper()
	db := gamedb.New(gamedb.Options{
		Clock: gamedb.ClockFunc(func() time.Time { return time.Unix(1700000000, 0) }),
	})
	if _, err := db.Create("Limbo", gamedb.TypeRoom, 1); err != nil {
		t.Fatal(err)
	}
	root, err := db.Create("Root", gamedb.TypePlayer, gamedb.Nothing)
	if err != nil {
		t.Fatal(err)
	}
	db.Get(root).Exits = 0
	db.MoveTo(root, 0)
	return db
}

func create(t *testing.T, db *gamedb.DB, name string, typ gamedb.ObjectType) gamedb.DBRef {
	t.Helper()
	ref, err := db.Create(name, typ, 1)
	if err != nil {
		t.Fatal(err)
	}
	if typ == gamedb.TypeThing {
		db.Get(ref).Exits = 0
		db.MoveTo(ref, 0)
	}
	return ref
}

func byCategory(findings []Finding, cat Category) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Category == cat {
			out = append(out, f)
		}
	}
	return out
}

func TestNoFindingsOnCleanDB(t *testing.T) {
	db := makeTestDB(t)
	box := create(t, db, "box", gamedb.TypeThing)
	def, err := db.DefineAttr(1, box, "color", "inherit")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetAttr(box, def, "red"); err != nil {
		t.Fatal(err)
	}

	findings := New(db).Run()
	if len(findings) != 0 {
		t.Errorf("expected 0 findings on clean DB, got %d", len(findings))
		for _, f := range findings {
			t.Logf("  %s: %s", f.ID, f.Description)
		}
	}
}

func TestIntegrityChecker(t *testing.T) {
	db := makeTestDB(t)
	box := create(t, db, "box", gamedb.TypeThing)
	obj := db.Get(box)
	obj.Link = 42
	obj.Zone = 43
	obj.Owner = 44

	findings := (&IntegrityChecker{}).Check(db)
	fields := make(map[string]Finding)
	for _, f := range findings {
		if f.ObjectRef == box {
			fields[f.Field] = f
		}
	}
	for _, name := range []string{"link", "zone", "owner"} {
		f, ok := fields[name]
		if !ok {
			t.Errorf("expected a finding for %s", name)
			continue
		}
		if !f.Fixable {
			t.Errorf("%s finding should be fixable", name)
		}
	}
	if got := fields["owner"].Proposed; got != "#1" {
		t.Errorf("owner proposed = %q, want #1", got)
	}
}

func TestIntegrityAllowsHomeLink(t *testing.T) {
	db := makeTestDB(t)
	ex := create(t, db, "out", gamedb.TypeExit)
	db.AddExit(0, ex)
	db.Get(ex).Link = gamedb.Home

	if findings := (&IntegrityChecker{}).Check(db); len(findings) != 0 {
		t.Errorf("expected no findings, got %+v", findings)
	}
}

func TestIntegrityFixApply(t *testing.T) {
	db := makeTestDB(t)
	box := create(t, db, "box", gamedb.TypeThing)
	db.Get(box).Fighting = 99

	v := NewWith(db, &IntegrityChecker{})
	findings := v.Run()
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if err := v.ApplyFix(findings[0].ID); err != nil {
		t.Fatalf("ApplyFix failed: %v", err)
	}
	if got := db.Get(box).Fighting; got != gamedb.Nothing {
		t.Errorf("fighting = #%d, want Nothing", got)
	}
	if err := v.ApplyFix(findings[0].ID); err == nil {
		t.Error("expected error applying a fix twice")
	}
	if err := v.ApplyFix("integrity-99"); err == nil {
		t.Error("expected error for unknown finding")
	}
}

func TestChainChecker(t *testing.T) {
	db := makeTestDB(t)
	create(t, db, "a", gamedb.TypeThing)
	b := create(t, db, "b", gamedb.TypeThing)

	// b -> a -> root: close the loop by pointing root back at b
	db.Get(1).Next = b

	findings := (&ChainChecker{}).Check(db)
	if len(findings) == 0 {
		t.Fatal("expected a chain finding")
	}
	if !strings.Contains(findings[0].Description, "loop") {
		t.Errorf("unexpected description %q", findings[0].Description)
	}
}

func TestChainCheckerWrongType(t *testing.T) {
	db := makeTestDB(t)
	ex := create(t, db, "out", gamedb.TypeExit)
	db.AddToContents(0, ex)

	findings := (&ChainChecker{}).Check(db)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if !strings.Contains(findings[0].Description, "has type") {
		t.Errorf("unexpected description %q", findings[0].Description)
	}
}

func TestEdgeChecker(t *testing.T) {
	db := makeTestDB(t)
	parent := create(t, db, "parent", gamedb.TypeThing)
	child := create(t, db, "child", gamedb.TypeThing)
	db.Get(child).Parents = []gamedb.DBRef{parent}

	v := NewWith(db, &EdgeChecker{})
	findings := v.Run()
	if len(findings) != 1 || findings[0].Field != "parents" {
		t.Fatalf("expected one parents finding, got %+v", findings)
	}
	if n := v.ApplyAll(CatEdge); n != 1 {
		t.Errorf("expected 1 fix, got %d", n)
	}
	if len(db.Get(child).Parents) != 0 {
		t.Errorf("parents = %v, want empty", db.Get(child).Parents)
	}
	if findings := NewWith(db, &EdgeChecker{}).Run(); len(findings) != 0 {
		t.Errorf("expected clean rerun, got %d findings", len(findings))
	}
}

func TestAttrChecker(t *testing.T) {
	db := makeTestDB(t)
	parent := create(t, db, "parent", gamedb.TypeThing)
	child := create(t, db, "child", gamedb.TypeThing)
	if err := db.AddParent(1, child, parent); err != nil {
		t.Fatal(err)
	}
	def, err := db.DefineAttr(1, parent, "mood", "inherit")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetAttr(child, def, "happy"); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveParent(1, child, parent); err != nil {
		t.Fatal(err)
	}

	v := NewWith(db, &AttrChecker{})
	findings := v.Run()
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].AttrName != "mood" || findings[0].ObjectRef != child {
		t.Errorf("unexpected finding %+v", findings[0])
	}
	if err := v.ApplyFix(findings[0].ID); err != nil {
		t.Fatal(err)
	}
	if db.HasAttr(child, def) {
		t.Error("expected entry to be cleared")
	}
	if def.Refs() != 1 {
		t.Errorf("refs = %d, want 1", def.Refs())
	}
}

func TestRefcountChecker(t *testing.T) {
	db := makeTestDB(t)
	box := create(t, db, "box", gamedb.TypeThing)
	def, err := db.DefineAttr(1, box, "weight", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetAttr(box, def, "3"); err != nil {
		t.Fatal(err)
	}
	db.RecountRefs()
	if def.Refs() != 2 {
		t.Fatalf("refs = %d, want 2", def.Refs())
	}
	if findings := (&RefcountChecker{}).Check(db); len(findings) != 0 {
		t.Fatalf("expected no findings, got %+v", findings)
	}
}

func TestFreeListChecker(t *testing.T) {
	db := makeTestDB(t)
	box := create(t, db, "box", gamedb.TypeThing)
	db.MoveTo(box, gamedb.Nothing)
	db.Recycle(box)
	db.ResetFreeList()

	v := NewWith(db, &FreeListChecker{})
	findings := v.Run()
	if len(findings) != 1 || findings[0].Severity != SevWarning {
		t.Fatalf("expected one warning, got %+v", findings)
	}
	v.ApplyAll(CatFreeList)
	if got := db.FreeList(); len(got) != 1 || got[0] != box {
		t.Errorf("free list = %v, want [#%d]", got, box)
	}
}

func TestFreeListCheckerLiveSlot(t *testing.T) {
	db := makeTestDB(t)
	box := create(t, db, "box", gamedb.TypeThing)
	db.PushFree(box)

	v := NewWith(db, &FreeListChecker{})
	findings := v.Run()
	if len(findings) != 1 || findings[0].Severity != SevError || findings[0].ObjectRef != box {
		t.Fatalf("expected one error on #%d, got %+v", box, findings)
	}
	v.ApplyAll(CatFreeList)
	if got := db.FreeList(); len(got) != 0 {
		t.Errorf("free list = %v, want empty", got)
	}
	if !db.GoodObject(box) || db.Get(box).Name != "box" {
		t.Errorf("#%d should stay live after the rebuild", box)
	}
}

func TestZoneChecker(t *testing.T) {
	db := makeTestDB(t)
	z1 := create(t, db, "z1", gamedb.TypeThing)
	z2 := create(t, db, "z2", gamedb.TypeThing)
	db.Get(z1).Zone = z2
	db.Get(z2).Zone = z1

	findings := (&ZoneChecker{}).Check(db)
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	for _, f := range findings {
		if !strings.Contains(f.Description, "loops") {
			t.Errorf("unexpected description %q", f.Description)
		}
	}

	db.Get(z2).Zone = gamedb.Nothing
	if findings := (&ZoneChecker{Limit: 1}).Check(db); len(findings) != 0 {
		t.Errorf("expected no findings within limit, got %+v", findings)
	}
}

func TestValidatorSummaryAndReport(t *testing.T) {
	db := makeTestDB(t)
	box := create(t, db, "box", gamedb.TypeThing)
	db.Get(box).Link = 77
	db.Get(box).Zone = 78

	v := New(db)
	v.Run()
	if got := v.Summary()[CatDanglingRef]; got != 2 {
		t.Errorf("expected 2 dangling findings, got %d", got)
	}
	if n := v.ApplyAll(CatDanglingRef); n != 2 {
		t.Errorf("expected 2 fixes, got %d", n)
	}
	if n := v.FixAll(); n != 0 {
		t.Errorf("expected nothing left to fix, got %d", n)
	}

	var buf bytes.Buffer
	if err := GenerateReport(v).WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}
	var decoded Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	sum := decoded.Categories[CatDanglingRef.String()]
	if sum.Total != 2 || sum.Fixed != 2 || sum.Label == "" {
		t.Errorf("unexpected summary %+v", sum)
	}
	if decoded.Errors != 2 || decoded.Live != 3 {
		t.Errorf("errors = %d, live = %d", decoded.Errors, decoded.Live)
	}

	buf.Reset()
	if err := GenerateReport(v).WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[fixed]") || !strings.Contains(buf.String(), CatDanglingRef.Label()) {
		t.Errorf("text report missing fix marks or labels:\n%s", buf.String())
	}
}

func TestFixAllRepairsInOrder(t *testing.T) {
	db := makeTestDB(t)
	box := create(t, db, "box", gamedb.TypeThing)
	def, err := db.DefineAttr(gamedb.DBRef(1), box, "charge", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetAttr(box, def, "full"); err != nil {
		t.Fatal(err)
	}
	db.Get(box).Defs = nil // unlinked definition still referenced
	db.Get(box).Link = 55

	v := New(db)
	v.Run()
	if n := v.FixAll(); n < 2 {
		t.Fatalf("expected at least 2 fixes, got %d", n)
	}
	if findings := New(db).Run(); len(findings) != 0 {
		t.Errorf("findings remain after FixAll: %+v", findings)
	}
}

func TestRunOrdersByRef(t *testing.T) {
	db := makeTestDB(t)
	a := create(t, db, "a", gamedb.TypeThing)
	b := create(t, db, "b", gamedb.TypeThing)
	db.Get(b).Link = 90
	db.Get(a).Link = 91

	findings := New(db).Run()
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	if findings[0].ObjectRef != a || findings[1].ObjectRef != b {
		t.Errorf("order = #%d, #%d", findings[0].ObjectRef, findings[1].ObjectRef)
	}
}
