package gamedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExportRestoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	hall := mustCreate(t, db, "Hall", TypeRoom)
	box := mustCreate(t, db, "box", TypeThing)
	base := mustCreate(t, db, "base", TypeThing)
	db.MoveTo(box, hall)
	db.Get(box).DisplayName = "a <b>box</b>"
	db.Get(box).Powers = []int{3, 5}
	require.NoError(t, db.AddParent(1, box, base))

	color := mustDefine(t, db, base, "COLOR", "inherit")
	scratch := mustDefine(t, db, base, "SCRATCH", "unsaved")
	// box's entry refers to a definition owned by a later object
	require.NoError(t, db.SetAttr(box, color, "red"))
	require.NoError(t, db.SetAttr(box, scratch, "tmp"))
	require.NoError(t, db.SetAttr(box, AttrDesc, "line one\nline two"))

	recs := db.ExportAll()
	out := New(Options{Clock: db.clock})
	require.NoError(t, out.Restore(db.Top(), recs))
	out.RecountRefs()

	assert.Equal(t, db.Top(), out.Top())
	gotBox := out.Get(box)
	assert.Equal(t, "a <b>box</b>", gotBox.DisplayName)
	assert.Equal(t, []int{3, 5}, gotBox.Powers)
	assert.Equal(t, []DBRef{base}, gotBox.Parents)
	assert.Equal(t, "line one\nline two", out.GetAttr(box, AttrDesc))

	gotColor := out.FindDef(base, "COLOR")
	require.NotNil(t, gotColor)
	assert.Equal(t, "red", out.GetAttr(box, gotColor))
	assert.Equal(t, 2, gotColor.Refs())
	gotScratch := out.FindDef(base, "SCRATCH")
	require.NotNil(t, gotScratch)
	assert.False(t, out.HasAttr(box, gotScratch), "unsaved values are not exported")
	assert.Equal(t, testEpoch.Unix(), gotBox.Created.Unix())
}

func TestRestoreFillsGapsAsDestroyed(t *testing.T) {
	db := New(Options{})
	r0 := NewRecord(0)
	r0.Flags = int(TypeRoom)
	r0.Location = 0
	r3 := NewRecord(3)
	r3.Name = "late"
	require.NoError(t, db.Restore(0, []*Record{r0, r3}))
	assert.Equal(t, 4, db.Top())
	assert.True(t, db.IsDestroyed(2))
	assert.Equal(t, 0, db.FreeCount(), "free list is rebuilt by the consistency pass")
	assert.Equal(t, 1, db.RebuildFreeList())
	assert.False(t, db.IsDestroyed(1), "root slot is never treated as destroyed")
}

func TestRestoreRejectsDuplicatesAndNonEmpty(t *testing.T) {
	db := New(Options{})
	err := db.Restore(0, []*Record{NewRecord(0), NewRecord(0)})
	assert.Error(t, err)

	full := newTestDB(t)
	assert.ErrorIs(t, full.Restore(0, nil), ErrNotEmpty)
}

func TestRestoreRefusesOversizeTable(t *testing.T) {
	fatal := false
	db := New(Options{
		MaxObjects: 10,
		Fatal:      func(string, ...zap.Field) { fatal = true },
	})
	assert.ErrorIs(t, db.Restore(11, nil), ErrTableFull)
	assert.ErrorIs(t, db.Restore(0, []*Record{NewRecord(10)}), ErrTableFull)
	assert.False(t, fatal)
	assert.Equal(t, 0, db.Top())
	assert.Equal(t, 10, db.MaxObjects())
}

func TestRestoreDropsUnknownDefinitionRefs(t *testing.T) {
	db := New(Options{})
	r := NewRecord(0)
	r.Attrs = []AttrRecord{
		{Ref: AttrRef{Builtin: 6}, Value: "desc"},
		{Ref: AttrRef{Owner: 0, Index: 3}, Value: "dangling"},
		{Ref: AttrRef{Builtin: 99}, Value: "unassigned"},
	}
	require.NoError(t, db.Restore(1, []*Record{r}))
	assert.Len(t, db.Attrs(0), 1)
	assert.Equal(t, "desc", db.GetAttr(0, AttrDesc))
}
