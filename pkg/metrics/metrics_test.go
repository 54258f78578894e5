package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/musedb/pkg/collector"
	"github.com/crystal-mush/musedb/pkg/gamedb"
)

var _ collector.Recorder = (*Metrics)(nil)

func TestUpdateCopiesStats(t *testing.T) {
	m := New(func() gamedb.Stats {
		return gamedb.Stats{Top: 10, Capacity: 16, Free: 2, Rooms: 3, Things: 4, Players: 1, Going: 1, UserDefs: 5}
	})
	m.Update()

	assert.Equal(t, 10.0, testutil.ToFloat64(m.top))
	assert.Equal(t, 16.0, testutil.ToFloat64(m.capacity))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.free))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.objects.WithLabelValues("ROOM")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.objects.WithLabelValues("THING")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.userDefs))
}

func TestRecorderCounters(t *testing.T) {
	m := New(nil)
	m.Repair("zone")
	m.Repair("zone")
	m.Repair("parent")
	m.Destroyed(gamedb.TypeExit)
	m.Pass(true, 3*time.Millisecond)
	m.Pass(false, time.Millisecond)
	m.Pass(false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.repairs.WithLabelValues("zone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repairs.WithLabelValues("parent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.destroyed.WithLabelValues("EXIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("full")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.passes.WithLabelValues("incremental")))
}

func TestLoadAndSave(t *testing.T) {
	m := New(nil)
	m.LoadProgress(3000)
	m.Saved(20 * time.Millisecond)

	assert.Equal(t, 3000.0, testutil.ToFloat64(m.loaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.saves))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(func() gamedb.Stats { return gamedb.Stats{Top: 7} })
	m.Repair("owner")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "musedb_top 7"), "missing top gauge")
	assert.True(t, strings.Contains(text, `musedb_repairs_total{kind="owner"} 1`), "missing repair counter")
	assert.True(t, strings.Contains(text, "musedb_goroutines"), "missing runtime gauge")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(nil), New(nil)
	a.Repair("x")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.repairs.WithLabelValues("x")))
}
