package obslog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/crystal-mush/musedb/pkg/conf"
)

func TestNew_JSON(t *testing.T) {
	logger, err := New(conf.LoggingConf{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNew_Console(t *testing.T) {
	logger, err := New(conf.LoggingConf{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(conf.LoggingConf{Level: "trace", Format: "json"})
	assert.Error(t, err)
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(conf.LoggingConf{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestSeverityFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := zap.New(core)

	Diagnostic(l, "repaired")
	Important(l, "look")
	Security(l, "denied")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, SevDiagnostic, entries[0].ContextMap()["severity"])
	assert.Equal(t, SevImportant, entries[1].ContextMap()["severity"])
	assert.Equal(t, SevSecurity, entries[2].ContextMap()["severity"])
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
