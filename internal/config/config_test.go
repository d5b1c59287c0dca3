package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xcore/internal/store"
	"github.com/roach88/xcore/internal/testutil"
	"github.com/roach88/xcore/internal/trigger"
	"github.com/roach88/xcore/internal/update"
	"github.com/roach88/xcore/internal/xquery"
)

const fullConfig = `
db: /var/lib/xcore/data.db
page_capacity: 16
fragmentation_limit: 5
log_level: debug
pool:
  max_idle: 2
triggers:
  - collection: /db/audit
    event: update
    type: log
  - collection: /db/frozen
    event: update
    type: reject
    params:
      reason: read only
`

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "xcore.db", cfg.DB)
	assert.Equal(t, store.DefaultPageCapacity, cfg.PageCapacity)
	assert.Equal(t, int64(update.DefaultFragmentationLimit), cfg.FragmentationLimit)
	assert.Equal(t, xquery.DefaultMaxIdle, cfg.Pool.MaxIdle)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Empty(t, cfg.Triggers)

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/xcore/data.db", cfg.DB)
	assert.Equal(t, 16, cfg.PageCapacity)
	assert.Equal(t, int64(5), cfg.FragmentationLimit)
	assert.Equal(t, 2, cfg.Pool.MaxIdle)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	require.Len(t, cfg.Triggers, 2)
	assert.Equal(t, "reject", cfg.Triggers[1].Type)
	assert.Equal(t, "read only", cfg.Triggers[1].Params["reason"])

	assert.Len(t, cfg.StoreOptions(), 1)
	assert.Len(t, cfg.UpdateOptions(), 1)
	assert.Len(t, cfg.ServiceOptions(), 1)
}

func TestParse_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("page_capacity: 8\n"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.PageCapacity)
	assert.Equal(t, "xcore.db", cfg.DB)
	assert.Equal(t, int64(update.DefaultFragmentationLimit), cfg.FragmentationLimit)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "pagesize: 4\n"},
		{"unknown nested field", "pool:\n  size: 4\n"},
		{"capacity too small", "page_capacity: 1\n"},
		{"negative limit", "fragmentation_limit: -1\n"},
		{"wrong type", "page_capacity: many\n"},
		{"bad log level", "log_level: loud\n"},
		{"bad event", "triggers:\n  - {collection: /db, event: delete, type: log}\n"},
		{"relative collection", "triggers:\n  - {collection: db, event: update, type: log}\n"},
		{"missing type", "triggers:\n  - {collection: /db, event: update}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}

	_, err := Parse([]byte("- not\n- a map\n"))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.PageCapacity)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("page_capacity: 0\n"), 0o644))
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), bad)
}

func TestTriggerSpecs_ConfigureRegistry(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	specs, err := cfg.TriggerSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, trigger.EventUpdate, specs[0].Event)

	reg := trigger.NewRegistry(testutil.QuietLogger())
	require.NoError(t, reg.Configure(specs))
	assert.Equal(t, []string{"/db/audit", "/db/frozen"}, reg.Collections())
	assert.IsType(t, trigger.Reject{}, reg.Lookup("/db/frozen/sub", trigger.EventUpdate))
	assert.IsType(t, trigger.Null{}, reg.Lookup("/db/frozen", trigger.EventStore))
}

func TestTriggerSpecs_BadEvent(t *testing.T) {
	cfg := Default()
	cfg.Triggers = []TriggerConfig{{Collection: "/db", Event: "explode", Type: "log"}}
	_, err := cfg.TriggerSpecs()
	assert.ErrorContains(t, err, "triggers[0]")
}
