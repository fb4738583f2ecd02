package infra

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	return decode(v)
}

func TestConfig_DefaultsAndSchedules(t *testing.T) {
	cfg, err := load(t, `
schedules:
  - name: overdue-reminders
    cron: "0 9 * * 1-5"
    tenant_id: academy-1
    event_type: financial.invoice_overdue
    intent_key: invoices.overdue.list
    params:
      limit: 20
`)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Engine.Storage)
	assert.Equal(t, 24*time.Hour, cfg.Engine.DedupTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Audit.FlushInterval)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "academy-1", cfg.Schedules[0].TenantID)
	assert.EqualValues(t, 20, cfg.Schedules[0].Params["limit"])
}

func TestConfig_Validation(t *testing.T) {
	_, err := load(t, "engine:\n  storage: sqlite\n")
	assert.ErrorContains(t, err, "engine.storage")

	_, err = load(t, "engine:\n  dedup: redis\n")
	assert.ErrorContains(t, err, "redis.addr")

	_, err = load(t, "engine:\n  storage: postgres\n")
	assert.ErrorContains(t, err, "database.url")

	_, err = load(t, "schedules:\n  - name: broken\n    cron: \"* * * * *\"\n")
	assert.ErrorContains(t, err, "schedules[0]")
}
