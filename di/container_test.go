package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3tea/cdc-sentinel/binding"
	"github.com/web3tea/cdc-sentinel/capturer"
	"github.com/web3tea/cdc-sentinel/config"
	"github.com/web3tea/cdc-sentinel/dispatcher"
	"github.com/web3tea/cdc-sentinel/store"
)

const dryRunConfig = `
log_level = "warn"

[source]
database = "inventory"

[pipeline]
dry_run = true
queue_capacity = 16

[[bindings]]
entity = "Service"
table = "SERVICE"
fields = ["NAME"]
`

func setup(t *testing.T, content string) do.Injector {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return SetupContainer(path)
}

func TestContainerDryRun(t *testing.T) {
	i := setup(t, dryRunConfig)

	cfg, err := do.Invoke[*config.Config](i)
	require.NoError(t, err)
	assert.True(t, cfg.Pipeline.DryRun)

	registry, err := do.Invoke[*binding.Registry](i)
	require.NoError(t, err)
	require.Len(t, registry.Bindings(), 1)
	assert.Equal(t, "console", registry.Bindings()[0].Handler)

	queue, err := do.Invoke[*dispatcher.Queue](i)
	require.NoError(t, err)
	assert.Equal(t, 16, queue.Cap())

	state, err := do.Invoke[*store.StateStore](i)
	require.NoError(t, err)
	defer state.Close()

	d, err := do.Invoke[*dispatcher.Dispatcher](i)
	require.NoError(t, err)

	ev := &capturer.ChangeEvent{
		EntityType:   "Service",
		ChangeType:   capturer.Insert,
		UUID:         "u1",
		FullDocument: map[string]any{"NAME": "svc"},
		ResumeToken:  "tok-1",
	}
	assert.True(t, d.Dispatch(context.Background(), ev))

	token, ok, err := state.LastToken(context.Background(), "Service")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", token)
}

func TestContainerPebbleState(t *testing.T) {
	dir := t.TempDir()
	i := setup(t, dryRunConfig+"\n[state]\ntype = \"pebble\"\npath = \""+filepath.ToSlash(dir)+"\"\n")

	state, err := do.Invoke[*store.StateStore](i)
	require.NoError(t, err)
	require.NoError(t, state.SaveToken(context.Background(), "Service", "tok"))
	require.NoError(t, state.Close())
}

func TestContainerInvalidConfig(t *testing.T) {
	i := setup(t, "[source]\nuri = \"mongodb://localhost\"\n")

	_, err := do.Invoke[*config.Config](i)
	assert.ErrorContains(t, err, "source.database is required")
}

func TestStatusLogger(t *testing.T) {
	s := statusLogger{capturer.NoopLogger()}
	assert.NotPanics(t, func() {
		s.ReportStatus("running", "")
		s.ReportStatus("error", "boom")
	})
}
