package backlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

const yamlBacklog = `
items:
  - id: split-billing
    description: Split billing into invoicing and payments
    cost: 3
    value: 8
    system: billing-api
    tags: [modularity]
  - id: drop-legacy
    cost: 1
    value: 2
    done: true
  - id: cache-rates
    cost: 2
    value: 5
  - id: web-only
    cost: 1
    value: 1
    system: web
`

const tomlBacklog = `
[[items]]
id = "split-billing"
cost = 3.0
value = 8.0
system = "billing-api"
tags = ["modularity"]

[[items]]
id = "cache-rates"
cost = 2.0
value = 5.0
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileProvider_YAML(t *testing.T) {
	p, err := NewFileProvider(writeFile(t, "backlog.yaml", yamlBacklog), "billing-api", nil)
	require.NoError(t, err)

	items, err := p.Backlog(context.Background(), "billing-api")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, orchestrator.BacklogItem{
		ID:          "split-billing",
		Description: "Split billing into invoicing and payments",
		Cost:        3,
		Value:       8,
		Tags:        []string{"modularity"},
	}, items[0])
	assert.Equal(t, "cache-rates", items[1].ID)

	web, err := p.Backlog(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web-only"}, ids(web))
}

func TestFileProvider_TOML(t *testing.T) {
	p, err := NewFileProvider(writeFile(t, "backlog.toml", tomlBacklog), "billing-api", nil)
	require.NoError(t, err)

	items, err := p.Backlog(context.Background(), "billing-api")
	require.NoError(t, err)
	assert.Equal(t, []string{"split-billing", "cache-rates"}, ids(items))
	assert.Equal(t, []string{"modularity"}, items[0].Tags)
}

func TestFileProvider_MissingFileIsEmpty(t *testing.T) {
	logger := logging.NewTestLogger()
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "backlog.yaml"), "billing-api", logger.Logger)
	require.NoError(t, err)

	items, err := p.Backlog(context.Background(), "any")
	require.NoError(t, err)
	assert.Empty(t, items)
	logger.AssertLogged(t, zapcore.WarnLevel, "backlog file does not exist")
}

func TestFileProvider_SeesEdits(t *testing.T) {
	path := writeFile(t, "backlog.yml", yamlBacklog)
	p, err := NewFileProvider(path, "billing-api", nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("items: []\n"), 0o600))
	items, err := p.Backlog(context.Background(), "billing-api")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFileProvider_CancelledContext(t *testing.T) {
	p, err := NewFileProvider(writeFile(t, "backlog.yaml", yamlBacklog), "billing-api", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Backlog(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFileProvider_UnsupportedFormat(t *testing.T) {
	_, err := NewFileProvider("backlog.json", "", nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDocument_Systems(t *testing.T) {
	doc, err := Parse([]byte(yamlBacklog), "yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"billing-api", "default", "web"}, doc.Systems("default"))
	assert.Equal(t, []string{"billing-api", "web"}, doc.Systems(""))
}

func TestDocument_OpenScopesUnassignedItems(t *testing.T) {
	doc, err := Parse([]byte(`
items:
  - id: shared
  - id: api-only
    system: api
`), "yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "default"}, doc.Systems("default"))
	assert.Equal(t, []string{"api-only"}, ids(doc.Open("api", "default")))
	assert.Equal(t, []string{"shared"}, ids(doc.Open("default", "default")))
	// Without a default system unassigned items apply everywhere.
	assert.Equal(t, []string{"shared", "api-only"}, ids(doc.Open("api", "")))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("items:\n  - cost: 1\n"), "yaml")
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = Parse([]byte("items:\n  - id: a\n  - id: a\n"), "yaml")
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = Parse([]byte("items: [unclosed"), "yaml")
	assert.Error(t, err)

	_, err = Parse([]byte("[[items]\n"), "toml")
	assert.Error(t, err)

	_, err = Parse(nil, "json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWatcher_SignalsChanges(t *testing.T) {
	path := writeFile(t, "backlog.yaml", yamlBacklog)
	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	// A burst of writes collapses into one signal.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(yamlBacklog), 0o600))
	}

	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change signal")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeFile(t, "backlog.yaml", yamlBacklog)
	w, err := NewWatcher(path, 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.txt"), []byte("x"), 0o600))

	select {
	case <-w.Changes():
		t.Fatal("unexpected change signal")
	case <-time.After(200 * time.Millisecond):
	}
}

func ids(items []orchestrator.BacklogItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
