package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "library.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "library", s.Name)
	assert.Equal(t, "txn-library", s.TxnID)
	require.Len(t, s.Documents, 1)
	assert.Equal(t, "/db/library", s.Documents[0].Collection)
	assert.Equal(t, "alice", s.Documents[0].Owner)
	require.Len(t, s.Flow, 6)
	assert.Equal(t, OpQuery, s.Flow[0].Op())
	assert.Equal(t, []string{"Go", "SQL"}, s.Flow[0].Expect.Items)
	assert.Equal(t, OpUpdate, s.Flow[2].Op())
	assert.Equal(t, "volume", s.Flow[2].Update.Value)
	assert.Equal(t, "bob", s.Flow[3].Update.As)
	require.NotNil(t, s.Flow[3].Expect.Changed)
	assert.False(t, *s.Flow[3].Expect.Changed)
	assert.Equal(t, OpCheck, s.Flow[5].Op())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_PrefixesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\n"), 0o644))

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), "flow list is required")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\nflows: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			yaml:    "flow:\n  - check: true\n",
			wantErr: "name is required",
		},
		{
			name:    "document without xml",
			yaml:    "name: x\ndocuments:\n  - name: a.xml\nflow:\n  - check: true\n",
			wantErr: "documents[0]: xml is required",
		},
		{
			name:    "relative collection",
			yaml:    "name: x\ndocuments:\n  - {collection: db, name: a.xml, xml: <a/>}\nflow:\n  - check: true\n",
			wantErr: "collection must be absolute",
		},
		{
			name:    "two operations",
			yaml:    "name: x\nflow:\n  - {query: '1', check: true}\n",
			wantErr: "flow[0]: exactly one of",
		},
		{
			name:    "no operation",
			yaml:    "name: x\nflow:\n  - expect: {count: 1}\n",
			wantErr: "exactly one of",
		},
		{
			name:    "vars on update",
			yaml:    "name: x\nflow:\n  - update: {kind: remove, select: //a}\n    vars: {a: b}\n",
			wantErr: "vars only apply to query steps",
		},
		{
			name:    "bad kind",
			yaml:    "name: x\nflow:\n  - update: {kind: insert, select: //a}\n",
			wantErr: "insert",
		},
		{
			name:    "missing select",
			yaml:    "name: x\nflow:\n  - update: {kind: remove}\n",
			wantErr: "update.select is required",
		},
		{
			name:    "unknown error kind",
			yaml:    "name: x\nflow:\n  - query: '1'\n    expect: {error: BOOM}\n",
			wantErr: `unknown error kind "BOOM"`,
		},
		{
			name:    "negative count",
			yaml:    "name: x\nflow:\n  - query: '1'\n    expect: {count: -1}\n",
			wantErr: "expect.count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
