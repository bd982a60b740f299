package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/firi/lspcore/internal/transport"
)

// Dotted lookup law, spec.md §8: get_dotted_value({"a":{"b":1}}, "a.b") == 1;
// get_dotted_value({"a":1}, "a.b") == absent; get_dotted_value({}, "") == absent.
func TestGetDottedLaw(t *testing.T) {
	v, ok := GetDotted(map[string]any{"a": map[string]any{"b": 1}}, "a.b")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = GetDotted(map[string]any{"a": 1}, "a.b")
	require.False(t, ok)

	_, ok = GetDotted(map[string]any{}, "")
	require.False(t, ok)
}

func TestGetDottedMissingSegment(t *testing.T) {
	_, ok := GetDotted(map[string]any{"a": map[string]any{"b": 1}}, "a.c")
	require.False(t, ok)
}

func TestGetDottedSingleSegment(t *testing.T) {
	v, ok := GetDotted(map[string]any{"python": map[string]any{"pythonPath": "/usr/bin/py"}}, "python")
	require.True(t, ok)
	require.Equal(t, map[string]any{"pythonPath": "/usr/bin/py"}, v)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	contents := `
name: gopls
transport: stdio
command: gopls
args: ["serve"]
initOptions:
  staticcheck: true
settings:
  gopls:
    usePlaceholders: true
languageScopes: ["go"]
cancelOnTimeout: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gopls", cfg.Name)
	require.Equal(t, "gopls", cfg.Transport.Command)
	require.Equal(t, []string{"serve"}, cfg.Transport.Args)
	require.True(t, cfg.CancelOnTimeout)
	require.Equal(t, []string{"go"}, cfg.LanguageScopes)

	v, ok := GetDotted(cfg.Settings, "gopls.usePlaceholders")
	require.True(t, ok)
	require.Equal(t, true, v)

	require.NotEqual(t, cfg.ID.String(), "")
}

func TestLoadMergesEnvironmentIntoTransportEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	contents := `
name: gopls
transport: stdio
command: gopls
env: ["FOO=bar"]
environment:
  GOFLAGS: -mod=mod
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Transport.Env, "FOO=bar")
	require.Contains(t, cfg.Transport.Env, "GOFLAGS=-mod=mod")
	require.Equal(t, "-mod=mod", cfg.Environment["GOFLAGS"])
}

func TestLoadUnknownTransportKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\ntransport: carrier-pigeon\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestNewGeneratesDistinctIDs(t *testing.T) {
	a := New("server", transport.Params{Kind: transport.KindStdio, Command: "gopls"})
	b := New("server", transport.Params{Kind: transport.KindStdio, Command: "gopls"})
	require.NotEqual(t, a.ID, b.ID)
}
