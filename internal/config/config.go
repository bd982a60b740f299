// Package config loads the per-server ClientConfig record described in
// spec.md §3: transport parameters, optional init options, a settings
// tree queryable by dotted path, and language scopes. Grounded on the
// teacher's NewClangdClient construction parameters (project root, build
// dir), generalized into a single loadable record per the reference
// implementation's client config object.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/firi/lspcore/internal/transport"
)

// ClientConfig is the immutable per-session record spec.md §3 describes.
// Once constructed it is never mutated; a Session holds a pointer to it
// and reads from it for the lifetime of the session.
type ClientConfig struct {
	// Name identifies the server for logging and as the diagnostics-sink
	// key (spec.md §4.4's textDocument/publishDiagnostics handler).
	Name string

	// Transport selects and parameterizes the underlying duplex stream.
	Transport transport.Params

	// InitOptions becomes initializationOptions on the initialize
	// request when non-nil.
	InitOptions map[string]any

	// Settings is the arbitrary JSON tree resolved by dotted path for
	// workspace/configuration requests and sent wholesale via
	// workspace/didChangeConfiguration after a successful initialize.
	Settings map[string]any

	// LanguageScopes restricts which document languages this session
	// cares about; empty means all languages.
	LanguageScopes []string

	// ID correlates this session's log lines across a process running
	// several concurrent sessions. Generated once at construction, never
	// sent over the wire.
	ID uuid.UUID

	// Environment holds extra environment variables merged into the
	// spawned server process's environment for a stdio transport; ignored
	// for TCP/WebSocket. Load folds these into Transport.Env as "K=V"
	// pairs, so this field reflects the named-variable intent while
	// Transport.Env remains the one thing the transport actually reads.
	Environment map[string]string

	// CancelOnTimeout, when true, makes a timed-out synchronous request
	// fire a best-effort $/cancelRequest notification for the abandoned
	// id (see SPEC_FULL.md §4.4). Off by default.
	CancelOnTimeout bool
}

// New builds a ClientConfig for name/params with a fresh correlation ID
// and no settings, init options, or language restriction.
func New(name string, params transport.Params) *ClientConfig {
	return &ClientConfig{
		Name:      name,
		Transport: params,
		ID:        uuid.New(),
	}
}

// fileShape is the on-disk YAML representation. Kept separate from
// ClientConfig so the public struct's zero value stays usable without
// ever round-tripping through YAML tags.
type fileShape struct {
	Name            string            `yaml:"name"`
	TransportKind   string            `yaml:"transport"`
	Command         string            `yaml:"command"`
	Args            []string          `yaml:"args"`
	Env             []string          `yaml:"env"`
	Address         string            `yaml:"address"`
	URL             string            `yaml:"url"`
	WorkingDir      string            `yaml:"workingDir"`
	InitOptions     map[string]any    `yaml:"initOptions"`
	Settings        map[string]any    `yaml:"settings"`
	LanguageScopes  []string          `yaml:"languageScopes"`
	Environment     map[string]string `yaml:"environment"`
	CancelOnTimeout bool              `yaml:"cancelOnTimeout"`
}

// Load reads a YAML server config from path and builds a ClientConfig
// from it, generating a fresh correlation ID.
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fs fileShape
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	kind, err := parseTransportKind(fs.TransportKind)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	env := append([]string(nil), fs.Env...)
	for k, v := range fs.Environment {
		env = append(env, k+"="+v)
	}

	return &ClientConfig{
		Name: fs.Name,
		Transport: transport.Params{
			Kind:       kind,
			Command:    fs.Command,
			Args:       fs.Args,
			Env:        env,
			Address:    fs.Address,
			URL:        fs.URL,
			WorkingDir: fs.WorkingDir,
		},
		InitOptions:     fs.InitOptions,
		Settings:        fs.Settings,
		LanguageScopes:  fs.LanguageScopes,
		Environment:     fs.Environment,
		CancelOnTimeout: fs.CancelOnTimeout,
		ID:              uuid.New(),
	}, nil
}

func parseTransportKind(s string) (transport.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stdio":
		return transport.KindStdio, nil
	case "tcp":
		return transport.KindTCP, nil
	case "websocket", "ws":
		return transport.KindWebSocket, nil
	default:
		return 0, fmt.Errorf("unknown transport kind %q", s)
	}
}

// GetDotted resolves a dotted path (e.g. "python.pythonPath") against a
// nested map[string]any tree, walking one map level per path segment.
// It returns (nil, false) as soon as a segment is missing or a
// non-empty remaining path walks into a non-map value, matching spec.md
// §8's dotted-lookup law exactly, including the empty-path case.
func GetDotted(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
