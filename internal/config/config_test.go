package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
name = "test-relay"
port = 9090
log_path = "/tmp/buildrelay-test-logs"

[auth]
auth_type = "token"
allowed_tokens = ["secret"]

[projects.web]
allow_multi_build = true
max_pending_build = 2
base_endpoint_path = "/hooks/web"
unique_build_key = "job"

[projects.web.api.build]
endpoint = "/build"
method = "POST"
payload = ["job"]

[projects.web.api.socket]
endpoint = "/socket"
method = "GET"

[projects.web.build]
commands = [
  { command = "echo hi", title = "Greet", on_error = "abort", send_to_sock = true },
  { command = "echo bye", title = "Farewell" },
]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "test-relay", cfg.Name)
	assert.Equal(t, 9090, cfg.Port)

	p, ok := cfg.Projects["web"]
	require.True(t, ok)
	assert.Equal(t, "job", p.UniqueBuildKey)
	assert.Equal(t, 2, p.MaxPendingBuild)
	require.Len(t, p.Build.Commands, 2)
	assert.Equal(t, OnErrorAbort, p.Build.Commands[0].OnError)
	// Missing on_error defaults to abort.
	assert.Equal(t, OnErrorAbort, p.Build.Commands[1].OnError)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
name = "defaults"
[auth]
auth_type = "token"
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./logs", cfg.LogPath)
	assert.Equal(t, "./buildrelay.db", cfg.HistoryDB)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "buildrelay.build", cfg.Events.SubjectPrefix)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("BR_TEST_TOKEN", "from-env")
	cfg, err := Load(writeConfig(t, `
name = "env"
[auth]
auth_type = "token"
allowed_tokens = ["${BR_TEST_TOKEN}"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"from-env"}, cfg.Auth.AllowedTokens)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad auth type", "name = \"x\"\n[auth]\nauth_type = \"magic\"\n"},
		{"missing unique key", `
name = "x"
[auth]
auth_type = "token"
[projects.p]
base_endpoint_path = "/p"
`},
		{"missing base path", `
name = "x"
[auth]
auth_type = "token"
[projects.p]
unique_build_key = "job"
`},
		{"bad on_error", `
name = "x"
[auth]
auth_type = "token"
[projects.p]
base_endpoint_path = "/p"
unique_build_key = "job"
[projects.p.build]
commands = [{ command = "true", title = "t", on_error = "retry" }]
`},
		{"ssl without certs", "name = \"x\"\n[auth]\nauth_type = \"token\"\n[ssl]\nenable_ssl = true\n"},
		{"events without url", "name = \"x\"\n[auth]\nauth_type = \"token\"\n[events]\nenabled = true\n"},
		{"bad retention duration", `
name = "x"
[auth]
auth_type = "token"
[retention]
enabled = true
max_age = "fortnight"
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestAuthForFallsBackToServerPolicy(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	// web has no project-level auth, so the server policy applies.
	assert.Equal(t, &cfg.Auth, cfg.AuthFor("web"))
	assert.Equal(t, &cfg.Auth, cfg.AuthFor("unknown"))
}

func TestInitRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Init(path, false))

	// A second init without force must refuse to overwrite.
	assert.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	p, ok := cfg.Projects["example"]
	require.True(t, ok)
	assert.Equal(t, "job", p.UniqueBuildKey)
	assert.NotEmpty(t, p.Build.Commands)
}

func TestStoreSwap(t *testing.T) {
	a := &Config{Name: "a"}
	b := &Config{Name: "b"}
	s := NewStore(a)
	assert.Equal(t, "a", s.Current().Name)
	s.Swap(b)
	assert.Equal(t, "b", s.Current().Name)
}
