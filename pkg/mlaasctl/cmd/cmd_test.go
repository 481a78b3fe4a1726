package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/config"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/testutil"
)

const createRoute = "POST accounts/{id}/applications.json"

type testEnv struct {
	dir        string
	configPath string
	kc         *testutil.FakeKeycloak
	fa         *testutil.FakeAdmin
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvKeycloakURL, config.EnvKeycloakRealm, config.EnvKeycloakClientID,
		config.EnvKeycloakClientSecret, config.EnvKeycloakGrantType, config.EnvKeycloakUsername,
		config.EnvKeycloakPassword, config.EnvAdminURL, config.EnvAdminKey,
		"MLAASCTL_OUTPUT", "MLAASCTL_TOKEN_STORAGE", "MLAASCTL_NON_INTERACTIVE", "MLAASCTL_VERBOSE",
		"MLAASCTL_SESSION_FILE",
	} {
		t.Setenv(key, "")
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clearEnv(t)
	e := &testEnv{
		dir: t.TempDir(),
		kc:  testutil.NewFakeKeycloak(t, "helix"),
		fa:  testutil.NewFakeAdmin(t),
	}
	e.configPath = filepath.Join(e.dir, "config.yaml")
	e.kc.AddUser("jdoe", "s3cret", "jdoe@example.com")
	e.fa.AddService(testutil.FakeService{
		ID: 2, Name: "Llama Chat", SystemName: "llama-chat", BackendVersion: "1",
		Endpoint: "https://llama.example.com:443",
		Plans:    []testutil.FakePlan{{ID: 21, Name: "Default", State: "published", Default: true}},
	})
	e.fa.AddService(testutil.FakeService{
		ID: 3, Name: "Embeddings", SystemName: "embeddings", BackendVersion: "2",
		Plans: []testutil.FakePlan{{ID: 31, Name: "Basic", State: "published"}},
	})

	cfg := config.DefaultConfig()
	cfg.Identity.URL = e.kc.URL()
	cfg.Identity.Realm = "helix"
	cfg.Identity.ClientID = "mlaasctl"
	cfg.Admin.URL = e.fa.URL()
	cfg.Admin.Key = testutil.AdminKey
	cfg.Settings.SessionFile = filepath.Join(e.dir, "session")
	require.NoError(t, config.Save(e.configPath, &cfg))
	return e
}

type result struct {
	code   int
	stdout string
	stderr string
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", e.configPath, "--env-file", filepath.Join(e.dir, ".env")}, args...)
	code := Run(context.Background(), Config{
		ConfigPath:   e.configPath,
		OutputWriter: &out,
		ErrorWriter:  &errOut,
		Input:        strings.NewReader(stdin),
	}, full)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func TestListThenInitReusesSession(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv(config.EnvKeycloakPassword, "s3cret")

	res := e.run(t, "", "--list", "-u", "jdoe")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "HAS_KEY")
	assert.Contains(t, res.stdout, "Llama Chat")
	assert.Contains(t, res.stdout, "https://llama.example.com:443")
	assert.Contains(t, res.stdout, "Services without an API key")
	require.Len(t, e.fa.Accounts(), 1)
	assert.Equal(t, "jdoe", e.fa.Accounts()[0].Username)

	res = e.run(t, "", "--init", "id=2", "-u", "jdoe")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "New API key for Llama Chat.")
	m := regexp.MustCompile(`API_KEY:\s+(\S+)`).FindStringSubmatch(res.stdout)
	require.Len(t, m, 2, res.stdout)
	key := m[1]
	assert.Equal(t, "key-102", key)
	assert.Equal(t, 1, e.kc.Grants("password"), "second run reuses the cached session")

	res = e.run(t, "", "--init", "name=llama chat", "-u", "jdoe")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Existing API key for Llama Chat.")
	assert.Equal(t, 1, e.fa.Calls(createRoute))

	res = e.run(t, "", "--list")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Regexp(t, `2\s+Llama Chat\s+yes`, res.stdout)
	assert.Regexp(t, `3\s+Embeddings\s+no`, res.stdout)

	res = e.run(t, "", "--list", "-o", "wide")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "API_KEY")
	assert.Regexp(t, `2\s+Llama Chat\s+.*\s+yes\s+.*\s+102\s+`+regexp.QuoteMeta(key), res.stdout)
}

func TestListJSONOutput(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv(config.EnvKeycloakPassword, "s3cret")

	res := e.run(t, "", "--list", "-u", "jdoe", "-o", "json")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)

	var got struct {
		Account struct {
			ID          string `json:"id"`
			ExternalKey string `json:"externalKey"`
		} `json:"account"`
		Services []struct {
			ID         string `json:"id"`
			AuthMethod string `json:"authMethod"`
			KeyStatus  string `json:"keyStatus"`
		} `json:"services"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, "jdoe", got.Account.ExternalKey)
	require.Len(t, got.Services, 2)
	assert.Equal(t, "user_key", got.Services[0].AuthMethod)
	assert.Equal(t, "no", got.Services[1].KeyStatus)
}

func TestInteractiveSelection(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv(config.EnvKeycloakPassword, "s3cret")

	res := e.run(t, "9\n2\n", "-u", "jdoe")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Available services:")
	assert.Contains(t, res.stdout, "Please enter a number between 1 and 2.")
	assert.Contains(t, res.stdout, "New API key for Embeddings.")
	assert.Equal(t, 1, e.fa.Calls(createRoute))
}

func TestInteractiveWithoutChoice(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv(config.EnvKeycloakPassword, "s3cret")

	res := e.run(t, "", "-u", "jdoe")
	assert.Equal(t, errdefs.ExitServiceSelection, res.code)
	assert.Equal(t, 0, e.fa.Calls(createRoute))
}

func TestPasswordFromStdin(t *testing.T) {
	e := newTestEnv(t)

	res := e.run(t, "s3cret\n", "--list", "-u", "jdoe", "--password-stdin")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Equal(t, 1, e.kc.Grants("password"))
}

func TestPromptedCredentials(t *testing.T) {
	e := newTestEnv(t)

	res := e.run(t, "jdoe\ns3cret\n", "--list")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stderr, "Password for jdoe:")
}

func TestEmailIsAskedWhenTokenHasNone(t *testing.T) {
	e := newTestEnv(t)
	e.kc.AddUser("noemail", "s3cret", "")
	t.Setenv(config.EnvKeycloakPassword, "s3cret")

	res := e.run(t, "noemail@example.com\n", "--list", "-u", "noemail")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stderr, "Email address for account creation:")
	require.Len(t, e.fa.Accounts(), 1)
	assert.Equal(t, "noemail", e.fa.Accounts()[0].Username)
	assert.Equal(t, "noemail@example.com", e.fa.Accounts()[0].Email)
}

func TestEmailIsNotAskedWhenNonInteractive(t *testing.T) {
	e := newTestEnv(t)
	e.kc.AddUser("noemail", "s3cret", "")
	t.Setenv(config.EnvKeycloakPassword, "s3cret")

	res := e.run(t, "noemail@example.com\n", "--list", "-u", "noemail", "--non-interactive")
	assert.Equal(t, errdefs.ExitAccountResolution, res.code, res.stderr)
	assert.NotContains(t, res.stderr, "Email address for account creation:")
	assert.Empty(t, e.fa.Accounts())
}

func TestEnvPasswordUsesOSUsername(t *testing.T) {
	name := osUsername()
	if name == "" {
		t.Skip("no OS user name available")
	}
	e := newTestEnv(t)
	e.kc.AddUser(name, "0s-s3cret", name+"@example.com")
	t.Setenv(config.EnvKeycloakPassword, "0s-s3cret")

	res := e.run(t, "", "--list", "--non-interactive")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Equal(t, 1, e.kc.Grants("password"))
	require.Len(t, e.fa.Accounts(), 1)
	assert.Equal(t, name, e.fa.Accounts()[0].Username)
}

func TestHelpListsExitCodes(t *testing.T) {
	e := newTestEnv(t)

	res := e.run(t, "", "--help")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Exit codes:")
	assert.Contains(t, res.stdout, "3 service not found or ambiguous")
	assert.Contains(t, res.stdout, "5 admin API unavailable")
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		password string
		setup    func(e *testEnv)
		args     []string
		want     int
		errText  string
	}{
		{
			name:     "unknown service",
			password: "s3cret",
			args:     []string{"--init", "name=nope"},
			want:     errdefs.ExitServiceSelection,
			errText:  "nope",
		},
		{
			name:     "wrong password",
			password: "wrong",
			args:     []string{"--list"},
			want:     errdefs.ExitAuthentication,
			errText:  "Error:",
		},
		{
			name:     "admin unavailable",
			password: "s3cret",
			setup: func(e *testEnv) {
				e.fa.FailServices = 503
				e.fa.FailServicesTimes = 2
			},
			args: []string{"--list"},
			want: errdefs.ExitUnavailable,
		},
		{
			name:     "admin key rejected",
			password: "s3cret",
			setup: func(e *testEnv) {
				e.fa.FailServices = 403
				e.fa.FailServicesTimes = 5
			},
			args:    []string{"--list"},
			want:    errdefs.ExitAuthentication,
			errText: "endpoint=services.json",
		},
		{
			name:     "provisioning rejected",
			password: "s3cret",
			setup:    func(e *testEnv) { e.fa.FailCreate = 422 },
			args:     []string{"--init", "id=2"},
			want:     errdefs.ExitProvisioning,
		},
		{
			name:     "bad selector",
			password: "s3cret",
			args:     []string{"--init", "llama"},
			want:     errdefs.ExitServiceSelection,
			errText:  "invalid service selector",
		},
		{
			name:     "list and init",
			password: "s3cret",
			args:     []string{"--list", "--init", "id=2"},
			want:     1,
			errText:  "cannot be combined",
		},
		{
			name:     "no password without prompting",
			password: "",
			args:     []string{"--list", "--non-interactive"},
			want:     errdefs.ExitAuthentication,
		},
		{
			name:     "bad output format",
			password: "s3cret",
			args:     []string{"--list", "-o", "xml"},
			want:     1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			t.Setenv(config.EnvKeycloakPassword, tt.password)
			if tt.setup != nil {
				tt.setup(e)
			}
			res := e.run(t, "", append(tt.args, "-u", "jdoe")...)
			assert.Equal(t, tt.want, res.code, res.stderr)
			if tt.errText != "" {
				assert.Contains(t, res.stderr, tt.errText)
			}
		})
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := config.DefaultConfig()
	require.NoError(t, config.Save(path, &cfg))

	var out, errOut bytes.Buffer
	code := Run(context.Background(), Config{ConfigPath: path, OutputWriter: &out, ErrorWriter: &errOut, Input: strings.NewReader("")},
		[]string{"--list", "--env-file", filepath.Join(dir, ".env")})
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "admin.url")
	assert.Contains(t, errOut.String(), "identity.client-id")
}

func TestEnvironmentOverridesConfig(t *testing.T) {
	e := newTestEnv(t)
	cfg, err := config.Load(e.configPath)
	require.NoError(t, err)
	cfg.Admin.URL = ""
	cfg.Admin.Key = ""
	require.NoError(t, config.Save(e.configPath, cfg))

	t.Setenv(config.EnvAdminURL, e.fa.URL())
	t.Setenv(config.EnvAdminKey, testutil.AdminKey)
	t.Setenv(config.EnvKeycloakPassword, "s3cret")

	res := e.run(t, "", "--list", "-u", "jdoe")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
}

func TestEnvFileIsLoaded(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, ".env"),
		[]byte(config.EnvKeycloakPassword+"=s3cret\n"+config.EnvKeycloakUsername+"=jdoe\n"), 0o600))
	// godotenv never overrides, so the cleared variables must be unset.
	require.NoError(t, os.Unsetenv(config.EnvKeycloakPassword))
	require.NoError(t, os.Unsetenv(config.EnvKeycloakUsername))
	t.Cleanup(func() {
		_ = os.Unsetenv(config.EnvKeycloakPassword)
		_ = os.Unsetenv(config.EnvKeycloakUsername)
	})

	res := e.run(t, "", "--list", "--non-interactive")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Equal(t, 1, e.kc.Grants("password"))
}

func TestAuthCommands(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv(config.EnvKeycloakPassword, "s3cret")

	res := e.run(t, "", "auth", "status")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Not authenticated")

	res = e.run(t, "", "auth", "login", "-u", "jdoe")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Authenticated as jdoe.")

	res = e.run(t, "", "auth", "status")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Regexp(t, `SUBJECT:\s+jdoe`, res.stdout)
	assert.Regexp(t, `VALID:\s+true`, res.stdout)
	assert.Contains(t, res.stdout, "sha256:")

	res = e.run(t, "", "auth", "status", "-o", "json")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"email": "jdoe@example.com"`)

	res = e.run(t, "", "auth", "login", "--force", "-u", "jdoe")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Equal(t, 2, e.kc.Grants("password"))

	res = e.run(t, "", "auth", "logout")
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Logged out")
	_, err := os.Stat(filepath.Join(e.dir, "session"))
	assert.True(t, os.IsNotExist(err))

	res = e.run(t, "", "auth", "status")
	assert.Contains(t, res.stdout, "Not authenticated")
}

func TestConfigCommands(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")
	run := func(args ...string) result {
		var out, errOut bytes.Buffer
		code := Run(context.Background(), Config{ConfigPath: path, OutputWriter: &out, ErrorWriter: &errOut, Input: strings.NewReader("")},
			append(args, "--env-file", filepath.Join(dir, ".env")))
		return result{code: code, stdout: out.String(), stderr: errOut.String()}
	}

	res := run("config", "init",
		"--identity-url", "https://sso.example.com",
		"--realm", "helix",
		"--client-id", "mlaasctl",
		"--admin-url", "https://admin.example.com/admin/api",
		"--admin-key", "super-secret")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Initialized config at "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	res = run("config", "init", "--identity-url", "https://x", "--client-id", "c", "--admin-url", "https://y")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "config already exists")

	res = run("config", "view")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "realm: helix")
	assert.Contains(t, res.stdout, "<redacted>")
	assert.NotContains(t, res.stdout, "super-secret")

	res = run("config", "validate")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Configuration is valid")
}

func TestVersionCommand(t *testing.T) {
	clearEnv(t)
	var out bytes.Buffer
	code := Run(context.Background(), Config{ConfigPath: "/nonexistent/config.yaml", OutputWriter: &out, ErrorWriter: &bytes.Buffer{}}, []string{"version"})
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(out.String(), "mlaasctl "))

	out.Reset()
	code = Run(context.Background(), Config{ConfigPath: "/nonexistent/config.yaml", OutputWriter: &out, ErrorWriter: &bytes.Buffer{}}, []string{"version", "-o", "json"})
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), `"version"`)
}

func TestCompletionCommand(t *testing.T) {
	clearEnv(t)
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			buf := &bytes.Buffer{}
			root := NewRootCommand(Config{ConfigPath: "/nonexistent/config.yaml", OutputWriter: buf, ErrorWriter: &bytes.Buffer{}})
			root.SetArgs([]string{"completion", shell})
			require.NoError(t, root.Execute())
			assert.NotEmpty(t, buf.String())
		})
	}

	root := NewRootCommand(Config{ConfigPath: "/nonexistent/config.yaml", OutputWriter: &bytes.Buffer{}, ErrorWriter: &bytes.Buffer{}})
	root.SetArgs([]string{"completion", "tcsh"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported shell")
}

func TestMetricsFileIsWritten(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv(config.EnvKeycloakPassword, "s3cret")
	metricsPath := filepath.Join(e.dir, "mlaasctl.prom")

	res := e.run(t, "", "--list", "-u", "jdoe", "--metrics-file", metricsPath)
	require.Equal(t, errdefs.ExitOK, res.code, res.stderr)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mlaasctl_last_run_timestamp_seconds")
	assert.Contains(t, string(data), `command="mlaasctl"`)
	assert.Contains(t, string(data), "mlaasctl_api_requests_total")
}

func TestRuntimeStateOutputFormat(t *testing.T) {
	rt := &runtimeState{outputFormat: "json"}
	f, err := rt.OutputFormat()
	require.NoError(t, err)
	assert.Equal(t, "json", string(f))

	rt = &runtimeState{cfg: &config.Config{Settings: config.Settings{OutputFormat: "wide"}}}
	f, err = rt.OutputFormat()
	require.NoError(t, err)
	assert.Equal(t, "wide", string(f))

	rt = &runtimeState{}
	f, err = rt.OutputFormat()
	require.NoError(t, err)
	assert.Equal(t, "table", string(f))
}

func TestRuntimeStateNetworkTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	rt := &runtimeState{cfg: &cfg}
	d, err := rt.networkTimeout()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTimeout, d)

	rt.timeout = "5s"
	d, err = rt.networkTimeout()
	require.NoError(t, err)
	assert.Equal(t, "5s", d.String())

	rt.timeout = "soon"
	_, err = rt.networkTimeout()
	require.Error(t, err)
}
