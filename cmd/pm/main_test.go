package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	masterPass = "Glacier-Orbit-7-Lantern!"
	nextPass   = "Harbor-Quartz-42-Meadow?"
)

type testApp struct {
	*app
	out     *bytes.Buffer
	errOut  *bytes.Buffer
	secrets []string
	dir     string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dir := t.TempDir()
	env := map[string]string{
		"PM_VAULT":   filepath.Join(dir, "vault.enc"),
		"PM_JOURNAL": filepath.Join(dir, "journal.db"),
	}

	ta := &testApp{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, dir: dir}
	ta.app = &app{
		stdin:  strings.NewReader(""),
		stdout: ta.out,
		stderr: ta.errOut,
		lookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
	}
	ta.readSecret = func(string) ([]byte, error) {
		if len(ta.secrets) == 0 {
			return nil, errors.New("no more input")
		}
		s := ta.secrets[0]
		ta.secrets = ta.secrets[1:]
		return []byte(s), nil
	}
	return ta
}

// exec runs one command with the given prompt answers and resets the buffers.
func (ta *testApp) exec(args []string, secrets ...string) int {
	ta.out.Reset()
	ta.errOut.Reset()
	ta.secrets = secrets
	return ta.run(args)
}

func initVault(t *testing.T, ta *testApp) {
	t.Helper()
	require.Equal(t, 0, ta.exec([]string{"init"}, masterPass, masterPass), ta.errOut.String())
}

func skipSlow(t *testing.T) {
	if testing.Short() {
		t.Skip("full-cost key derivation")
	}
}

func TestVersionAndUsage(t *testing.T) {
	ta := newTestApp(t)
	assert.Equal(t, 0, ta.exec([]string{"version"}))
	assert.Equal(t, cliVersion+"\n", ta.out.String())

	assert.Equal(t, 1, ta.exec(nil))
	assert.Contains(t, ta.errOut.String(), "Usage: pm")

	assert.Equal(t, 1, ta.exec([]string{"frobnicate"}))
}

func TestCommandsRequireVault(t *testing.T) {
	ta := newTestApp(t)
	assert.Equal(t, 1, ta.exec([]string{"list"}, masterPass))
	assert.Contains(t, ta.errOut.String(), "run pm init")
}

func TestInitRejectsMismatchAndWeak(t *testing.T) {
	ta := newTestApp(t)

	assert.Equal(t, 1, ta.exec([]string{"init"}, masterPass, nextPass))
	assert.Contains(t, ta.errOut.String(), "passphrases do not match")

	assert.Equal(t, 1, ta.exec([]string{"init"}, "short", "short"))
	assert.Contains(t, ta.errOut.String(), "passphrase does not meet policy")
}

func TestInitTwiceFails(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)
	initVault(t, ta)

	assert.Equal(t, 1, ta.exec([]string{"init"}, masterPass, masterPass))
	assert.Contains(t, ta.errOut.String(), "already exists")
}

func TestAddGetEditRemove(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)
	initVault(t, ta)

	require.Equal(t, 0, ta.exec([]string{"list"}, masterPass), ta.errOut.String())
	assert.Equal(t, "No entries.\n", ta.out.String())

	require.Equal(t, 0, ta.exec(
		[]string{"add", "--name", "GitHub", "--user", "alice", "--url", "https://github.com", "--tags", "dev, work"},
		masterPass, "gh-secret-1", "gh-secret-1",
	), ta.errOut.String())
	assert.Contains(t, ta.out.String(), "Added GitHub")
	assert.Contains(t, ta.errOut.String(), "Unlocking (deriving key)...")
	assert.Contains(t, ta.errOut.String(), "Saving (deriving key)...")

	require.Equal(t, 0, ta.exec([]string{"get", "github"}, masterPass), ta.errOut.String())
	assert.Equal(t, "gh-secret-1\n", ta.out.String())

	require.Equal(t, 0, ta.exec([]string{"edit", "--user", "bob", "GitHub"}, masterPass), ta.errOut.String())
	require.Equal(t, 0, ta.exec([]string{"get", "--field", "username", "GitHub"}, masterPass), ta.errOut.String())
	assert.Equal(t, "bob\n", ta.out.String())

	require.Equal(t, 0, ta.exec([]string{"search", "dev"}, masterPass), ta.errOut.String())
	assert.Contains(t, ta.out.String(), "GitHub")
	assert.Contains(t, ta.out.String(), "dev,work")
	assert.NotContains(t, ta.out.String(), "gh-secret-1")

	require.Equal(t, 0, ta.exec([]string{"rm", "GitHub"}, masterPass), ta.errOut.String())
	require.Equal(t, 0, ta.exec([]string{"list"}, masterPass), ta.errOut.String())
	assert.Equal(t, "No entries.\n", ta.out.String())
}

func TestAddGenerated(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)
	initVault(t, ta)

	require.Equal(t, 0, ta.exec([]string{"add", "--name", "Mail", "--generate", "--length", "32"}, masterPass), ta.errOut.String())
	require.Equal(t, 0, ta.exec([]string{"get", "Mail"}, masterPass), ta.errOut.String())
	assert.Len(t, strings.TrimSpace(ta.out.String()), 32)

	assert.Equal(t, 1, ta.exec([]string{"add", "--user", "x"}))
	assert.Contains(t, ta.errOut.String(), "--name is required")
}

func TestWrongPassphrase(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)
	initVault(t, ta)

	assert.Equal(t, 1, ta.exec([]string{"list"}, "Not-The-Passphrase-1"))
	assert.Contains(t, ta.errOut.String(), "incorrect passphrase or corrupted vault")
}

func TestAmbiguousQuery(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)
	initVault(t, ta)

	require.Equal(t, 0, ta.exec([]string{"add", "--name", "Bank A", "--generate"}, masterPass))
	require.Equal(t, 0, ta.exec([]string{"add", "--name", "Bank B", "--generate"}, masterPass))

	assert.Equal(t, 1, ta.exec([]string{"get", "bank"}, masterPass))
	assert.Contains(t, ta.errOut.String(), "2 entries match")

	assert.Equal(t, 1, ta.exec([]string{"get", "nothing"}, masterPass))
	assert.Contains(t, ta.errOut.String(), "no entry matches")
}

func TestPasswd(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)
	initVault(t, ta)

	require.Equal(t, 0, ta.exec([]string{"passwd"}, masterPass, nextPass, nextPass), ta.errOut.String())
	assert.Contains(t, ta.out.String(), "Master passphrase changed.")

	assert.Equal(t, 1, ta.exec([]string{"list"}, masterPass))
	assert.Equal(t, 0, ta.exec([]string{"list"}, nextPass))
}

func TestHistory(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)

	require.Equal(t, 0, ta.exec([]string{"history"}))
	assert.Equal(t, "No saves recorded.\n", ta.out.String())

	initVault(t, ta)
	require.Equal(t, 0, ta.exec([]string{"add", "--name", "Mail", "--generate"}, masterPass))

	require.Equal(t, 0, ta.exec([]string{"history"}), ta.errOut.String())
	lines := strings.Split(strings.TrimSpace(ta.out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "SAVED AT"))

	require.Equal(t, 0, ta.exec([]string{"history", "--limit", "1"}))
	assert.Len(t, strings.Split(strings.TrimSpace(ta.out.String()), "\n"), 2)

	assert.Equal(t, 1, ta.exec([]string{"history", "--no-journal"}))
}

func TestGen(t *testing.T) {
	ta := newTestApp(t)
	require.Equal(t, 0, ta.exec([]string{"gen", "--length", "24"}))
	assert.Len(t, strings.TrimSpace(ta.out.String()), 24)
	assert.Contains(t, ta.errOut.String(), "strength:")

	assert.Equal(t, 1, ta.exec([]string{"gen", "--length", "0"}))
	assert.Equal(t, 1, ta.exec([]string{"gen", "--bogus"}))
}

func TestInvalidConfig(t *testing.T) {
	ta := newTestApp(t)
	assert.Equal(t, 1, ta.exec([]string{"list", "--log-level", "loud"}))
	assert.Contains(t, ta.errOut.String(), "invalid log level")
}

func TestSession(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)
	initVault(t, ta)

	ta.stdin = strings.NewReader(strings.Join([]string{
		"list",
		"add --name Mail --user alice --generate",
		"search mail",
		"save",
		"lock",
		"list",
		"unlock",
		"get Mail",
		"bogus",
		"quit",
	}, "\n") + "\n")

	// Session unlock, then the explicit unlock after lock.
	require.Equal(t, 0, ta.exec([]string{"session"}, masterPass, masterPass), ta.errOut.String())

	out := ta.out.String()
	assert.Contains(t, out, "No entries.")
	assert.Contains(t, out, "Added Mail")
	assert.Contains(t, out, "Saved.")
	assert.Contains(t, out, "Vault locked.")
	assert.Contains(t, out, "Vault is locked; type 'unlock'.")
	assert.Contains(t, out, "Username:  alice")
	assert.Contains(t, ta.errOut.String(), "unknown command: bogus")

	ta.stdin = strings.NewReader("")
	require.Equal(t, 0, ta.exec([]string{"get", "--field", "username", "Mail"}, masterPass))
	assert.Equal(t, "alice\n", ta.out.String())
}

func TestSessionDiscardsUnsavedOnEOF(t *testing.T) {
	skipSlow(t)
	ta := newTestApp(t)
	initVault(t, ta)

	ta.stdin = strings.NewReader("add --name Temp --generate\n")
	require.Equal(t, 0, ta.exec([]string{"session"}, masterPass))
	assert.Contains(t, ta.errOut.String(), "unsaved changes discarded")

	require.Equal(t, 0, ta.exec([]string{"list"}, masterPass))
	assert.Equal(t, "No entries.\n", ta.out.String())
}

func TestParseTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseTags(" a, ,b ,"))
	assert.Equal(t, []string{}, parseTags(""))
}
