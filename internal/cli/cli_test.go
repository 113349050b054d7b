package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymsub/gymsub/internal/app/roster"
	"github.com/gymsub/gymsub/internal/domain"
)

// gymsub runs one CLI invocation against a sqlite store in home.
func gymsub(t *testing.T, home string, args ...string) (string, int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), append([]string{"--home", home}, args...), &out, &errOut)
	if code != ExitSuccess {
		return errOut.String(), code
	}
	return out.String(), code
}

func newHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("GYMSUB_HOME", t.TempDir())
	t.Setenv("GYMSUB_STORAGE_DRIVER", "")
	t.Setenv("GYMSUB_POSTGRES_DSN", "")
	t.Setenv("GYMSUB_API_PORT", "")
	return home
}

func TestHomeFlag_KeepsEnvironment(t *testing.T) {
	home := newHome(t)
	envHome := os.Getenv("GYMSUB_HOME")

	_, code := gymsub(t, home, "trainer", "add", "Ada")
	require.Equal(t, ExitSuccess, code)

	assert.Equal(t, envHome, os.Getenv("GYMSUB_HOME"))
	assert.FileExists(t, filepath.Join(home, "gymsub.db"))
	assert.NoFileExists(t, filepath.Join(envHome, "gymsub.db"))
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	home := newHome(t)
	_, code := gymsub(t, home, "--format", "xml", "trainer", "list")
	assert.Equal(t, ExitInvalid, code)
}

func TestTrainerCommands(t *testing.T) {
	home := newHome(t)

	out, code := gymsub(t, home, "trainer", "list")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "No trainers registered.")

	out, code = gymsub(t, home, "trainer", "add", "Ada")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, `Trainer "Ada" added`)

	out, code = gymsub(t, home, "trainer", "rename", "ada", "Ada L")
	require.Equal(t, ExitSuccess, code, out)

	out, code = gymsub(t, home, "trainer", "list")
	require.Equal(t, ExitSuccess, code, out)
	assert.Regexp(t, `ID\s+NAME\s+ADDED`, out)
	assert.Contains(t, out, "Ada L")

	out, code = gymsub(t, home, "--format", "json", "trainer", "list")
	require.Equal(t, ExitSuccess, code, out)
	var trainers []domain.Trainer
	require.NoError(t, json.Unmarshal([]byte(out), &trainers))
	require.Len(t, trainers, 1)
	assert.Equal(t, "Ada L", trainers[0].Name)

	out, code = gymsub(t, home, "trainer", "remove", "Nobody")
	assert.Equal(t, ExitNotFound, code, out)

	out, code = gymsub(t, home, "trainer", "remove", "Ada L")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "0 substitutions, 0 balances")
}

func TestTrainerImport(t *testing.T) {
	home := newHome(t)
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trainers:\n  - name: Ada\n  - name: Bo\n  - name: ada\n"), 0o600))

	out, code := gymsub(t, home, "--format", "json", "trainer", "import", path)
	require.Equal(t, ExitSuccess, code, out)
	var res roster.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Added, 2)
	assert.Equal(t, []string{"ada"}, res.Skipped)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("trainers: [name: "), 0o600))
	_, code = gymsub(t, home, "trainer", "import", bad)
	assert.Equal(t, ExitInvalid, code)
}

func TestSubstitutionFlow(t *testing.T) {
	home := newHome(t)
	for _, name := range []string{"Ada", "Bo"} {
		_, code := gymsub(t, home, "trainer", "add", name)
		require.Equal(t, ExitSuccess, code)
	}

	out, code := gymsub(t, home, "sub", "add", "Ada", "Bo", "--date", "2026-03-02", "--notes", "spin")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "Bo covered for Ada on 2026-03-02")
	assert.Contains(t, out, "Ada owes Bo 1 day(s)")

	out, code = gymsub(t, home, "--format", "json", "balance", "between", "Bo", "Ada")
	require.Equal(t, ExitSuccess, code, out)
	var pb roster.PairBalance
	require.NoError(t, json.Unmarshal([]byte(out), &pb))
	assert.Equal(t, -1, pb.Net)

	out, code = gymsub(t, home, "--format", "json", "sub", "list", "--trainer", "Bo", "-q", "spin")
	require.Equal(t, ExitSuccess, code, out)
	var subs []domain.Substitution
	require.NoError(t, json.Unmarshal([]byte(out), &subs))
	require.Len(t, subs, 1)

	out, code = gymsub(t, home, "balance", "list")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "DEBTOR")

	out, code = gymsub(t, home, "--format", "json", "status")
	require.Equal(t, ExitSuccess, code, out)
	var sum roster.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, roster.Summary{Trainers: 2, Substitutions: 1, ActiveBalances: 1, DaysOutstanding: 1}, sum)

	out, code = gymsub(t, home, "sub", "remove", string(subs[0].ID))
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "Balance: even")

	out, code = gymsub(t, home, "balance", "list")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "Everyone is even.")
}

func TestSubAdd_Errors(t *testing.T) {
	home := newHome(t)
	_, code := gymsub(t, home, "trainer", "add", "Ada")
	require.Equal(t, ExitSuccess, code)

	_, code = gymsub(t, home, "sub", "add", "Ada", "Ada")
	assert.Equal(t, ExitInvalid, code)

	_, code = gymsub(t, home, "sub", "add", "Ada", "Ghost")
	assert.Equal(t, ExitNotFound, code)

	_, code = gymsub(t, home, "sub", "add", "Ada", "Ada", "--date", "yesterday")
	assert.Equal(t, ExitInvalid, code)

	_, code = gymsub(t, home, "sub", "remove", "missing")
	assert.Equal(t, ExitNotFound, code)
}

func TestConfigCommand(t *testing.T) {
	home := newHome(t)
	out, code := gymsub(t, home, "config")
	require.Equal(t, ExitSuccess, code, out)
	assert.Contains(t, out, "[storage]")
	assert.Contains(t, out, `driver = "sqlite"`)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{domain.ErrSameTrainer, ExitInvalid},
		{domain.ErrTrainerNotFound, ExitNotFound},
		{&domain.StorageError{Op: "commit", Err: errors.New("busy")}, ExitStorageErr},
		{errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "ExitCode(%v)", tt.err)
	}
}
