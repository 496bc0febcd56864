package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/septivank/water-meter-relay/internal/auth"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "devicectl.db"))
	t.Setenv("JWT_SECRET", "devicectl-secret")
	t.Setenv("RABBITMQ_URL", "")
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestCreateClaimStatus(t *testing.T) {
	setupEnv(t)

	out, err := runCmd(t, "create", "--device-id", "A1", "--name", "kitchen", "--owner", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "created device A1 (pulse_to_liter=650, owners=1)")

	_, err = runCmd(t, "create", "--device-id", "A1")
	assert.ErrorContains(t, err, "already exists")

	out, err = runCmd(t, "claim", "--device-id", "A1", "--owner", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "device A1 claimed by bob")

	out, err = runCmd(t, "claim", "--device-id", "A1", "--owner", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "already claimed")

	_, err = runCmd(t, "claim", "--device-id", "NOPE", "--owner", "bob")
	assert.ErrorContains(t, err, "does not exist")

	out, err = runCmd(t, "status", "--owner", "bob")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "A1\toffline\tnever", lines[1])

	out, err = runCmd(t, "status", "--owner", "carol")
	require.NoError(t, err)
	assert.Contains(t, out, "carol owns no devices")
}

func TestCreate_RejectsBadFactor(t *testing.T) {
	setupEnv(t)
	_, err := runCmd(t, "create", "--device-id", "A1", "--pulse-to-liter", "0")
	assert.ErrorContains(t, err, "pulse_to_liter must be positive")

	_, err = runCmd(t, "create", "--device-id", strings.Repeat("x", 101))
	assert.ErrorContains(t, err, "device_id is 101 characters, max 100")
}

func TestToken_VerifiesWithRelaySecret(t *testing.T) {
	setupEnv(t)

	out, err := runCmd(t, "token", "--user-id", "42", "--username", "alice")
	require.NoError(t, err)

	identity, err := auth.NewResolver("devicectl-secret", "token").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{UserID: "42", Username: "alice"}, identity)
}

func TestUsageErrors(t *testing.T) {
	setupEnv(t)

	for _, args := range [][]string{
		{},
		{"explode"},
		{"create"},
		{"claim", "--device-id", "A1"},
		{"status", "extra"},
		{"send", "--device-id", "A1", "--count", "-1"},
	} {
		_, err := runCmd(t, args...)
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}

func TestSend_RequiresBroker(t *testing.T) {
	setupEnv(t)
	_, err := runCmd(t, "send", "--device-id", "A1", "--count", "650")
	assert.ErrorContains(t, err, "RABBITMQ_URL")
}
