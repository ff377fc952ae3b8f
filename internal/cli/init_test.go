package cli

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hazine/internal/config"
)

func TestLoadEnvFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HAZINE_A=from-env\nHAZINE_B=from-env\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("HAZINE_A=from-local\n"), 0o600))
	chdir(t, dir)

	t.Setenv("HAZINE_A", "")
	t.Setenv("HAZINE_B", "")
	os.Unsetenv("HAZINE_A")
	os.Unsetenv("HAZINE_B")

	require.NoError(t, LoadEnvFile())
	assert.Equal(t, "from-local", os.Getenv("HAZINE_A"))
	assert.Equal(t, "from-env", os.Getenv("HAZINE_B"))
}

func TestLoadEnvFileWithoutFiles(t *testing.T) {
	chdir(t, t.TempDir())
	assert.NoError(t, LoadEnvFile())
}

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger(&config.Config{LogLevel: "debug", LogFormat: "json"})
	require.NotNil(t, logger)
	assert.True(t, logger.Handler().Enabled(context.Background(), -4))

	logger = SetupLogger(nil)
	assert.False(t, logger.Handler().Enabled(context.Background(), -4))
}

func TestShutdownRunsCleanupWithDeadline(t *testing.T) {
	sig := make(chan os.Signal, 1)
	cleaned := make(chan bool, 1)
	ctx, done := shutdownOn(sig, SetupLogger(nil), time.Second, func(ctx context.Context) {
		_, hasDeadline := ctx.Deadline()
		cleaned <- hasDeadline
	})

	assert.NoError(t, ctx.Err())
	sig <- syscall.SIGTERM

	WaitForShutdown(ctx, done)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.True(t, <-cleaned)
}

func TestShutdownTimeoutStillCompletes(t *testing.T) {
	sig := make(chan os.Signal, 1)
	ctx, done := shutdownOn(sig, SetupLogger(nil), 10*time.Millisecond, func(ctx context.Context) {
		<-ctx.Done()
	})
	sig <- syscall.SIGINT

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete after its timeout")
	}
	assert.Error(t, ctx.Err())
}

// chdir changes the working directory for the duration of the test
// (equivalent to testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
