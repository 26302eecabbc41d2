//go:build unix

package proc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandCancelStopsBackgroundChildren(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Command(ctx, "sh", "-c", "echo started; sleep 20 & sleep 20").CombinedOutput()
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReapStopsLeftoverJobs(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	cmd := Command(context.Background(), "sh", "-c", "(sleep 1; touch late) &")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())
	Reap(cmd)

	time.Sleep(1500 * time.Millisecond)
	_, err := os.Stat(filepath.Join(dir, "late"))
	assert.True(t, os.IsNotExist(err), "background job outlived its group: %v", err)
}
