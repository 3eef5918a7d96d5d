package detect_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/detect"
	"warden/internal/platform/logger"
)

func TestWatcherSwapsPolicyOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_threshold: high\n"), 0o600))

	initial, err := detect.LoadPolicy(path)
	require.NoError(t, err)
	engine := detect.NewEngine(detect.WithPolicy(initial), detect.WithLogger(logger.Discard()))

	w, err := detect.NewWatcher(path, engine.SetPolicy,
		detect.WithDebounce(20*time.Millisecond),
		detect.WithWatcherLogger(logger.Discard()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("block_threshold: low\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("block_threshold: medium\n"), 0o600))
	require.Eventually(t, func() bool {
		return engine.Policy().BlockThreshold == detect.SeverityMedium
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("block_threshold: nonsense\n"), 0o600))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, detect.SeverityMedium, engine.Policy().BlockThreshold)
}

func TestNewWatcherValidatesArguments(t *testing.T) {
	_, err := detect.NewWatcher("", func(*detect.Policy) {})
	assert.Error(t, err)

	_, err = detect.NewWatcher(filepath.Join(t.TempDir(), "p.yaml"), nil)
	assert.Error(t, err)
}
