package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gradebook_backend/internal/config"

	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive")
	write := func(ttl string) {
		body := "grading:\n  cache_ttl_seconds: " + ttl + "\nstorage:\n  local_path: " + archive + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	}
	write("60")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *config.Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, dir, func(cfg *config.Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// give the watcher time to register the directory
	time.Sleep(200 * time.Millisecond)
	write("90")

	select {
	case cfg := <-reloaded:
		require.Equal(t, 90, cfg.Grading.CacheTTLSeconds)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchMissingDir(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing"), func(*config.Config) {})
	require.Error(t, err)
}
