package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRotatingWriterRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	w, err := newRotatingWriter(AuditConfig{Path: path, MaxBackups: 2})
	require.NoError(t, err)
	w.maxSize = 16

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	defer w.Close()

	line := []byte("0123456789\n")
	for i := 0; i < 5; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	backups, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	require.Len(t, backups, 2)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(current), "\n"))
}

func TestInitWritesAuditFile(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "jarvis.log")
	require.NoError(t, Init(Config{
		Level:       "debug",
		OutputPaths: []string{filepath.Join(dir, "app.log")},
		Service:     "jarvis-test",
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	}))
	t.Cleanup(func() { _ = Sync() })

	Audit().Info("interaction", "user_id", "u1")
	Named("agent").Debug("hello")

	content, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	require.Contains(t, string(content), `"user_id":"u1"`)
	require.Contains(t, string(content), `"service":"jarvis-test"`)
}
