package retention_test

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postgen/postgen/internal/retention"
	"github.com/postgen/postgen/internal/store"
	"github.com/postgen/postgen/pkg/models"
)

type failingArchiver struct{}

func (failingArchiver) Kind() string { return "broken" }
func (failingArchiver) ArchiveUsage(context.Context, []models.UsageRecord) (string, error) {
	return "", errors.New("disk full")
}
func (failingArchiver) HealthCheck(context.Context) error { return nil }

func seed(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore(store.MemoryOptions{})
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	for i, age := range []time.Duration{48 * time.Hour, 30 * time.Hour, time.Hour} {
		require.NoError(t, s.RecordUsage(ctx, &models.UsageRecord{
			Model:     "gemini-2.5-flash-lite",
			Topic:     "topic",
			Tokens:    int64(100 * (i + 1)),
			CreatedAt: now.Add(-age),
		}))
	}
	return s
}

func remaining(t *testing.T, s store.Store) int {
	t.Helper()
	recs, err := s.ListUsage(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	return len(recs)
}

func TestRunCycle_ArchivesThenPurges(t *testing.T) {
	s := seed(t)
	j := retention.NewJanitor(s, time.Hour, 24*time.Hour, retention.NewLocalFileArchiver(t.TempDir(), false))

	stats := j.RunCycle(context.Background())
	require.Empty(t, stats.Errors)
	assert.Equal(t, 2, stats.Expired)
	assert.Equal(t, 2, stats.Archived)
	assert.Equal(t, 2, stats.Purged)
	require.Len(t, stats.URIs, 1)
	assert.Equal(t, 1, remaining(t, s))

	f, err := os.Open(stats.URIs[0])
	require.NoError(t, err)
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec models.UsageRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.NotEmpty(t, rec.ID)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestRunCycle_CompressedArchive(t *testing.T) {
	s := seed(t)
	j := retention.NewJanitor(s, time.Hour, 24*time.Hour, retention.NewLocalFileArchiver(t.TempDir(), true))

	stats := j.RunCycle(context.Background())
	require.Len(t, stats.URIs, 1)
	assert.Contains(t, stats.URIs[0], ".jsonl.gz")

	f, err := os.Open(stats.URIs[0])
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)

	dec := json.NewDecoder(gr)
	var n int
	for dec.More() {
		var rec models.UsageRecord
		require.NoError(t, dec.Decode(&rec))
		n++
	}
	assert.Equal(t, 2, n)
}

func TestRunCycle_ArchiveFailureSkipsPurge(t *testing.T) {
	s := seed(t)
	j := retention.NewJanitor(s, time.Hour, 24*time.Hour, failingArchiver{})

	stats := j.RunCycle(context.Background())
	assert.Len(t, stats.Errors, 1)
	assert.Equal(t, 0, stats.Purged)
	assert.Equal(t, 3, remaining(t, s))
}

func TestRunCycle_NoArchiverPurges(t *testing.T) {
	s := seed(t)
	j := retention.NewJanitor(s, time.Hour, 24*time.Hour, nil)

	stats := j.RunCycle(context.Background())
	assert.Equal(t, 2, stats.Purged)
	assert.Equal(t, 1, remaining(t, s))
}

func TestRunCycle_NothingExpired(t *testing.T) {
	s := seed(t)
	j := retention.NewJanitor(s, time.Hour, 72*time.Hour, failingArchiver{})

	stats := j.RunCycle(context.Background())
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 0, stats.Expired)
	assert.Equal(t, 3, remaining(t, s))
}

func TestStart_StopsOnCancel(t *testing.T) {
	s := seed(t)
	j := retention.NewJanitor(s, time.Hour, 24*time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		recs, err := s.ListUsage(context.Background(), store.ListFilter{})
		return err == nil && len(recs) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestLocalFileArchiver_HealthCheck(t *testing.T) {
	a := retention.NewLocalFileArchiver(t.TempDir(), false)
	assert.Equal(t, "local", a.Kind())
	assert.NoError(t, a.HealthCheck(context.Background()))
}
