package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func readEntries(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var entries []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "line %q", sc.Text())
		entries = append(entries, m)
	}
	require.NoError(t, sc.Err())
	return entries
}

func TestLedgerEntriesAndSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ledger.jsonl")
	session := NewSession()
	l, err := Open(path, session, testLogger)
	require.NoError(t, err)

	l.Record("navigate", "opened product page", map[string]any{"url": "https://example.com/p-i1.html"})
	l.Record("stabilize_done", "scroll settled", nil)
	session.IncProcessed()
	session.IncProcessed()
	session.IncProcessed()
	session.IncFailed()
	session.IncWritten(1)

	summary := l.Close()
	assert.Equal(t, int64(3), summary.Processed)
	assert.Equal(t, int64(1), summary.Failed)
	assert.InDelta(t, 75.0, summary.SuccessRate, 0.001)
	assert.Equal(t, int64(3), summary.TotalSteps)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := readEntries(t, data)
	require.Len(t, entries, 3)

	for i, e := range entries {
		assert.Equal(t, float64(i+1), e["step"])
		for _, key := range []string{"timestamp", "elapsed_seconds", "step_name", "description"} {
			assert.Contains(t, e, key)
		}
	}
	assert.Equal(t, "navigate", entries[0]["step_name"])
	assert.Contains(t, entries[0], "extra_data")
	assert.NotContains(t, entries[1], "extra_data")

	last := entries[2]
	assert.Equal(t, StepSessionSummary, last["step_name"])
	extra := last["extra_data"].(map[string]any)
	assert.Equal(t, float64(3), extra["processed"])
	assert.Equal(t, false, extra["terminated"])

	// Records after close are ignored.
	l.Record("late", "after close", nil)
	data2, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestLedgerStepsStrictlyIncreaseUnderConcurrency(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, NewSession(), testLogger)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Record("step", fmt.Sprintf("worker %d item %d", w, i), nil)
			}
		}(w)
	}
	wg.Wait()
	l.Close()

	entries := readEntries(t, buf.Bytes())
	require.Len(t, entries, 401)
	prev := 0.0
	for _, e := range entries {
		step := e["step"].(float64)
		require.Greater(t, step, prev)
		prev = step
	}
}

type failingWriter struct {
	calls int
}

func (w *failingWriter) Write([]byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestLedgerNeverFailsCaller(t *testing.T) {
	w := &failingWriter{}
	session := NewSession()
	l := New(w, session, testLogger)

	assert.NotPanics(t, func() {
		l.Record("a", "first", nil)
		l.Record("b", "second", map[string]any{"bad": func() {}})
	})
	summary := l.Close()

	assert.Equal(t, 3, w.calls)
	assert.Equal(t, int64(3), summary.TotalSteps)
}

func TestSessionSnapshot(t *testing.T) {
	s := NewSession()
	snap := s.Snapshot()
	assert.Zero(t, snap.SuccessRate)
	assert.False(t, snap.Terminated)

	s.AddDiscovered(5)
	s.IncSkipped()
	s.IncDropped()
	s.IncWritten(4)
	s.MarkTerminated()
	s.MarkSinkFatal()

	snap = s.Snapshot()
	assert.Equal(t, int64(5), snap.Discovered)
	assert.Equal(t, int64(1), snap.Skipped)
	assert.Equal(t, int64(1), snap.RecordsDropped)
	assert.Equal(t, int64(1), snap.RecordsWritten)
	assert.Equal(t, int64(4), snap.ReviewsWritten)
	assert.True(t, snap.Terminated)
	assert.True(t, snap.SinkFatal)
	assert.True(t, s.Terminated())
}
