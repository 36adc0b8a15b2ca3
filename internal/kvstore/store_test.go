package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		value any
	}{
		{"string", "hello"},
		{"number", float64(42)},
		{"bool", true},
		{"array", []any{"a", float64(1), true}},
		{"object", map[string]any{"name": "Alice", "age": float64(30)}},
		{"null", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(0)
			s.Set("k", tc.value)
			got, ok := s.Get("k")
			require.True(t, ok)
			assert.Equal(t, tc.value, got)
		})
	}
}

func TestGetMissing(t *testing.T) {
	s := New(0)
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s := New(0)
	s.Set("k", "v")

	deleted, entry := s.Delete("k")
	require.True(t, deleted)
	assert.Equal(t, OpDelete, entry.Operation)

	_, ok := s.Get("k")
	assert.False(t, ok)

	deletedAgain, _ := s.Delete("k")
	assert.False(t, deletedAgain)
}

func TestSetAppendsLogEntryBeforeCallerObservesIt(t *testing.T) {
	s := New(0)
	entry := s.Set("user:1", "Alice")

	tail := s.Since(-1)
	require.Len(t, tail, 1)
	assert.Equal(t, entry, tail[0])
	assert.Equal(t, OpSet, tail[0].Operation)
	assert.Equal(t, "user:1", tail[0].Key)
}

func TestApplyReplicationDoesNotAppendToLog(t *testing.T) {
	s := New(0)
	s.ApplyReplication(LogEntry{Operation: OpSet, Key: "k", Value: "v"})

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.Empty(t, s.Since(-1))
}

func TestApplyReplicationDelete(t *testing.T) {
	s := New(0)
	s.Set("k", "v")
	s.ApplyReplication(LogEntry{Operation: OpDelete, Key: "k"})

	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestSinceReturnsOnlyNewerEntries(t *testing.T) {
	s := New(0)
	s.Set("a", 1.0)
	mid := s.Since(-1)[0].Timestamp
	s.Set("b", 2.0)

	tail := s.Since(mid)
	require.Len(t, tail, 1)
	assert.Equal(t, "b", tail[0].Key)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := New(0)
	s.Set("a", 1.0)

	snap := s.Snapshot()
	snap["a"] = "mutated"

	v, _ := s.Get("a")
	assert.Equal(t, 1.0, v)
}

func TestLogEvictsOldestWhenCapacityReached(t *testing.T) {
	s := New(2)
	s.Set("a", 1.0)
	s.Set("b", 2.0)
	s.Set("c", 3.0)

	tail := s.Since(-1)
	require.Len(t, tail, 2)
	assert.Equal(t, "b", tail[0].Key)
	assert.Equal(t, "c", tail[1].Key)
}
