package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_NewIDShape(t *testing.T) {
	r := NewRegistry()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.newID()
		require.Len(t, id, 10)
		for _, c := range id {
			ok := (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
			require.True(t, ok, "unexpected character %q in id %s", c, id)
		}
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestRegistry_NewIDConcurrentWithChurn(t *testing.T) {
	// Minting ids while sessions come and go must be race-free; run under
	// the race detector.
	r := NewRegistry()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s := &Session{ID: r.newID()}
			r.add(s)
			r.Remove(s.ID)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = r.newID()
		}
	}()
	wg.Wait()
}

func TestRegistry_RemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	s := &Session{ID: "abc123XYZ0"}
	r.add(s)

	assert.Equal(t, 1, r.Count())
	assert.True(t, r.Remove(s.ID))
	assert.False(t, r.Remove(s.ID))
	assert.Nil(t, r.Get(s.ID))
}

func TestRegistry_SendToUnknownSession(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.SendTo("nope", "line"))
}

func TestRegistry_SessionsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.add(&Session{ID: "a"})
	r.add(&Session{ID: "b"})

	snap := r.Sessions()
	assert.Len(t, snap, 2)

	// Mutating the registry does not affect the snapshot.
	r.Remove("a")
	assert.Len(t, snap, 2)
	assert.Equal(t, 1, r.Count())
}
