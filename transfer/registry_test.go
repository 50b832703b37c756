package transfer

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUnstartedSessions(n int) []*Session {
	sessions := make([]*Session, n)
	for i := range sessions {
		id := "id-" + strconv.Itoa(i)
		sessions[i] = NewSession(id, "descriptors/"+id+".torrent", "transfers/"+id, nil, nil)
	}
	return sessions
}

func TestRegistryAddReturnsPosition(t *testing.T) {
	r := NewRegistry()
	for i, s := range newUnstartedSessions(3) {
		assert.Equal(t, i, r.Add(s))
	}
	assert.Equal(t, 3, r.Len())
}

func TestRegistryRemoveShiftsPositions(t *testing.T) {
	r := NewRegistry()
	sessions := newUnstartedSessions(4)
	for _, s := range sessions {
		r.Add(s)
	}

	// Positions before the removed one are not affected.
	s, err := r.Get(0)
	require.NoError(t, err)
	assert.Same(t, sessions[0], s)

	removed, err := r.RemoveAt(1)
	require.NoError(t, err)
	assert.Same(t, sessions[1], removed)

	for i, want := range []*Session{sessions[0], sessions[2], sessions[3]} {
		s, err = r.Get(i)
		require.NoError(t, err)
		assert.Same(t, want, s, "position %d", i)
	}
	_, err = r.Get(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	index, err := r.IndexOf(sessions[3].ID())
	require.NoError(t, err)
	assert.Equal(t, 2, index)

	// A new Session goes to the end.
	extra := newUnstartedSessions(1)[0]
	assert.Equal(t, 3, r.Add(extra))
}

func TestRegistryOutOfRangeDoesNotMutate(t *testing.T) {
	r := NewRegistry()
	sessions := newUnstartedSessions(2)
	for _, s := range sessions {
		r.Add(s)
	}
	for _, index := range []int{-1, 2, 100} {
		_, err := r.Get(index)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
		_, err = r.RemoveAt(index)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	}
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, sessions, r.List())
}

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = r.RemoveAt(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Empty(t, r.Names())
}

func TestRegistryIDsAreStable(t *testing.T) {
	r := NewRegistry()
	sessions := newUnstartedSessions(3)
	for _, s := range sessions {
		r.Add(s)
	}
	_, err := r.RemoveAt(0)
	require.NoError(t, err)

	s, err := r.Lookup(sessions[2].ID())
	require.NoError(t, err)
	assert.Same(t, sessions[2], s)

	_, err = r.Lookup(sessions[0].ID())
	assert.ErrorIs(t, err, ErrTransferNotFound)

	_, err = r.Remove(sessions[1].ID())
	require.NoError(t, err)
	_, err = r.Remove(sessions[1].ID())
	assert.ErrorIs(t, err, ErrTransferNotFound)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	sessions := newUnstartedSessions(2)
	for _, s := range sessions {
		r.Add(s)
	}

	s, err := r.Resolve("1")
	require.NoError(t, err)
	assert.Same(t, sessions[1], s)

	s, err = r.Resolve(sessions[0].ID())
	require.NoError(t, err)
	assert.Same(t, sessions[0], s)

	_, err = r.Resolve("5")
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = r.Resolve("-1")
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = r.Resolve("unknown")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	sessions := newUnstartedSessions(50)
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			r.Add(s)
			_ = r.Names()
			_, _ = r.Get(0)
		}(s)
	}
	wg.Wait()
	assert.Equal(t, len(sessions), r.Len())
	for i := 0; i < len(sessions); i++ {
		_, err := r.RemoveAt(0)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, r.Len())
}
