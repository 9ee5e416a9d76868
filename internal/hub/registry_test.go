package hub_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BhavanK18/Whiteboard/internal/hub"
	"github.com/BhavanK18/Whiteboard/internal/metrics"
)

func TestRegistry_AddListRemove(t *testing.T) {
	r := hub.NewRegistry(nil)

	roster := r.Add("s1", "c1", "alice")
	require.Len(t, roster, 1)
	assert.Equal(t, "alice", roster[0].UserName)
	assert.Equal(t, "s1", roster[0].SessionID)

	roster = r.Add("s1", "c2", "bob")
	require.Len(t, roster, 2)
	assert.Equal(t, []string{"c1", "c2"}, []string{roster[0].ConnectionID, roster[1].ConnectionID})

	assert.True(t, r.Contains("s1", "c2"))
	assert.False(t, r.Contains("s2", "c2"))
	assert.Equal(t, 2, r.Count("s1"))
	assert.Equal(t, 1, r.Rooms())

	remaining, removed := r.Remove("s1", "c1")
	assert.True(t, removed)
	assert.Equal(t, 1, remaining)

	remaining, removed = r.Remove("s1", "c2")
	assert.True(t, removed)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 0, r.Rooms())
	assert.Empty(t, r.List("s1"))
}

func TestRegistry_AddIsIdempotentPerConnection(t *testing.T) {
	r := hub.NewRegistry(nil)
	first := r.Add("s1", "c1", "alice")
	again := r.Add("s1", "c1", "alice2")

	require.Len(t, again, 1)
	assert.Equal(t, "alice2", again[0].UserName)
	assert.Equal(t, first[0].JoinedAt, again[0].JoinedAt)
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r := hub.NewRegistry(nil)
	_, removed := r.Remove("nope", "c1")
	assert.False(t, removed)

	r.Add("s1", "c1", "alice")
	remaining, removed := r.Remove("s1", "other")
	assert.False(t, removed)
	assert.Equal(t, 1, remaining)
	assert.True(t, r.Contains("s1", "c1"))
}

func TestRegistry_ConcurrentJoinLeaveAcrossSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := hub.NewRegistry(m)

	const sessions = 8
	const perSession = 50

	var wg sync.WaitGroup
	for s := 0; s < sessions; s++ {
		for c := 0; c < perSession; c++ {
			wg.Add(1)
			go func(s, c int) {
				defer wg.Done()
				sid := fmt.Sprintf("s%d", s)
				cid := fmt.Sprintf("s%d-c%d", s, c)
				r.Add(sid, cid, cid)
				if c%2 == 0 {
					r.Remove(sid, cid)
				}
			}(s, c)
		}
	}
	wg.Wait()

	for s := 0; s < sessions; s++ {
		sid := fmt.Sprintf("s%d", s)
		assert.Equal(t, perSession/2, r.Count(sid))
		for _, conn := range r.List(sid) {
			assert.Equal(t, sid, conn.SessionID)
		}
	}
	assert.Equal(t, sessions, r.Rooms())
	assert.Equal(t, float64(sessions*perSession/2), gauge(t, reg, "whiteboard_live_connections"))
	assert.Equal(t, float64(sessions), gauge(t, reg, "whiteboard_live_rooms"))
}

func TestRegistry_ConcurrentEmptyAndRefill(t *testing.T) {
	r := hub.NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cid := fmt.Sprintf("c%d", i)
			r.Add("room", cid, cid)
			r.Remove("room", cid)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count("room"))
	assert.Equal(t, 0, r.Rooms())

	r.Add("room", "late", "late")
	assert.Equal(t, 1, r.Count("room"))
}

// gauge reads a registered gauge by its fully qualified name.
func gauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
