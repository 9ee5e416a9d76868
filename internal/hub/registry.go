package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/BhavanK18/Whiteboard/internal/domain"
	"github.com/BhavanK18/Whiteboard/internal/metrics"
)

// roomEntry 保存一个会话的在线连接
type roomEntry struct {
	mu      sync.Mutex
	conns   map[string]domain.Connection
	removed bool // 从索引中摘除后置为 true
}

// Registry 维护 会话 ID -> 在线连接 的映射。
// 每个会话有自己的锁；索引锁只在查找、创建或摘除条目时短暂持有。
// 加锁顺序：先 roomEntry.mu，再 Registry.mu。
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*roomEntry

	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRegistry 创建空的 Registry，m 可以为 nil。
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]*roomEntry),
		metrics: m,
		now:     time.Now,
	}
}

func (r *Registry) entry(sessionID string, create bool) *roomEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[sessionID]
	if ok || !create {
		return e
	}
	e = &roomEntry{conns: make(map[string]domain.Connection)}
	r.rooms[sessionID] = e
	r.metrics.RoomOpened()
	return e
}

// Add 把 connectionID 登记到 sessionID 的房间，返回登记后的在线名单。
// 已登记的连接只刷新用户名。
func (r *Registry) Add(sessionID, connectionID, userName string) []domain.Connection {
	for {
		e := r.entry(sessionID, true)
		e.mu.Lock()
		if e.removed {
			// 与最后一次 Remove 竞争，该条目已从索引中摘除，重试
			e.mu.Unlock()
			continue
		}
		conn, exists := e.conns[connectionID]
		if !exists {
			conn = domain.Connection{ConnectionID: connectionID, SessionID: sessionID, JoinedAt: r.now()}
		}
		conn.UserName = userName
		e.conns[connectionID] = conn
		roster := sortedRoster(e.conns)
		e.mu.Unlock()

		if !exists {
			r.metrics.ConnectionJoined()
		}
		return roster
	}
}

// Remove 注销 connectionID，返回房间剩余连接数。
// 连接不在该会话中时 removed 为 false。
func (r *Registry) Remove(sessionID, connectionID string) (remaining int, removed bool) {
	e := r.entry(sessionID, false)
	if e == nil {
		return 0, false
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return 0, false
	}
	if _, ok := e.conns[connectionID]; !ok {
		remaining = len(e.conns)
		e.mu.Unlock()
		return remaining, false
	}
	delete(e.conns, connectionID)
	remaining = len(e.conns)
	if remaining == 0 {
		e.removed = true
		r.mu.Lock()
		if r.rooms[sessionID] == e {
			delete(r.rooms, sessionID)
			r.metrics.RoomClosed()
		}
		r.mu.Unlock()
	}
	e.mu.Unlock()

	r.metrics.ConnectionLeft()
	return remaining, true
}

// List 返回会话的在线连接，按加入时间排序。
func (r *Registry) List(sessionID string) []domain.Connection {
	e := r.entry(sessionID, false)
	if e == nil {
		return []domain.Connection{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedRoster(e.conns)
}

// Contains reports whether connectionID is registered in sessionID.
func (r *Registry) Contains(sessionID, connectionID string) bool {
	e := r.entry(sessionID, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.conns[connectionID]
	return ok
}

// Count returns the number of live connections in sessionID.
func (r *Registry) Count(sessionID string) int {
	e := r.entry(sessionID, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Rooms returns the number of sessions with at least one live connection.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func sortedRoster(conns map[string]domain.Connection) []domain.Connection {
	roster := make([]domain.Connection, 0, len(conns))
	for _, c := range conns {
		roster = append(roster, c)
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].ConnectionID < roster[j].ConnectionID
		}
		return roster[i].JoinedAt.Before(roster[j].JoinedAt)
	})
	return roster
}
