package audit

import (
	"sync"
	"time"
)

// eventStore 有界事件环形缓冲 + 用户/IP 二级索引
// 容量固定，写满后淘汰最旧事件，索引随淘汰同步收缩
type eventStore struct {
	mu       sync.RWMutex
	capacity int
	events   []*SecurityEvent // 追加序，最旧在前
	byID     map[string]*SecurityEvent
	byUser   map[string][]*SecurityEvent
	byIP     map[string][]*SecurityEvent
}

func newEventStore(capacity int) *eventStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &eventStore{
		capacity: capacity,
		events:   make([]*SecurityEvent, 0, capacity),
		byID:     make(map[string]*SecurityEvent),
		byUser:   make(map[string][]*SecurityEvent),
		byIP:     make(map[string][]*SecurityEvent),
	}
}

// add 追加事件，必要时淘汰最旧
func (s *eventStore) add(ev *SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.capacity {
		oldest := s.events[0]
		s.events = s.events[1:]
		delete(s.byID, oldest.ID)
		s.byUser[oldest.Context.UserID] = dropHead(s.byUser[oldest.Context.UserID], oldest)
		s.byIP[oldest.Context.ClientIP] = dropHead(s.byIP[oldest.Context.ClientIP], oldest)
	}

	s.events = append(s.events, ev)
	s.byID[ev.ID] = ev
	if ev.Context.UserID != "" {
		s.byUser[ev.Context.UserID] = append(s.byUser[ev.Context.UserID], ev)
	}
	if ev.Context.ClientIP != "" {
		s.byIP[ev.Context.ClientIP] = append(s.byIP[ev.Context.ClientIP], ev)
	}
}

// dropHead 从索引切片头部移除指定事件（事件按时间序淘汰）
func dropHead(list []*SecurityEvent, ev *SecurityEvent) []*SecurityEvent {
	if len(list) > 0 && list[0] == ev {
		return list[1:]
	}
	return list
}

// countUserSince 统计用户在 since 之后的事件数
func (s *eventStore) countUserSince(userID string, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countSince(s.byUser[userID], since)
}

// countIPSince 统计 IP 在 since 之后的事件数
func (s *eventStore) countIPSince(ip string, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countSince(s.byIP[ip], since)
}

func countSince(list []*SecurityEvent, since time.Time) int {
	n := 0
	// 索引按时间序，从尾部回扫
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Timestamp.Before(since) {
			break
		}
		n++
	}
	return n
}

// get 按 ID 查找
func (s *eventStore) get(id string) (*SecurityEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[id]
	return ev, ok
}

// updateStatus 状态流转，非法迁移返回 false
func (s *eventStore) updateStatus(id string, to EventStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byID[id]
	if !ok {
		return false
	}
	if !ev.Status.CanTransition(to) {
		return false
	}
	ev.Status = to
	return true
}

// snapshot 返回自 since 起的事件只读副本，最新在前
// limit <= 0 表示不限制
func (s *eventStore) snapshot(since time.Time, limit int) []SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SecurityEvent, 0, 64)
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if ev.Timestamp.Before(since) {
			break
		}
		out = append(out, *ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// size 当前事件数
func (s *eventStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
