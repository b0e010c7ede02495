package realtime

import "sync"

// UnreadAggregate holds the last unread total computed from the store for a
// session. It is only ever overwritten by a fresh count.
type UnreadAggregate struct {
	mu    sync.RWMutex
	total int64
	known bool
}

// Set stores a recomputed total and reports whether it differs from the last one.
func (ua *UnreadAggregate) Set(total int64) bool {
	ua.mu.Lock()
	defer ua.mu.Unlock()
	changed := !ua.known || ua.total != total
	ua.total, ua.known = total, true
	return changed
}

func (ua *UnreadAggregate) Total() int64 {
	ua.mu.RLock()
	defer ua.mu.RUnlock()
	return ua.total
}
