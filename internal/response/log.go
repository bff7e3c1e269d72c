package response

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"netwarden/internal/model"
)

// ActionLog keeps the most recent actions in submission order.
type ActionLog struct {
	mu    sync.RWMutex
	buf   []model.Action
	index map[string]int
	head  int
	limit int
}

func NewActionLog(limit int) *ActionLog {
	if limit <= 0 {
		limit = 5000
	}
	return &ActionLog{limit: limit, index: make(map[string]int)}
}

func (l *ActionLog) Add(a model.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, a)
	l.index[a.ID] = len(l.buf) - 1
	if len(l.buf)-l.head > l.limit {
		delete(l.index, l.buf[l.head].ID)
		l.buf[l.head] = model.Action{}
		l.head++
	}
	if l.head > 0 && l.head*2 >= len(l.buf) {
		l.compact()
	}
}

func (l *ActionLog) compact() {
	live := append([]model.Action(nil), l.buf[l.head:]...)
	l.buf = live
	l.head = 0
	for i, a := range l.buf {
		l.index[a.ID] = i
	}
}

// Update applies fn to the logged action with id and returns the result.
func (l *ActionLog) Update(id string, fn func(a *model.Action)) (model.Action, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return model.Action{}, false
	}
	fn(&l.buf[i])
	return l.buf[i], true
}

func (l *ActionLog) Get(id string) (model.Action, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return model.Action{}, false
	}
	return l.buf[i], true
}

// List returns up to limit of the newest actions, oldest first.
func (l *ActionLog) List(limit int) []model.Action {
	l.mu.RLock()
	defer l.mu.RUnlock()
	live := l.buf[l.head:]
	if limit <= 0 || limit > len(live) {
		limit = len(live)
	}
	return append([]model.Action(nil), live[len(live)-limit:]...)
}

func (l *ActionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf) - l.head
}

type reservation struct {
	actionID string
	at       time.Time
}

// dedupIndex remembers which idempotency keys were dispatched recently. The
// LRU bound keeps it finite under key churn.
type dedupIndex struct {
	mu    sync.Mutex
	cache *lru.Cache[string, reservation]
}

func newDedupIndex(size int) *dedupIndex {
	if size <= 0 {
		size = 5000
	}
	cache, err := lru.New[string, reservation](size)
	if err != nil {
		panic(err)
	}
	return &dedupIndex{cache: cache}
}

// reserve claims key for actionID at now unless it was claimed within window.
func (d *dedupIndex) reserve(key, actionID string, now time.Time, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.cache.Get(key); ok && window > 0 && now.Sub(r.at) < window {
		return false
	}
	d.cache.Add(key, reservation{actionID: actionID, at: now})
	return true
}

func (d *dedupIndex) release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Remove(key)
}

// releaseIf drops key only while it still belongs to actionID.
func (d *dedupIndex) releaseIf(key, actionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.cache.Peek(key); ok && r.actionID == actionID {
		d.cache.Remove(key)
	}
}
