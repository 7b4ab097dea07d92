package sequencer

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Library is the pattern arena. Placements refer to patterns by id; the id
// table is copied on every create or delete so lookups from the tick path
// never race with the control goroutines.
type Library struct {
	mu *sync.Mutex // the engine's control mutex

	nextID   uint32
	table    atomic.Pointer[map[uint32]*Pattern]
	modified atomic.Bool
}

func newLibrary(mu *sync.Mutex) *Library {
	l := &Library{mu: mu, nextID: 1}
	empty := make(map[uint32]*Pattern)
	l.table.Store(&empty)
	return l
}

// Get returns the pattern with the given id, or nil.
func (l *Library) Get(id uint32) *Pattern {
	return (*l.table.Load())[id]
}

// Create adds an empty pattern and returns its id.
func (l *Library) Create() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.create().id
}

// create requires l.mu.
func (l *Library) create() *Pattern {
	p := newPattern(l.nextID, l)
	l.nextID++
	l.publish(func(t map[uint32]*Pattern) { t[p.id] = p })
	l.modified.Store(true)
	return p
}

// insert adds a pattern with a fixed id while decoding a project. The
// library is not shared yet so nothing needs to be locked.
func (l *Library) insert(id uint32) *Pattern {
	p := newPattern(id, l)
	(*l.table.Load())[id] = p
	if id >= l.nextID {
		l.nextID = id + 1
	}
	return p
}

func (l *Library) publish(fn func(t map[uint32]*Pattern)) {
	cur := *l.table.Load()
	next := make(map[uint32]*Pattern, len(cur)+1)
	for id, p := range cur {
		next[id] = p
	}
	fn(next)
	l.table.Store(&next)
}

// Copy replaces the events and dimensions of dst with those of src.
func (l *Library) Copy(src, dst uint32) bool {
	if src == dst {
		return false
	}
	from, to := l.Get(src), l.Get(dst)
	if from == nil || to == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	to.data.Store(from.snapshot().clone())
	to.scale, to.tonic, to.refNote = from.scale, from.tonic, from.refNote
	to.touch()
	return true
}

// remove deletes patterns by id. Requires l.mu.
func (l *Library) remove(ids []uint32) {
	if len(ids) == 0 {
		return
	}
	l.publish(func(t map[uint32]*Pattern) {
		for _, id := range ids {
			delete(t, id)
		}
	})
	l.modified.Store(true)
}

// IDs returns every pattern id in ascending order.
func (l *Library) IDs() []uint32 {
	t := *l.table.Load()
	ids := make([]uint32, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *Library) Len() int { return len(*l.table.Load()) }

// IsModified reports any pattern or structure edit since the last save.
func (l *Library) IsModified() bool { return l.modified.Load() }

// markModified flags a structural edit made outside any pattern.
func (l *Library) markModified() { l.modified.Store(true) }

func (l *Library) clearModified() {
	l.modified.Store(false)
	for _, p := range *l.table.Load() {
		p.modified.Store(false)
	}
}
