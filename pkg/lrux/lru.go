package lrux

// LRU implements least-recently-used replacement for a fixed number of slots.
// Each Touch stamps the slot with a logical timestamp; Evict picks the evictable
// slot with the oldest stamp, lowest slot id first when stamps are equal.
type LRU struct {
	stamp     []uint64
	evictable []bool
	present   []bool
	clock     uint64
	size      int // number of evictable slots
}

func New(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		stamp:     make([]uint64, capacity),
		evictable: make([]bool, capacity),
		present:   make([]bool, capacity),
	}
}

func (l *LRU) Capacity() int { return len(l.stamp) }

// Touch marks slot as accessed now.
func (l *LRU) Touch(id int) {
	if id < 0 || id >= len(l.stamp) {
		return
	}
	l.present[id] = true
	l.clock++
	l.stamp[id] = l.clock
}

// Stamp returns the last access stamp of a present slot, 0 otherwise.
func (l *LRU) Stamp(id int) uint64 {
	if id < 0 || id >= len(l.stamp) || !l.present[id] {
		return 0
	}
	return l.stamp[id]
}

// SetEvictable marks whether slot can be evicted (e.g., pin==0).
func (l *LRU) SetEvictable(id int, evictable bool) {
	if id < 0 || id >= len(l.stamp) {
		return
	}
	if !l.present[id] {
		return
	}
	if l.evictable[id] == evictable {
		return
	}

	l.evictable[id] = evictable
	if evictable {
		l.size++
	} else {
		l.size--
	}
}

// Victim returns the slot Evict would pick without removing it.
func (l *LRU) Victim() (id int, ok bool) {
	if l.size == 0 {
		return -1, false
	}
	best := -1
	for i := range l.stamp {
		if !l.present[i] || !l.evictable[i] {
			continue
		}
		// strict less keeps the lowest id on ties
		if best == -1 || l.stamp[i] < l.stamp[best] {
			best = i
		}
	}
	return best, best != -1
}

// Evict returns victim slot id and ok flag.
// It also removes the victim from tracking (present=false).
func (l *LRU) Evict() (id int, ok bool) {
	id, ok = l.Victim()
	if !ok {
		return -1, false
	}
	l.Remove(id)
	return id, true
}

// Remove removes slot from tracking (present=false).
func (l *LRU) Remove(id int) {
	if id < 0 || id >= len(l.stamp) {
		return
	}
	if !l.present[id] {
		return
	}

	if l.evictable[id] {
		l.size--
	}
	l.present[id] = false
	l.evictable[id] = false
	l.stamp[id] = 0
}

func (l *LRU) Size() int { return l.size }
