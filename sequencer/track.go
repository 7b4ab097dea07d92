package sequencer

import "sync/atomic"

// ConflictPolicy decides what AddPattern does when the new placement would
// overlap existing ones.
type ConflictPolicy uint8

const (
	// RejectOverlap leaves the track unchanged and fails.
	RejectOverlap ConflictPolicy = iota
	// ReplaceOverlap removes every overlapping placement first.
	ReplaceOverlap
)

// Placement puts a pattern on a track. Position is in ticks from the start of
// the sequence.
type Placement struct {
	Position uint32
	Pattern  uint32
}

// Track is one MIDI channel lane of a sequence: an ordered, non-overlapping
// list of pattern placements plus mute and solo.
type Track struct {
	lib *Library
	seq *Sequence

	channel    atomic.Uint32
	muted      atomic.Bool
	solo       atomic.Bool
	placements atomic.Pointer[[]Placement] // sorted by Position
}

func newTrack(lib *Library, seq *Sequence) *Track {
	t := &Track{lib: lib, seq: seq}
	t.placements.Store(&[]Placement{})
	return t
}

func (t *Track) list() []Placement { return *t.placements.Load() }

func (t *Track) changed() {
	t.lib.markModified()
	if t.seq != nil {
		t.seq.markChanged()
	}
}

func (t *Track) patternLength(id uint32) uint32 {
	if p := t.lib.Get(id); p != nil {
		return p.Length()
	}
	return 0
}

// AddPattern places a pattern at position (ticks). With RejectOverlap it
// fails if the placement would overlap another one.
func (t *Track) AddPattern(position, patternID uint32, policy ConflictPolicy) bool {
	t.lib.mu.Lock()
	defer t.lib.mu.Unlock()
	return t.addPattern(position, patternID, policy)
}

// addPattern requires lib.mu.
func (t *Track) addPattern(position, patternID uint32, policy ConflictPolicy) bool {
	length := t.patternLength(patternID)
	if length == 0 {
		return false
	}
	end := position + length

	cur := t.list()
	next := make([]Placement, 0, len(cur)+1)
	for _, pl := range cur {
		if pl.Position < end && position < pl.Position+t.patternLength(pl.Pattern) {
			if policy == RejectOverlap {
				return false
			}
			continue
		}
		next = append(next, pl)
	}

	i := 0
	for i < len(next) && next[i].Position < position {
		i++
	}
	next = append(next, Placement{})
	copy(next[i+1:], next[i:])
	next[i] = Placement{Position: position, Pattern: patternID}

	t.placements.Store(&next)
	t.changed()
	return true
}

// RemovePattern removes the placement covering position.
func (t *Track) RemovePattern(position uint32) {
	t.lib.mu.Lock()
	defer t.lib.mu.Unlock()
	i, ok := t.find(position)
	if !ok {
		return
	}
	cur := t.list()
	next := make([]Placement, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	t.placements.Store(&next)
	t.changed()
}

// find returns the index of the placement covering position.
func (t *Track) find(position uint32) (int, bool) {
	ps := t.list()
	lo, hi := 0, len(ps)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if ps[mid].Position <= position {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false
	}
	pl := ps[lo-1]
	if position < pl.Position+t.patternLength(pl.Pattern) {
		return lo - 1, true
	}
	return 0, false
}

// PatternAt returns the placement covering position.
func (t *Track) PatternAt(position uint32) (Placement, bool) {
	i, ok := t.find(position)
	if !ok {
		return Placement{}, false
	}
	return t.list()[i], true
}

// playing resolves the pattern events sounding at position for the
// scheduler. It does not allocate.
func (t *Track) playing(position uint32) (Placement, *patternData, bool) {
	ps := t.list()
	lo, hi := 0, len(ps)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if ps[mid].Position <= position {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return Placement{}, nil, false
	}
	pl := ps[lo-1]
	p := t.lib.Get(pl.Pattern)
	if p == nil {
		return Placement{}, nil, false
	}
	d := p.snapshot()
	if position >= pl.Position+d.length() {
		return Placement{}, nil, false
	}
	return pl, d, true
}

// PatternIDAt returns the id of the pattern placed exactly at position, or 0.
func (t *Track) PatternIDAt(position uint32) uint32 {
	for _, pl := range t.list() {
		if pl.Position == position {
			return pl.Pattern
		}
	}
	return 0
}

// Placements returns a copy of the placement list.
func (t *Track) Placements() []Placement {
	return append([]Placement(nil), t.list()...)
}

func (t *Track) PatternCount() int { return len(t.list()) }

// Length is the end of the last placement in ticks.
func (t *Track) Length() uint32 {
	var end uint32
	for _, pl := range t.list() {
		if e := pl.Position + t.patternLength(pl.Pattern); e > end {
			end = e
		}
	}
	return end
}

// IsEmpty reports whether no placed pattern holds a note.
func (t *Track) IsEmpty() bool {
	for _, pl := range t.list() {
		if p := t.lib.Get(pl.Pattern); p != nil && !p.IsEmpty() {
			return false
		}
	}
	return true
}

// Clear removes every placement.
func (t *Track) Clear() {
	t.lib.mu.Lock()
	defer t.lib.mu.Unlock()
	t.placements.Store(&[]Placement{})
	t.changed()
}

func (t *Track) Channel() uint8 { return uint8(t.channel.Load()) }

// SetChannel ignores channels above 15.
func (t *Track) SetChannel(ch uint8) {
	if ch > 15 {
		return
	}
	t.channel.Store(uint32(ch))
	t.changed()
}

func (t *Track) Muted() bool { return t.muted.Load() }

func (t *Track) SetMute(on bool) {
	t.muted.Store(on)
	t.changed()
}

func (t *Track) ToggleMute() {
	t.SetMute(!t.Muted())
}

func (t *Track) Solo() bool { return t.solo.Load() }

func (t *Track) SetSolo(on bool) {
	t.solo.Store(on)
	t.changed()
}
