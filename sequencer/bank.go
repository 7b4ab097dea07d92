package sequencer

import "sync/atomic"

// Bank is an ordered set of sequence slots, typically one launcher page.
type Bank struct {
	index     uint8
	sequences atomic.Pointer[[]*Sequence]
}

func newBank(index uint8) *Bank {
	b := &Bank{index: index}
	b.sequences.Store(&[]*Sequence{})
	return b
}

func (b *Bank) Index() uint8 { return b.index }

func (b *Bank) list() []*Sequence { return *b.sequences.Load() }

func (b *Bank) Len() int { return len(b.list()) }

// Sequence returns slot i, or nil.
func (b *Bank) Sequence(i int) *Sequence {
	seqs := b.list()
	if i < 0 || i >= len(seqs) {
		return nil
	}
	return seqs[i]
}

func (b *Bank) Sequences() []*Sequence {
	return append([]*Sequence(nil), b.list()...)
}

// indexOf returns the slot of s, or -1.
func (b *Bank) indexOf(s *Sequence) int {
	for i, seq := range b.list() {
		if seq == s {
			return i
		}
	}
	return -1
}

// group returns s and every other sequence sharing its group.
func (b *Bank) group(s *Sequence) []*Sequence {
	g := s.Group()
	if g == NoGroup {
		return []*Sequence{s}
	}
	members := []*Sequence{s}
	for _, seq := range b.list() {
		if seq != s && seq.Group() == g {
			members = append(members, seq)
		}
	}
	return members
}
