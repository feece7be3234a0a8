// Package aggregate coalesces JFR events with equal (stack, optional
// thread, optional class label) into single weighted records using an
// open-addressed hash table, per spec.md 4.3.
package aggregate

import (
	"github.com/cespare/xxhash/v2"
	"github.com/jfrconv/jfrconv/internal/jfr"
)

// Mode selects the event class and value semantic the aggregator applies.
type Mode uint8

const (
	CPU Mode = iota
	Alloc
	Live
	Lock
)

// Options mirror the CLI flags that shape aggregation.
type Options struct {
	Mode    Mode
	Total   bool // accumulate value vs. count
	Threads bool // key includes tid
	States  uint64 // bitmask of accepted ExecutionSample thread states; 0 = no filter
	FromTicks, ToTicks uint64
	HasWindow bool
}

// Key canonicalizes (optional threadId, stackTraceId, optional allocation
// class label) per spec.md 4.3's "Keying".
type Key struct {
	StackID jfr.StackTraceID
	Tid     jfr.ThreadID // zero unless Options.Threads
	ClassID jfr.ClassID  // zero unless a non-zero alloc/live/lock classId applies
}

func (k Key) hash() uint64 {
	var b [24]byte
	putU64(b[0:8], uint64(k.StackID))
	putU64(b[8:16], uint64(k.Tid))
	putU64(b[16:24], uint64(k.ClassID))
	return xxhash.Sum64(b[:])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Value accumulates an aggregated record's cumulative count and value
// (nanoseconds, bytes, or an event count depending on Mode and Total).
type Value struct {
	Count uint64
	Value uint64
}

type slot struct {
	used bool
	key  Key
	val  Value
}

// Aggregator is an open-addressed hash table with linear probing, growing
// at a 2/3 load factor.
type Aggregator struct {
	opt      Options
	slots    []slot
	size     int
	lastTime map[jfr.ThreadID]uint64 // per-thread last event time, for --total cpu deltas
}

func New(opt Options) *Aggregator {
	a := &Aggregator{opt: opt, lastTime: map[jfr.ThreadID]uint64{}}
	a.slots = make([]slot, 16)
	return a
}

func (a *Aggregator) grow() {
	old := a.slots
	a.slots = make([]slot, len(old)*2)
	a.size = 0
	for _, s := range old {
		if s.used {
			a.insert(s.key, s.val)
		}
	}
}

func (a *Aggregator) insert(key Key, add Value) {
	if (a.size+1)*3 >= len(a.slots)*2 {
		a.grow()
	}
	mask := uint64(len(a.slots) - 1)
	idx := key.hash() & mask
	for {
		s := &a.slots[idx]
		if !s.used {
			s.used = true
			s.key = key
			s.val = add
			a.size++
			return
		}
		if s.key == key {
			s.val.Count += add.Count
			s.val.Value += add.Value
			return
		}
		idx = (idx + 1) & mask
	}
}

// Add folds one event into the table if it passes the window/state filters
// and matches the aggregator's configured Mode.
func (a *Aggregator) Add(ev *jfr.Event, ticksPerSec uint64) {
	if a.opt.HasWindow && (ev.Time < a.opt.FromTicks || ev.Time > a.opt.ToTicks) {
		return
	}

	var classID jfr.ClassID
	var value uint64

	switch a.opt.Mode {
	case CPU:
		if ev.Class != jfr.ExecutionSampleClass {
			return
		}
		if a.opt.States != 0 && a.opt.States&(1<<ev.ThreadState) == 0 {
			return
		}
		if a.opt.Total {
			last, ok := a.lastTime[ev.Tid]
			a.lastTime[ev.Tid] = ev.Time
			if ok && ev.Time > last && ticksPerSec > 0 {
				value = (ev.Time - last) * 1_000_000_000 / ticksPerSec
			}
		} else {
			value = 1
		}
	case Alloc, Live:
		want := jfr.AllocationSampleClass
		if a.opt.Mode == Live {
			want = jfr.LiveObjectClass
		}
		if ev.Class != want {
			return
		}
		classID = ev.ClassID
		if a.opt.Total {
			value = ev.AllocationSize
		} else {
			value = 1
		}
	case Lock:
		if ev.Class != jfr.ContendedLockClass {
			return
		}
		classID = ev.ClassID
		if a.opt.Total {
			value = ev.Duration
		} else {
			value = 1
		}
	}

	key := Key{StackID: ev.StackID}
	if a.opt.Threads {
		key.Tid = ev.Tid
	}
	if classID != 0 {
		key.ClassID = classID
	}
	a.insert(key, Value{Count: 1, Value: value})
}

// Visit streams every aggregated (key, value) pair. Order is unspecified;
// both flame-graph and pprof consumers build additive structures and are
// order-insensitive (spec.md 4.3's Output note).
func (a *Aggregator) Visit(fn func(Key, Value)) {
	for _, s := range a.slots {
		if s.used {
			fn(s.key, s.val)
		}
	}
}

// Len reports the number of distinct aggregated entries.
func (a *Aggregator) Len() int { return a.size }
