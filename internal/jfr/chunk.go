package jfr

import "fmt"

var magic = [4]byte{'F', 'L', 'R', 0}

const chunkHeaderSize = 68

// Chunk is a self-describing region of the JFR file: start/duration in both
// ticks and nanos, the tick frequency used to convert event timestamps, plus
// the offsets of its trailing metadata and constant-pool chain.
type Chunk struct {
	Major, Minor uint16
	Size         uint64
	CPOffset     uint64
	MetaOffset   uint64
	StartNanos   uint64
	DurationNanos uint64
	StartTicks   uint64
	TicksPerSec  uint64
	Features     uint32

	// offset is this chunk's absolute byte offset within the file; bodyStart
	// is the first byte after the fixed header, where the event/checkpoint
	// record stream begins.
	offset    int
	bodyStart int
}

// parseChunkHeader reads the fixed 68-byte chunk header starting at cur.pos.
func parseChunkHeader(cur *cursor, offset int) (*Chunk, error) {
	m, err := cur.bytes(4)
	if err != nil {
		return nil, fmt.Errorf("chunk header magic: %w", err)
	}
	if string(m) != string(magic[:]) {
		return nil, fmt.Errorf("%w: bad chunk magic %q at offset %d", ErrMalformed, m, offset)
	}
	ch := &Chunk{offset: offset}
	if ch.Major, err = cur.u16be(); err != nil {
		return nil, err
	}
	if ch.Minor, err = cur.u16be(); err != nil {
		return nil, err
	}
	if ch.Size, err = cur.u64be(); err != nil {
		return nil, err
	}
	if ch.CPOffset, err = cur.u64be(); err != nil {
		return nil, err
	}
	if ch.MetaOffset, err = cur.u64be(); err != nil {
		return nil, err
	}
	if ch.StartNanos, err = cur.u64be(); err != nil {
		return nil, err
	}
	if ch.DurationNanos, err = cur.u64be(); err != nil {
		return nil, err
	}
	if ch.StartTicks, err = cur.u64be(); err != nil {
		return nil, err
	}
	if ch.TicksPerSec, err = cur.u64be(); err != nil {
		return nil, err
	}
	if ch.Features, err = cur.u32be(); err != nil {
		return nil, err
	}
	ch.bodyStart = cur.pos
	return ch, nil
}
