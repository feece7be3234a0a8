// Package jfr parses a recorded Java Flight Recorder chunked binary stream
// into typed events and their referenced constant pools.
package jfr

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Reader is a cursor-style API over a JFR file: it yields typed events of a
// requested event class in file order and resolves constant pools by ID.
// The reader owns all symbol/class/method/stack-trace dictionaries for the
// file's duration (spec's "Lifecycle").
type Reader struct {
	data []byte
	mm   mmap.MMap // non-nil only when opened from a path

	chunks   []*Chunk
	chunkIdx int

	metadata *metadata

	symbols     map[SymbolID][]byte
	classes     map[ClassID]ClassRef
	methods     map[MethodID]MethodRef
	stackTraces map[StackTraceID]StackTrace
	threadNames map[ThreadID]string

	// eventTypeIDs caches, per chunk, the metadata type ID matched for each
	// EventClass so readEvent only does name matching once per chunk.
	eventTypeIDs map[EventClass]uint64

	// nativeIsC is set by prepareChunk from the current chunk's metadata:
	// true when jdk.types.FrameType declares a Kernel member,
	// meaning this is an async-profiler-origin recording.
	nativeIsC bool

	cur *cursor // positioned within the current chunk's event stream

	// StopAtNewChunk, when true, makes ReadEvent return (nil, nil) at a
	// chunk boundary instead of silently advancing into the next chunk,
	// letting the caller run per-chunk post-processing first.
	StopAtNewChunk bool
}

// Open memory-maps path and returns a Reader positioned before the first
// chunk. Close unmaps the file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jfr: open %s: %w", path, err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("jfr: mmap %s: %w", path, err)
	}
	r, err := newReader(m)
	if err != nil {
		m.Unmap()
		return nil, err
	}
	r.mm = m
	return r, nil
}

// OpenBytes builds a Reader over an in-memory buffer. Used by tests and by
// code that has already read a JFR payload into memory.
func OpenBytes(data []byte) (*Reader, error) {
	return newReader(data)
}

func newReader(data []byte) (*Reader, error) {
	r := &Reader{
		data:        data,
		symbols:     map[SymbolID][]byte{},
		classes:     map[ClassID]ClassRef{},
		methods:     map[MethodID]MethodRef{},
		stackTraces: map[StackTraceID]StackTrace{},
		threadNames: map[ThreadID]string{},
	}
	if err := r.indexChunks(); err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the mmap backing this reader, if any.
func (r *Reader) Close() error {
	if r.mm != nil {
		return r.mm.Unmap()
	}
	return nil
}

// indexChunks walks the file once, recording each chunk's header and byte
// offset. Truncated trailing bytes (a partial chunk header at EOF) are
// tolerated and ignored per spec's failure semantics.
func (r *Reader) indexChunks() error {
	pos := 0
	for pos < len(r.data) {
		if len(r.data)-pos < chunkHeaderSize {
			break
		}
		cur := newCursor(r.data)
		cur.pos = pos
		ch, err := parseChunkHeader(cur, pos)
		if err != nil {
			return err
		}
		if ch.Size == 0 || pos+int(ch.Size) > len(r.data) {
			// Truncated chunk at EOF: tolerated and ignored.
			break
		}
		r.chunks = append(r.chunks, ch)
		pos += int(ch.Size)
	}
	return nil
}

// NumChunks reports how many complete chunks were indexed.
func (r *Reader) NumChunks() int { return len(r.chunks) }

// PrepareFirstChunk loads the first chunk's metadata tree so callers can
// resolve enum ordinals (e.g. --state names) before streaming events. It is
// a no-op once a chunk has already been prepared.
func (r *Reader) PrepareFirstChunk() error {
	if r.metadata != nil || len(r.chunks) == 0 {
		return nil
	}
	return r.prepareChunk(0)
}

// prepareChunk loads the metadata tree and constant pools for chunk i and
// positions r.cur at the start of its event stream.
func (r *Reader) prepareChunk(i int) error {
	ch := r.chunks[i]

	cur := newCursor(r.data)
	cur.pos = ch.offset + int(ch.MetaOffset)
	size, err := cur.varint()
	if err != nil {
		return fmt.Errorf("metadata size: %w", err)
	}
	typeID, err := cur.varint()
	if err != nil {
		return fmt.Errorf("metadata type id: %w", err)
	}
	if typeID != metadataTypeID {
		return fmt.Errorf("%w: expected metadata record at chunk %d, got type %d", ErrMalformed, i, typeID)
	}
	_ = size
	md, err := parseMetadataEvent(cur, r)
	if err != nil {
		return fmt.Errorf("chunk %d metadata: %w", i, err)
	}
	r.metadata = md

	if err := r.loadConstantPools(ch); err != nil {
		return fmt.Errorf("chunk %d constant pools: %w", i, err)
	}

	r.eventTypeIDs = map[EventClass]uint64{}
	for class, names := range eventTypeNames {
		for _, name := range names {
			if t, ok := md.typeByName(name); ok {
				r.eventTypeIDs[class] = t.id
				break
			}
		}
	}

	_, r.nativeIsC = md.typeByName("jdk.types.FrameType")
	if r.nativeIsC {
		t, _ := md.typeByName("jdk.types.FrameType")
		r.nativeIsC = false
		for _, label := range t.enumMembers {
			if label == "KERNEL" {
				r.nativeIsC = true
				break
			}
		}
	}

	bodyCur := newCursor(r.data)
	bodyCur.pos = ch.bodyStart
	r.cur = bodyCur
	r.chunkIdx = i
	return nil
}

// NativeMeansC reports whether, for the chunk most recently prepared, a
// Native-tagged frame denotes a C frame (async-profiler origin) rather than
// a Java native method (JFR-native origin). See FrameType's doc comment.
func (r *Reader) NativeMeansC() bool { return r.nativeIsC }

// ReadEvent yields the next event of the requested class in file order,
// advancing across chunk boundaries unless StopAtNewChunk is set, in which
// case it returns (nil, nil) at each boundary so the caller can run
// per-chunk post-processing before the next call resumes into the next
// chunk.
func (r *Reader) ReadEvent(class EventClass) (*Event, error) {
	for {
		if r.cur == nil {
			if r.chunkIdx >= len(r.chunks) {
				return nil, nil
			}
			if err := r.prepareChunk(r.chunkIdx); err != nil {
				return nil, err
			}
		}

		ch := r.chunks[r.chunkIdx]
		chunkEnd := ch.offset + int(ch.Size)
		if r.cur.pos >= chunkEnd {
			r.chunkIdx++
			r.cur = nil
			if r.StopAtNewChunk {
				return nil, nil
			}
			continue
		}

		ev, err := r.readOneRecord(class, chunkEnd)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
		// readOneRecord skipped a non-matching or reserved record; loop.
	}
}

// readOneRecord consumes exactly one length-prefixed record from r.cur. If
// it matches the requested event class it is decoded and returned;
// otherwise it is skipped via its length prefix and (nil, nil) is returned.
func (r *Reader) readOneRecord(class EventClass, chunkEnd int) (*Event, error) {
	start := r.cur.pos
	size, err := r.cur.varint()
	if err != nil {
		return nil, fmt.Errorf("record size: %w", err)
	}
	if size == 0 || start+int(size) > chunkEnd {
		return nil, fmt.Errorf("%w: bad record length prefix at offset %d", ErrMalformed, start)
	}
	end := start + int(size)
	typeID, err := r.cur.varint()
	if err != nil {
		return nil, fmt.Errorf("record type id: %w", err)
	}
	if typeID == metadataTypeID || typeID == checkpointTypeID {
		r.cur.pos = end
		return nil, nil
	}
	wantID, ok := r.eventTypeIDs[class]
	if !ok || typeID != wantID {
		r.cur.pos = end
		return nil, nil
	}
	ev, err := decodeEvent(r.cur, class)
	if err != nil {
		return nil, fmt.Errorf("decode event type %d: %w", typeID, err)
	}
	r.cur.pos = end
	return ev, nil
}

func decodeEvent(cur *cursor, class EventClass) (*Event, error) {
	startTime, err := cur.varint() // time, as jdk ticks delta or absolute per type
	if err != nil {
		return nil, err
	}
	tid, err := cur.varint()
	if err != nil {
		return nil, err
	}
	stackID, err := cur.varint()
	if err != nil {
		return nil, err
	}
	ev := &Event{Class: class, Time: startTime, Tid: ThreadID(tid), StackID: StackTraceID(stackID)}

	switch class {
	case ExecutionSampleClass:
		state, err := cur.varint()
		if err != nil {
			return nil, err
		}
		ev.ThreadState = uint8(state)
	case AllocationSampleClass:
		classID, err := cur.varint()
		if err != nil {
			return nil, err
		}
		allocSize, err := cur.varint()
		if err != nil {
			return nil, err
		}
		tlabSize, err := cur.varint()
		if err != nil {
			return nil, err
		}
		ev.ClassID = ClassID(classID)
		ev.AllocationSize = allocSize
		ev.TLABSize = tlabSize
	case ContendedLockClass:
		classID, err := cur.varint()
		if err != nil {
			return nil, err
		}
		dur, err := cur.varint()
		if err != nil {
			return nil, err
		}
		ev.ClassID = ClassID(classID)
		ev.Duration = dur
	case LiveObjectClass:
		classID, err := cur.varint()
		if err != nil {
			return nil, err
		}
		allocSize, err := cur.varint()
		if err != nil {
			return nil, err
		}
		ev.ClassID = ClassID(classID)
		ev.AllocationSize = allocSize
	}
	return ev, nil
}

// GetEnumValue returns the symbolic name for member ordinal of the enum
// type typeName in the chunk most recently prepared.
func (r *Reader) GetEnumValue(typeName string, ordinal int64) (string, error) {
	if r.metadata == nil {
		return "", fmt.Errorf("%w: no chunk prepared", ErrMissingMetadata)
	}
	return r.metadata.getEnumValue(typeName, ordinal)
}

// ThreadStateOrdinal translates a --state symbolic name (matched by
// STATE_* prefix per spec.md 4.3) to its enum ordinal in the current
// chunk's jdk.types.ThreadState metadata, or an error if that metadata is
// absent.
func (r *Reader) ThreadStateOrdinal(name string) (int64, error) {
	if r.metadata == nil {
		return 0, fmt.Errorf("%w: no chunk prepared", ErrMissingMetadata)
	}
	t, ok := r.metadata.typeByName("jdk.types.ThreadState")
	if !ok {
		return 0, fmt.Errorf("%w: jdk.types.ThreadState", ErrMissingMetadata)
	}
	for ord, label := range t.enumMembers {
		if label == name || label == "STATE_"+name {
			return ord, nil
		}
	}
	return 0, fmt.Errorf("%w: thread state %s", ErrUnknownConstant, name)
}

// GetSymbol, GetClass, GetMethod, GetStackTrace and GetThreadName are the
// dictionary accessors the resolver and aggregator use; a missing ID is not
// itself an error (callers substitute "unknown"/"[tid=N]" per spec.md 7).

func (r *Reader) GetSymbol(id SymbolID) (string, bool) {
	b, ok := r.symbols[id]
	return string(b), ok
}

func (r *Reader) GetClass(id ClassID) (ClassRef, bool) {
	c, ok := r.classes[id]
	return c, ok
}

func (r *Reader) GetMethod(id MethodID) (MethodRef, bool) {
	m, ok := r.methods[id]
	return m, ok
}

func (r *Reader) GetStackTrace(id StackTraceID) (StackTrace, bool) {
	st, ok := r.stackTraces[id]
	return st, ok
}

func (r *Reader) GetThreadName(id ThreadID) (string, bool) {
	n, ok := r.threadNames[id]
	return n, ok
}

// CurrentChunk returns the chunk ReadEvent is positioned in: the first
// chunk before any event is read, the last chunk once all are consumed,
// and nil only when the file has no complete chunk.
func (r *Reader) CurrentChunk() *Chunk {
	if r.chunkIdx >= len(r.chunks) {
		if len(r.chunks) == 0 {
			return nil
		}
		return r.chunks[len(r.chunks)-1]
	}
	return r.chunks[r.chunkIdx]
}

// Chunks exposes all indexed chunk headers, in file order.
func (r *Reader) Chunks() []*Chunk { return r.chunks }
