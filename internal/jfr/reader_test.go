package jfr

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// --- local encoders mirroring cursor's decode rules, test-only ---

func putVarint(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			return
		}
	}
}

func putSvarint(buf *bytes.Buffer, v int64) {
	putVarint(buf, uint64(v<<1)^uint64(v>>63))
}

func putTaggedUTF8(buf *bytes.Buffer, s string) {
	if s == "" {
		buf.WriteByte(stringEmpty)
		return
	}
	buf.WriteByte(stringUTF8)
	putVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func TestVarintRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	putVarint(&buf, 300)
	putSvarint(&buf, -42)
	putTaggedUTF8(&buf, "hello")

	cur := newCursor(buf.Bytes())
	u, err := cur.varint()
	if err != nil || u != 300 {
		t.Fatalf("varint: got %d, %v", u, err)
	}
	s, err := cur.svarint()
	if err != nil || s != -42 {
		t.Fatalf("svarint: got %d, %v", s, err)
	}
	str, err := cur.str(&Reader{})
	if err != nil || str != "hello" {
		t.Fatalf("str: got %q, %v", str, err)
	}
}

func TestFrameTypeString(t *testing.T) {
	cases := map[FrameType]string{
		Interpreted: "Interpreted",
		JitCompiled: "JitCompiled",
		Native:      "Native",
		C1Compiled:  "C1Compiled",
	}
	for ft, want := range cases {
		if got := ft.String(); got != want {
			t.Errorf("FrameType(%d).String() = %q, want %q", ft, got, want)
		}
	}
}

// writeSimpleType appends one non-enum type declaration with zero fields.
func writeSimpleType(md *bytes.Buffer, id uint64, name string) {
	putVarint(md, id)
	putTaggedUTF8(md, name)
	md.WriteByte(0)
	putVarint(md, 0)
}

// buildMinimalChunk encodes a single chunk containing: metadata declaring
// jdk.ExecutionSample, the four constant-pool classes, and the
// jdk.types.FrameType/ThreadState enums; a checkpoint with one
// symbol/class/method/stack-trace; and one ExecutionSample event
// referencing that stack.
func buildMinimalChunk(t *testing.T) []byte {
	t.Helper()

	// --- metadata record: 7 types total ---
	var md bytes.Buffer
	putVarint(&md, 7)

	writeSimpleType(&md, 100, "jdk.ExecutionSample")
	writeSimpleType(&md, 300, "jdk.types.Symbol")
	writeSimpleType(&md, 301, "jdk.types.Class")
	writeSimpleType(&md, 302, "jdk.types.Method")
	writeSimpleType(&md, 303, "jdk.types.StackTrace")

	// type 200: jdk.types.FrameType enum
	putVarint(&md, 200)
	putTaggedUTF8(&md, "jdk.types.FrameType")
	md.WriteByte(1) // is enum
	putVarint(&md, 1)
	putSvarint(&md, 1) // ordinal 1
	putTaggedUTF8(&md, "JIT_COMPILED")

	// type 201: jdk.types.ThreadState enum
	putVarint(&md, 201)
	putTaggedUTF8(&md, "jdk.types.ThreadState")
	md.WriteByte(1)
	putVarint(&md, 1)
	putSvarint(&md, 5)
	putTaggedUTF8(&md, "STATE_RUNNABLE")

	mdRecord := prefixedRecord(metadataTypeID, md.Bytes())

	// --- checkpoint record (pools: Symbol, Class, Method, StackTrace) ---
	var cp bytes.Buffer
	putVarint(&cp, 0) // startTicks
	putVarint(&cp, 0) // duration
	putVarint(&cp, 0) // delta: end of chain
	cp.WriteByte(1)   // flush
	putVarint(&cp, 4) // pool count

	// Each pool's class id must resolve via metadata.byID: type ids
	// 300/301/302/303 for Symbol/Class/Method/StackTrace are declared in the
	// metadata record above so loadConstantPools can match them by name.
	putVarint(&cp, 300) // classId -> jdk.types.Symbol
	putVarint(&cp, 1)   // 1 entry
	putVarint(&cp, 1)   // id=1
	putTaggedUTF8(&cp, "com/example/Main")

	putVarint(&cp, 301) // jdk.types.Class
	putVarint(&cp, 1)
	putVarint(&cp, 1)    // id=1
	putVarint(&cp, 1)    // name symbol id
	putVarint(&cp, 0)    // package symbol id (none)
	putVarint(&cp, 0)    // modifiers

	putVarint(&cp, 302) // jdk.types.Method
	putVarint(&cp, 1)
	putVarint(&cp, 1) // id=1
	putVarint(&cp, 1) // class id
	putVarint(&cp, 1) // name symbol id (reused for test simplicity)
	putVarint(&cp, 1) // sig symbol id
	putVarint(&cp, 0) // modifiers
	putVarint(&cp, 0) // type

	putVarint(&cp, 303) // jdk.types.StackTrace
	putVarint(&cp, 1)
	putVarint(&cp, 1)  // id=1
	cp.WriteByte(0)    // not truncated
	putVarint(&cp, 1)  // 1 frame
	putVarint(&cp, 1)  // method id
	putVarint(&cp, 42) // line
	putVarint(&cp, 0)  // bci
	putSvarint(&cp, 1) // frame type ordinal -> JIT_COMPILED

	cpRecord := prefixedRecord(checkpointTypeID, cp.Bytes())

	// --- event record ---
	var ev bytes.Buffer
	putVarint(&ev, 1000) // time
	putVarint(&ev, 7)    // tid
	putVarint(&ev, 1)    // stackId
	putVarint(&ev, 5)    // threadState ordinal
	evRecord := prefixedRecord(100, ev.Bytes())

	body := append(append([]byte{}, mdRecord...), cpRecord...)
	body = append(body, evRecord...)

	header := make([]byte, chunkHeaderSize)
	copy(header[0:4], magic[:])
	binary.BigEndian.PutUint16(header[4:6], 0)
	binary.BigEndian.PutUint16(header[6:8], 1)
	totalSize := uint64(chunkHeaderSize + len(body))
	binary.BigEndian.PutUint64(header[8:16], totalSize)
	binary.BigEndian.PutUint64(header[32:40], 0) // startNanos
	binary.BigEndian.PutUint64(header[40:48], 0) // durationNanos
	binary.BigEndian.PutUint64(header[48:56], 0) // startTicks
	binary.BigEndian.PutUint64(header[56:64], 1_000_000_000) // ticksPerSec
	binary.BigEndian.PutUint32(header[64:68], 0)              // features

	// cpOffset must point at the checkpoint record, metaOffset at the
	// metadata record; both are relative to chunk start.
	cpOffset := uint64(chunkHeaderSize + len(mdRecord))
	metaOffset := uint64(chunkHeaderSize)
	binary.BigEndian.PutUint64(header[16:24], cpOffset)
	binary.BigEndian.PutUint64(header[24:32], metaOffset)

	return append(header, body...)
}

func varintBytes(v uint64) []byte {
	var b bytes.Buffer
	putVarint(&b, v)
	return b.Bytes()
}

func prefixedRecord(typeID uint64, payload []byte) []byte {
	var typeBuf bytes.Buffer
	putVarint(&typeBuf, typeID)

	// size includes the size varint itself, so compute iteratively.
	body := append(append([]byte{}, typeBuf.Bytes()...), payload...)
	for i := 1; i < 5; i++ {
		sizeBuf := varintBytes(uint64(len(body) + i))
		if len(sizeBuf) == i {
			return append(sizeBuf, body...)
		}
	}
	sizeBuf := varintBytes(uint64(len(body) + 10))
	return append(sizeBuf, body...)
}

func TestReadExecutionSampleFromMinimalChunk(t *testing.T) {
	data := buildMinimalChunk(t)
	r, err := OpenBytes(data)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	if r.NumChunks() != 1 {
		t.Fatalf("NumChunks = %d, want 1", r.NumChunks())
	}

	ev, err := r.ReadEvent(ExecutionSampleClass)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if ev == nil {
		t.Fatal("ReadEvent returned nil event")
	}
	if ev.Tid != 7 || ev.StackID != 1 || ev.ThreadState != 5 {
		t.Errorf("event = %+v", ev)
	}

	st, ok := r.GetStackTrace(StackTraceID(1))
	if !ok {
		t.Fatal("stack trace 1 not found")
	}
	if len(st.Methods) != 1 || st.Methods[0] != 1 {
		t.Errorf("stack trace = %+v", st)
	}
	if st.Types[0] != JitCompiled {
		t.Errorf("frame type = %v, want JitCompiled", st.Types[0])
	}

	m, ok := r.GetMethod(MethodID(1))
	if !ok || m.Class != 1 {
		t.Errorf("method = %+v, ok=%v", m, ok)
	}
}
