// Package pprofenc writes Google pprof v1 profiles from aggregated stack
// samples, per spec.md 4.6.
package pprofenc

// protobuf is a minimal growable-buffer protocol buffer encoder, grounded
// on the runtime/pprof wire-format writer: varint, length-delimited field,
// and startMessage/endMessage with a trailing length backpatch.
type protobuf struct {
	data []byte
	tmp  [16]byte
	nest int
}

func (b *protobuf) varint(x uint64) {
	for x >= 128 {
		b.data = append(b.data, byte(x)|0x80)
		x >>= 7
	}
	b.data = append(b.data, byte(x))
}

func (b *protobuf) length(tag, n int) {
	b.varint(uint64(tag)<<3 | 2)
	b.varint(uint64(n))
}

func (b *protobuf) uint64Field(tag int, x uint64) {
	b.varint(uint64(tag) << 3)
	b.varint(x)
}

func (b *protobuf) uint64Opt(tag int, x uint64) {
	if x == 0 {
		return
	}
	b.uint64Field(tag, x)
}

func (b *protobuf) int64Field(tag int, x int64) {
	b.uint64Field(tag, uint64(x))
}

func (b *protobuf) int64Opt(tag int, x int64) {
	if x == 0 {
		return
	}
	b.int64Field(tag, x)
}

// uint64s writes a repeated uint64 field using packed encoding when it has
// more than two elements, matching the reference encoder's threshold.
func (b *protobuf) uint64s(tag int, x []uint64) {
	if len(x) > 2 {
		n1 := len(b.data)
		for _, u := range x {
			b.varint(u)
		}
		b.packTail(tag, n1)
		return
	}
	for _, u := range x {
		b.uint64Field(tag, u)
	}
}

func (b *protobuf) int64s(tag int, x []int64) {
	if len(x) > 2 {
		n1 := len(b.data)
		for _, v := range x {
			b.varint(uint64(v))
		}
		b.packTail(tag, n1)
		return
	}
	for _, v := range x {
		b.int64Field(tag, v)
	}
}

// packTail wraps the packed-varint payload already appended starting at n1
// with its length prefix, by rotating the freshly-written bytes after the
// prefix is varint-encoded in place.
func (b *protobuf) packTail(tag, n1 int) {
	n2 := len(b.data)
	b.length(tag, n2-n1)
	n3 := len(b.data)
	copy(b.tmp[:], b.data[n2:n3])
	copy(b.data[n1+(n3-n2):], b.data[n1:n2])
	copy(b.data[n1:], b.tmp[:n3-n2])
}

func (b *protobuf) stringField(tag int, s string) {
	b.length(tag, len(s))
	b.data = append(b.data, s...)
}

func (b *protobuf) strings(tag int, xs []string) {
	for _, s := range xs {
		b.stringField(tag, s)
	}
}

type msgOffset int

func (b *protobuf) startMessage() msgOffset {
	b.nest++
	return msgOffset(len(b.data))
}

func (b *protobuf) endMessage(tag int, start msgOffset) {
	b.packTail(tag, int(start))
	b.nest--
}

const (
	tagProfileSampleType        = 1
	tagProfileSample            = 2
	tagProfileLocation          = 4
	tagProfileFunction          = 5
	tagProfileStringTable       = 6
	tagProfileTimeNanos         = 9
	tagProfileDurationNanos     = 10
	tagProfileComment           = 13
	tagProfileDefaultSampleType = 14

	tagValueTypeType = 1
	tagValueTypeUnit = 2

	tagSampleLocation = 1
	tagSampleValue    = 2
	tagSampleLabel    = 3

	tagLocationID   = 1
	tagLocationLine = 4

	tagLineFunctionID = 1
	tagLineLine       = 2

	tagFunctionID   = 1
	tagFunctionName = 2

	tagLabelKey     = 1
	tagLabelStr     = 2
	tagLabelNum     = 3
	tagLabelNumUnit = 4
)
