package pprofenc

import (
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/jfrconv/jfrconv/internal/aggregate"
)

// Frame is one already-resolved stack frame ready for interning: a
// displayable name plus a source line (0 when unknown, e.g. the synthetic
// class-name frame spec.md 4.6 prepends for alloc/live/lock samples).
type Frame struct {
	Name string
	Line int64
}

// Options configures sample-type selection and label emission, mirroring
// the CLI flags spec.md 6 lists.
type Options struct {
	Mode          aggregate.Mode
	Total         bool
	Threads       bool
	Classify      bool
	StartNanos    int64
	DurationNanos int64
}

// Encoder accumulates interned strings/functions/locations and samples,
// emitting a complete pprof v1 profile on Finish.
type Encoder struct {
	opt Options

	pb        protobuf
	strings   []string
	stringMap map[string]int
	funcs     map[string]uint64
	locs      map[uint64]uint64
}

func New(opt Options) *Encoder {
	return &Encoder{
		opt:       opt,
		strings:   []string{""},
		stringMap: map[string]int{"": 0},
		funcs:     map[string]uint64{},
		locs:      map[uint64]uint64{},
	}
}

// stringIndex adds s to the string table if not already present and
// returns its index; index 0 is always "".
func (e *Encoder) stringIndex(s string) int64 {
	if id, ok := e.stringMap[s]; ok {
		return int64(id)
	}
	id := len(e.strings)
	e.strings = append(e.strings, s)
	e.stringMap[s] = id
	return int64(id)
}

// internFunction returns name's functionId (≥1), writing a new Function
// message the first time name is seen.
func (e *Encoder) internFunction(name string) uint64 {
	if id, ok := e.funcs[name]; ok {
		return id
	}
	id := uint64(len(e.funcs)) + 1
	e.funcs[name] = id

	start := e.pb.startMessage()
	e.pb.uint64Opt(tagFunctionID, id)
	e.pb.int64Opt(tagFunctionName, e.stringIndex(name))
	e.pb.endMessage(tagProfileFunction, start)
	return id
}

// internLocation returns the locationId (≥1) for (functionID, line),
// writing a new Location message with a single nested Line the first time
// the packed key `(functionID<<16)|line` is seen.
func (e *Encoder) internLocation(functionID uint64, line int64) uint64 {
	key := functionID<<16 | uint64(uint32(line))
	if id, ok := e.locs[key]; ok {
		return id
	}
	id := uint64(len(e.locs)) + 1
	e.locs[key] = id

	locStart := e.pb.startMessage()
	e.pb.uint64Opt(tagLocationID, id)
	lineStart := e.pb.startMessage()
	e.pb.uint64Opt(tagLineFunctionID, functionID)
	e.pb.int64Opt(tagLineLine, line)
	e.pb.endMessage(tagLocationLine, lineStart)
	e.pb.endMessage(tagProfileLocation, locStart)
	return id
}

// AddSample writes one Sample message: frames are interned into
// function/location messages, the scalar value is written as a
// single-element (unpacked) repeated field, and thread/category labels are attached
// when the caller supplies them (spec.md 4.6's "Emit labels").
func (e *Encoder) AddSample(frames []Frame, value int64, threadName, category string) {
	locIDs := make([]uint64, 0, len(frames))
	for _, f := range frames {
		fid := e.internFunction(f.Name)
		locIDs = append(locIDs, e.internLocation(fid, f.Line))
	}

	start := e.pb.startMessage()
	e.pb.uint64s(tagSampleLocation, locIDs)
	e.pb.int64s(tagSampleValue, []int64{value})
	if threadName != "" {
		e.pbLabel("thread", threadName)
	}
	if category != "" {
		e.pbLabel("category", category)
	}
	e.pb.endMessage(tagProfileSample, start)
}

func (e *Encoder) pbLabel(key, str string) {
	start := e.pb.startMessage()
	e.pb.int64Opt(tagLabelKey, e.stringIndex(key))
	e.pb.int64Opt(tagLabelStr, e.stringIndex(str))
	e.pb.endMessage(tagSampleLabel, start)
}

// sampleType implements spec.md 4.6's "Sample type" table.
func (e *Encoder) sampleType() (typ, unit string) {
	total := e.opt.Total
	switch e.opt.Mode {
	case aggregate.Alloc, aggregate.Live:
		typ = "allocations"
	case aggregate.Lock:
		typ = "locks"
	default:
		typ = "cpu"
	}
	switch {
	case typ == "cpu" && total:
		unit = "nanoseconds"
	case typ == "cpu":
		unit = "count"
	case total:
		if typ == "locks" {
			unit = "nanoseconds"
		} else {
			unit = "bytes"
		}
	default:
		unit = "count"
	}
	return typ, unit
}

// Finish appends the sample_type, tail fields, and string table, then
// returns the complete serialized profile.
func (e *Encoder) Finish() []byte {
	typ, unit := e.sampleType()
	vtStart := e.pb.startMessage()
	e.pb.int64Field(tagValueTypeType, e.stringIndex(typ))
	e.pb.int64Field(tagValueTypeUnit, e.stringIndex(unit))
	e.pb.endMessage(tagProfileSampleType, vtStart)

	e.pb.int64Opt(tagProfileTimeNanos, e.opt.StartNanos)
	e.pb.int64Opt(tagProfileDurationNanos, e.opt.DurationNanos)
	e.pb.int64Opt(tagProfileComment, e.stringIndex("async-profiler"))

	e.pb.strings(tagProfileStringTable, e.strings)
	return e.pb.data
}

// WriteProfile writes data to w, gzip-framing it when gz is true, per
// spec.md 4.6's "Framing" (output name ending in `.gz`).
func WriteProfile(w io.Writer, data []byte, gz bool) error {
	if !gz {
		_, err := w.Write(data)
		return err
	}
	zw := gzip.NewWriter(w)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
