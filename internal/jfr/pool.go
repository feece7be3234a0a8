package jfr

import "fmt"

const (
	metadataTypeID  = 0
	checkpointTypeID = 1
)

// frameTypeByEnumName maps the symbolic jdk.types.FrameType enum members to
// our FrameType constants.
var frameTypeByEnumName = map[string]FrameType{
	"INTERPRETED":  Interpreted,
	"JIT_COMPILED": JitCompiled,
	"INLINED":      Inlined,
	"NATIVE":       Native,
	"CPP":          Cpp,
	"KERNEL":       Kernel,
	"C1_COMPILED":  C1Compiled,
}

// loadConstantPools follows the checkpoint chain backward from ch.CPOffset,
// parsing every pool entry it finds into the reader's dictionaries. The
// chain terminates at the checkpoint whose delta field is 0.
func (r *Reader) loadConstantPools(ch *Chunk) error {
	pos := ch.offset + int(ch.CPOffset)
	seen := map[int]bool{}
	for {
		if pos < 0 || pos >= len(r.data) {
			return fmt.Errorf("%w: checkpoint chain out of range at %d", ErrMalformed, pos)
		}
		if seen[pos] {
			return fmt.Errorf("%w: checkpoint chain cycle at %d", ErrMalformed, pos)
		}
		seen[pos] = true

		cur := newCursor(r.data)
		cur.pos = pos
		size, err := cur.varint()
		if err != nil {
			return fmt.Errorf("checkpoint size: %w", err)
		}
		recordEnd := pos + int(size)
		typeID, err := cur.varint()
		if err != nil {
			return fmt.Errorf("checkpoint type id: %w", err)
		}
		if typeID != checkpointTypeID {
			return fmt.Errorf("%w: expected checkpoint record at %d, got type %d", ErrMalformed, pos, typeID)
		}
		delta, err := r.parseCheckpoint(cur, recordEnd)
		if err != nil {
			return err
		}
		if delta == 0 {
			return nil
		}
		pos -= int(delta)
	}
}

// parseCheckpoint parses one checkpoint record body and returns its delta
// field (offset back to the previous checkpoint in the chain, 0 if none).
func (r *Reader) parseCheckpoint(cur *cursor, recordEnd int) (uint64, error) {
	if _, err := cur.varint(); err != nil { // startTicks
		return 0, err
	}
	if _, err := cur.varint(); err != nil { // duration
		return 0, err
	}
	delta, err := cur.varint()
	if err != nil {
		return 0, err
	}
	if _, err := cur.u8(); err != nil { // flush flag
		return 0, err
	}
	poolCount, err := cur.varint()
	if err != nil {
		return 0, err
	}
	for i := uint64(0); i < poolCount; i++ {
		classID, err := cur.varint()
		if err != nil {
			return 0, err
		}
		count, err := cur.varint()
		if err != nil {
			return 0, err
		}
		t, ok := r.metadata.byID[classID]
		if !ok {
			return 0, fmt.Errorf("%w: constant pool for unknown class id %d", ErrMalformed, classID)
		}
		typeName := t.name
		parse, ok := poolParsers[typeName]
		if !ok {
			// Constant-pool class declared in metadata but not modeled here:
			// skip the whole record rather than fail, matching readEvent's
			// "unknown event records are skipped" discipline for data we
			// don't model.
			cur.pos = recordEnd
			return delta, nil
		}
		for j := uint64(0); j < count; j++ {
			id, err := cur.varint()
			if err != nil {
				return 0, err
			}
			if err := parse(cur, r, id); err != nil {
				return 0, fmt.Errorf("%w: pool %s entry %d: %v", ErrMalformed, typeName, id, err)
			}
		}
	}
	return delta, nil
}

type poolParseFunc func(cur *cursor, r *Reader, id uint64) error

var poolParsers = map[string]poolParseFunc{
	"jdk.types.Symbol":     parseSymbolEntry,
	"jdk.types.Class":      parseClassEntry,
	"jdk.types.Method":     parseMethodEntry,
	"jdk.types.StackTrace": parseStackTraceEntry,
	"jdk.types.Thread":     parseThreadEntry,
}

func parseSymbolEntry(cur *cursor, r *Reader, id uint64) error {
	s, err := cur.str(r)
	if err != nil {
		return err
	}
	r.symbols[SymbolID(id)] = []byte(s)
	return nil
}

func parseClassEntry(cur *cursor, r *Reader, id uint64) error {
	name, err := cur.varint()
	if err != nil {
		return err
	}
	pkg, err := cur.varint()
	if err != nil {
		return err
	}
	mods, err := cur.varint()
	if err != nil {
		return err
	}
	r.classes[ClassID(id)] = ClassRef{Name: SymbolID(name), Package: SymbolID(pkg), Modifiers: uint16(mods)}
	return nil
}

func parseMethodEntry(cur *cursor, r *Reader, id uint64) error {
	class, err := cur.varint()
	if err != nil {
		return err
	}
	name, err := cur.varint()
	if err != nil {
		return err
	}
	sig, err := cur.varint()
	if err != nil {
		return err
	}
	mods, err := cur.varint()
	if err != nil {
		return err
	}
	typ, err := cur.varint()
	if err != nil {
		return err
	}
	r.methods[MethodID(id)] = MethodRef{
		Class:     ClassID(class),
		Name:      SymbolID(name),
		Sig:       SymbolID(sig),
		Modifiers: uint16(mods),
		Type:      uint8(typ),
	}
	return nil
}

func parseStackTraceEntry(cur *cursor, r *Reader, id uint64) error {
	truncated, err := cur.u8()
	if err != nil {
		return err
	}
	n, err := cur.varint()
	if err != nil {
		return err
	}
	st := StackTrace{
		Methods:   make([]MethodID, n),
		Types:     make([]FrameType, n),
		Locations: make([]uint32, n),
		Truncated: truncated != 0,
	}
	frameTypeMeta, haveFrameType := r.metadata.typeByName("jdk.types.FrameType")
	// JFR records frames leaf-first (index 0 is the executing frame); fill
	// back-to-front so st.Methods ends up root-to-leaf, the order the
	// resolver and flame-graph builder expect.
	for i := uint64(0); i < n; i++ {
		method, err := cur.varint()
		if err != nil {
			return err
		}
		line, err := cur.varint()
		if err != nil {
			return err
		}
		bci, err := cur.varint()
		if err != nil {
			return err
		}
		ordinal, err := cur.svarint()
		if err != nil {
			return err
		}
		idx := n - 1 - i
		st.Methods[idx] = MethodID(method)
		st.Locations[idx] = uint32(line)<<16 | uint32(bci)&0xffff
		st.Types[idx] = Native
		if haveFrameType {
			if label, ok := frameTypeMeta.enumMembers[ordinal]; ok {
				if ft, ok := frameTypeByEnumName[label]; ok {
					st.Types[idx] = ft
				}
			}
		}
	}
	r.stackTraces[StackTraceID(id)] = st
	return nil
}

func parseThreadEntry(cur *cursor, r *Reader, id uint64) error {
	name, err := cur.str(r)
	if err != nil {
		return err
	}
	if _, err := cur.varint(); err != nil { // os thread id
		return err
	}
	if _, err := cur.varint(); err != nil { // java thread id
		return err
	}
	r.threadNames[ThreadID(id)] = name
	return nil
}
