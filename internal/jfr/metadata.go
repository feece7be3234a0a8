package jfr

import "fmt"

// fieldMeta describes one field of a metadata type: its name, the type ID it
// refers to, whether it repeats, and whether it is a constant-pool reference
// rather than an inline value.
type fieldMeta struct {
	name         string
	typeID       uint64
	repeated     bool
	cpReference  bool
	enumMembers  map[int64]string // non-nil only for enum leaf types
	dimension    int              // array nesting depth, informational only
}

// typeMeta describes one metadata type: its numeric ID, fully-qualified
// name, and field list. Enum types carry their members directly.
type typeMeta struct {
	id          uint64
	name        string
	fields      []fieldMeta
	enumMembers map[int64]string
}

// metadata is the per-chunk type tree parsed from the chunk's metadata
// offset, keyed both by numeric ID and by name for the class-name matching
// readEvent performs once per chunk.
type metadata struct {
	byID   map[uint64]*typeMeta
	byName map[string]*typeMeta
}

func newMetadata() *metadata {
	return &metadata{byID: map[uint64]*typeMeta{}, byName: map[string]*typeMeta{}}
}

func (m *metadata) add(t *typeMeta) {
	m.byID[t.id] = t
	m.byName[t.name] = t
}

// parseMetadataEvent parses one metadata record body: a varint type count
// followed by that many type records. Each type record is a varint ID, a
// tagged-string name and an enum flag byte; an enum type then carries a
// varint member count and (zig-zag ordinal, tagged-string label) pairs,
// any other type a varint field count and that many field records.
//
// This flattens the XML-like nesting of the real JFR metadata event into a
// count-prefixed sequence of records. prepareChunk has already consumed
// the record's size and type ID by the time parseMetadataEvent runs.
func parseMetadataEvent(cur *cursor, r *Reader) (*metadata, error) {
	m := newMetadata()
	count, err := cur.varint()
	if err != nil {
		return nil, fmt.Errorf("metadata type count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		t, err := parseTypeMeta(cur, r)
		if err != nil {
			return nil, fmt.Errorf("metadata type %d: %w", i, err)
		}
		m.add(t)
	}
	return m, nil
}

func parseTypeMeta(cur *cursor, r *Reader) (*typeMeta, error) {
	id, err := cur.varint()
	if err != nil {
		return nil, err
	}
	name, err := cur.str(r)
	if err != nil {
		return nil, err
	}
	isEnum, err := cur.u8()
	if err != nil {
		return nil, err
	}
	t := &typeMeta{id: id, name: name}
	if isEnum != 0 {
		n, err := cur.varint()
		if err != nil {
			return nil, err
		}
		t.enumMembers = make(map[int64]string, n)
		for i := uint64(0); i < n; i++ {
			ordinal, err := cur.svarint()
			if err != nil {
				return nil, err
			}
			label, err := cur.str(r)
			if err != nil {
				return nil, err
			}
			t.enumMembers[ordinal] = label
		}
		return t, nil
	}
	nf, err := cur.varint()
	if err != nil {
		return nil, err
	}
	t.fields = make([]fieldMeta, nf)
	for i := uint64(0); i < nf; i++ {
		f, err := parseFieldMeta(cur, r)
		if err != nil {
			return nil, err
		}
		t.fields[i] = f
	}
	return t, nil
}

func parseFieldMeta(cur *cursor, r *Reader) (fieldMeta, error) {
	var f fieldMeta
	name, err := cur.str(r)
	if err != nil {
		return f, err
	}
	f.name = name
	typeID, err := cur.varint()
	if err != nil {
		return f, err
	}
	f.typeID = typeID
	flags, err := cur.u8()
	if err != nil {
		return f, err
	}
	f.repeated = flags&0x1 != 0
	f.cpReference = flags&0x2 != 0
	return f, nil
}

// typeByName looks up a metadata type by its metadata-declared name
// (e.g. "jdk.ExecutionSample", "jdk.types.FrameType").
func (m *metadata) typeByName(name string) (*typeMeta, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// getEnumValue returns the symbolic name for a member of an enum type,
// matching spec.md 4.1's getEnumValue(typeName, ordinal).
func (m *metadata) getEnumValue(typeName string, ordinal int64) (string, error) {
	t, ok := m.byName[typeName]
	if !ok {
		return "", fmt.Errorf("%w: enum type %s", ErrMissingMetadata, typeName)
	}
	name, ok := t.enumMembers[ordinal]
	if !ok {
		return "", fmt.Errorf("%w: ordinal %d in %s", ErrUnknownConstant, ordinal, typeName)
	}
	return name, nil
}
