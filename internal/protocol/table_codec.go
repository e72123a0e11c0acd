package protocol

import (
	"fmt"

	"github.com/udisondev/l2mitmproxy/internal/protocol/packet"
)

// MessageSchema binds a message name and wire opcode to an ordered field
// layout for one definition version. It is registered on a TableCodec at
// init time; the core never parses a schema description from a file —
// schema representation is explicitly opaque to the stream/dispatch layers
// (spec §6).
type MessageSchema struct {
	Name    string
	Code    uint16
	Version int
	Fields  []Field
}

// versionTable is the name<->code mapping active for one protocol version.
type versionTable struct {
	codeByName map[string]uint16
	nameByCode map[uint16]string
}

// TableCodec is the reference Codec implementation. Schemas are registered
// per protocol version via RegisterMessage; VersionLatest resolves to the
// highest version registered for a given name.
type TableCodec struct {
	versions map[ProtocolVersion]*versionTable
	schemas  map[string]map[int]*MessageSchema // name -> defVersion -> schema
	latest   map[string]int                    // name -> highest registered version
}

// NewTableCodec returns an empty codec; callers populate it with
// RegisterMessage before handing it to proxyserver.CreateServer.
func NewTableCodec() *TableCodec {
	return &TableCodec{
		versions: make(map[ProtocolVersion]*versionTable),
		schemas:  make(map[string]map[int]*MessageSchema),
		latest:   make(map[string]int),
	}
}

// RegisterMessage adds schema to the table for protocolVersion, updating
// both the name<->code map for that protocol version and the per-name
// definition-version index used by VersionLatest.
func (tc *TableCodec) RegisterMessage(protocolVersion ProtocolVersion, schema *MessageSchema) {
	name := NormalizeMessageName(schema.Name)

	vt, ok := tc.versions[protocolVersion]
	if !ok {
		vt = &versionTable{codeByName: make(map[string]uint16), nameByCode: make(map[uint16]string)}
		tc.versions[protocolVersion] = vt
	}
	vt.codeByName[name] = schema.Code
	vt.nameByCode[schema.Code] = name

	byVersion, ok := tc.schemas[name]
	if !ok {
		byVersion = make(map[int]*MessageSchema)
		tc.schemas[name] = byVersion
	}
	byVersion[schema.Version] = schema

	if schema.Version > tc.latest[name] {
		tc.latest[name] = schema.Version
	}
}

func (tc *TableCodec) Code(version ProtocolVersion, name string) (uint16, bool) {
	vt, ok := tc.versions[version]
	if !ok {
		return 0, false
	}
	code, ok := vt.codeByName[NormalizeMessageName(name)]
	return code, ok
}

func (tc *TableCodec) Name(version ProtocolVersion, code uint16) (string, bool) {
	vt, ok := tc.versions[version]
	if !ok {
		return "", false
	}
	name, ok := vt.nameByCode[code]
	return name, ok
}

func (tc *TableCodec) resolveSchema(version ProtocolVersion, code uint16, defVersion DefinitionVersion) (*MessageSchema, error) {
	name, ok := tc.Name(version, code)
	if !ok {
		return nil, fmt.Errorf("protocol: resolving schema for code %#04x at version %d: %w", code, version, ErrUnknownOpcode)
	}

	want := int(defVersion)
	if defVersion == VersionLatest {
		want = tc.latest[name]
	}

	schema, ok := tc.schemas[name][want]
	if !ok {
		return nil, fmt.Errorf("protocol: no schema for %s at definition version %d: %w", name, want, ErrUnknownOpcode)
	}
	return schema, nil
}

// Parse decodes data (the payload following the 4-byte length+opcode
// header) according to the schema registered for code at defVersion.
func (tc *TableCodec) Parse(version ProtocolVersion, code uint16, defVersion DefinitionVersion, data []byte) (Event, error) {
	schema, err := tc.resolveSchema(version, code, defVersion)
	if err != nil {
		return nil, err
	}

	r := packet.NewReader(data)
	event := make(Event, len(schema.Fields))
	for _, f := range schema.Fields {
		v, err := readField(r, f.Kind, f.Size)
		if err != nil {
			return nil, fmt.Errorf("protocol: parsing %s.%s: %w", schema.Name, f.Name, err)
		}
		event[f.Name] = v
	}
	return event, nil
}

// Write encodes event into a header-less payload according to the schema
// registered for code at defVersion.
func (tc *TableCodec) Write(version ProtocolVersion, code uint16, defVersion DefinitionVersion, event Event) ([]byte, error) {
	schema, err := tc.resolveSchema(version, code, defVersion)
	if err != nil {
		return nil, err
	}

	w := packet.Get()
	defer w.Put()
	for _, f := range schema.Fields {
		if err := writeField(w, f.Kind, f.Size, event[f.Name]); err != nil {
			return nil, fmt.Errorf("protocol: writing %s.%s: %w", schema.Name, f.Name, err)
		}
	}

	out := make([]byte, w.Len())
	copy(out, w.Bytes())
	return out, nil
}

func readField(r *packet.Reader, kind FieldKind, size int) (any, error) {
	switch kind {
	case KindByte:
		return r.ReadByte()
	case KindShort:
		return r.ReadShort()
	case KindInt:
		return r.ReadInt()
	case KindLong:
		return r.ReadLong()
	case KindDouble:
		return r.ReadDouble()
	case KindString:
		return r.ReadString()
	case KindVersionList:
		return readVersionList(r)
	case KindBytes:
		return r.ReadBytesCopy(size)
	default:
		return nil, fmt.Errorf("unsupported field kind %s", kind)
	}
}

func readVersionList(r *packet.Reader) ([]VersionEntry, error) {
	count, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	entries := make([]VersionEntry, 0, count)
	for i := byte(0); i < count; i++ {
		idx, err := r.ReadShort()
		if err != nil {
			return nil, err
		}
		val, err := r.ReadInt()
		if err != nil {
			return nil, err
		}
		entries = append(entries, VersionEntry{Index: idx, Value: val})
	}
	return entries, nil
}

func writeField(w *packet.Writer, kind FieldKind, size int, v any) error {
	switch kind {
	case KindByte:
		b, ok := v.(byte)
		if !ok {
			return fmt.Errorf("expected byte, got %T", v)
		}
		return w.WriteByte(b)
	case KindShort:
		s, ok := v.(int16)
		if !ok {
			return fmt.Errorf("expected int16, got %T", v)
		}
		w.WriteShort(s)
		return nil
	case KindInt:
		i, ok := v.(int32)
		if !ok {
			return fmt.Errorf("expected int32, got %T", v)
		}
		w.WriteInt(i)
		return nil
	case KindLong:
		l, ok := v.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", v)
		}
		w.WriteLong(l)
		return nil
	case KindDouble:
		d, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", v)
		}
		w.WriteDouble(d)
		return nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		w.WriteString(s)
		return nil
	case KindVersionList:
		entries, ok := v.([]VersionEntry)
		if !ok {
			return fmt.Errorf("expected []VersionEntry, got %T", v)
		}
		if err := w.WriteByte(byte(len(entries))); err != nil {
			return err
		}
		for _, e := range entries {
			w.WriteShort(e.Index)
			w.WriteInt(e.Value)
		}
		return nil
	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("expected []byte, got %T", v)
		}
		if len(b) != size {
			return fmt.Errorf("expected %d bytes, got %d", size, len(b))
		}
		w.WriteBytes(b)
		return nil
	default:
		return fmt.Errorf("unsupported field kind %s", kind)
	}
}
