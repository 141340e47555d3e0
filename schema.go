package tamer

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// SchemaVersion is the layout revision written into schema text.
const SchemaVersion = 1

// SchemaField is one named, typed entry of a schema or composite type.
type SchemaField struct {
	Name     string `cbor:"1,keyasint" json:"name"`
	TypeName string `cbor:"2,keyasint" json:"type"`
	Kind     Kind   `cbor:"3,keyasint" json:"kind"`
	// Count is 0 for scalars, N for fixed arrays and -1 for sequences.
	Count int    `cbor:"4,keyasint" json:"count"`
	Elem  string `cbor:"5,keyasint,omitempty" json:"elem,omitempty"`
}

// TypeInfo describes a composite type referenced by a schema.
type TypeInfo struct {
	Name      string        `cbor:"1,keyasint" json:"name"`
	FixedSize int           `cbor:"2,keyasint" json:"fixed_size"`
	Fields    []SchemaField `cbor:"3,keyasint,omitempty" json:"fields,omitempty"`
	// Text is the serializer's custom schema, if it provides one.
	Text string `cbor:"4,keyasint,omitempty" json:"text,omitempty"`
}

// Schema is the ordered, versioned list of fields a channel's frames carry.
// A Schema is never modified once a channel publishes it.
type Schema struct {
	Channel string              `cbor:"1,keyasint" json:"channel"`
	Hash    uint64              `cbor:"2,keyasint" json:"hash"`
	Fields  []SchemaField       `cbor:"3,keyasint" json:"fields"`
	Types   map[string]TypeInfo `cbor:"4,keyasint,omitempty" json:"types,omitempty"`
	// FixedSize is the byte count contributed by fixed-size fields.
	FixedSize int `cbor:"5,keyasint" json:"fixed_size"`
}

// SchemaHash returns the version hash of an ordered field list. It depends
// only on names and type names, in order.
func SchemaHash(fields []SchemaField) uint64 {
	h := murmur3.New64()
	sep := []byte{0}
	end := []byte{'\n'}
	for _, f := range fields {
		h.Write([]byte(f.Name))
		h.Write(sep)
		h.Write([]byte(f.TypeName))
		h.Write(end)
	}
	return h.Sum64()
}

func newSchema(channel string, fields []SchemaField, types map[string]TypeInfo, fixed int) *Schema {
	return &Schema{
		Channel:   channel,
		Hash:      SchemaHash(fields),
		Fields:    fields,
		Types:     types,
		FixedSize: fixed,
	}
}

// Field returns the field called name.
func (s *Schema) Field(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

// String renders the schema in the text form announced to sinks: a short
// header, one "type name" line per field, then one MSG block per
// composite type.
func (s *Schema) String() string {
	var b strings.Builder
	b.WriteString("__version__:")
	b.WriteString(strconv.Itoa(SchemaVersion))
	b.WriteString("\n__hash__:")
	b.WriteString(strconv.FormatUint(s.Hash, 10))
	b.WriteString("\n__channel_name__:")
	b.WriteString(s.Channel)
	b.WriteByte('\n')
	writeFields(&b, s.Fields)

	names := make([]string, 0, len(s.Types))
	for n := range s.Types {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t := s.Types[n]
		b.WriteString("===========\nMSG: ")
		b.WriteString(n)
		b.WriteByte('\n')
		if t.Text != "" {
			b.WriteString(t.Text)
			if !strings.HasSuffix(t.Text, "\n") {
				b.WriteByte('\n')
			}
			continue
		}
		writeFields(&b, t.Fields)
	}
	return b.String()
}

func writeFields(b *strings.Builder, fields []SchemaField) {
	for _, f := range fields {
		b.WriteString(f.TypeName)
		b.WriteByte(' ')
		b.WriteString(f.Name)
		b.WriteByte('\n')
	}
}

// collectTypes records ser and every composite reachable from it.
func collectTypes(ser Serializer, into map[string]TypeInfo) {
	if ser == nil {
		return
	}
	name := ser.TypeName()
	if _, ok := into[name]; ok {
		return
	}
	info := TypeInfo{Name: name, FixedSize: ser.FixedSize()}
	if text, ok := ser.Schema(); ok {
		info.Text = text
	}
	into[name] = info
	ss, ok := ser.(*structSerializer)
	if !ok {
		return
	}
	info.Fields = ss.Fields()
	into[name] = info
	for i := range ss.slots {
		collectTypes(ss.slots[i].ser, into)
	}
}
