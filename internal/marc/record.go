// Package marc decodes binary MARC 21 (ISO 2709) records and streams them
// out of large concatenated files one record at a time.
package marc

// Structural bytes of the ISO 2709 encoding.
const (
	RecordTerminator byte = 0x1D
	FieldTerminator  byte = 0x1E
	SubfieldMarker   byte = 0x1F

	LeaderLength         = 24
	directoryEntryLength = 12
)

// Record is one decoded bibliographic record. Fields keep document order and
// repeated tags keep every occurrence.
type Record struct {
	Leader        string
	ControlFields []ControlField
	DataFields    []DataField
}

// ControlField is a fixed field (tags 001-009) holding a raw value.
type ControlField struct {
	Tag   string
	Value string
}

// DataField is a variable field with indicators and subfields.
type DataField struct {
	Tag        string
	Indicator1 byte
	Indicator2 byte
	Subfields  []Subfield
}

// Subfield is one coded piece of a data field. An empty Value means the
// subfield was present with no data.
type Subfield struct {
	Code  string
	Value string
}

// Control returns the value of the first control field with tag, or "".
func (r *Record) Control(tag string) string {
	for _, cf := range r.ControlFields {
		if cf.Tag == tag {
			return cf.Value
		}
	}
	return ""
}

// Fields returns every data field with tag, in document order.
func (r *Record) Fields(tag string) []DataField {
	var out []DataField
	for _, df := range r.DataFields {
		if df.Tag == tag {
			out = append(out, df)
		}
	}
	return out
}

// Title returns 245 $a.
func (r *Record) Title() string {
	return ExtractSubfield(r, "245", "a", nil)
}

// Values returns every value of subfield code in the field.
func (f DataField) Values(code string) []string {
	var out []string
	for _, sf := range f.Subfields {
		if sf.Code == code {
			out = append(out, sf.Value)
		}
	}
	return out
}
