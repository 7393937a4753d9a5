package testsupport

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	recordTerminator = 0x1D
	fieldTerminator  = 0x1E
	subfieldMarker   = 0x1F
)

// Field describes one variable field for BuildRecord. Control fields (tags
// 001-009) use Value; data fields use Indicators and Subfields, written as
// alternating code/value pairs.
type Field struct {
	Tag        string
	Value      string
	Indicators string
	Subfields  []string
}

// Control builds a control field.
func Control(tag, value string) Field {
	return Field{Tag: tag, Value: value}
}

// Data builds a data field with blank indicators from code/value pairs.
func Data(tag string, pairs ...string) Field {
	return Field{Tag: tag, Indicators: "  ", Subfields: pairs}
}

// BuildRecord encodes fields as one ISO 2709 record, including the trailing
// record terminator.
func BuildRecord(fields ...Field) []byte {
	var directory, data bytes.Buffer
	for _, f := range fields {
		var body bytes.Buffer
		if strings.HasPrefix(f.Tag, "00") {
			body.WriteString(f.Value)
		} else {
			ind := f.Indicators
			if len(ind) != 2 {
				ind = "  "
			}
			body.WriteString(ind)
			for i := 0; i+1 < len(f.Subfields); i += 2 {
				body.WriteByte(subfieldMarker)
				body.WriteString(f.Subfields[i])
				body.WriteString(f.Subfields[i+1])
			}
		}
		body.WriteByte(fieldTerminator)
		fmt.Fprintf(&directory, "%3s%04d%05d", f.Tag, body.Len(), data.Len())
		data.Write(body.Bytes())
	}
	directory.WriteByte(fieldTerminator)

	base := 24 + directory.Len()
	total := base + data.Len() + 1
	leader := fmt.Sprintf("%05dnam a22%05d   4500", total, base)

	var out bytes.Buffer
	out.WriteString(leader)
	out.Write(directory.Bytes())
	out.Write(data.Bytes())
	out.WriteByte(recordTerminator)
	return out.Bytes()
}

// Stream concatenates already-terminated records.
func Stream(records ...[]byte) []byte {
	return bytes.Join(records, nil)
}

// Garbage returns a terminated segment that cannot parse as a record.
func Garbage(s string) []byte {
	return append([]byte(s), recordTerminator)
}
