package marc

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrShortRecord      = errors.New("record shorter than leader")
	ErrInvalidLeader    = errors.New("invalid leader")
	ErrInvalidDirectory = errors.New("invalid directory")
	ErrFieldBounds      = errors.New("field outside record data")
)

// Parse decodes one record from segment, which must not include the record
// terminator. The declared record length in the leader is not enforced; the
// base address and directory entries must point inside segment.
func Parse(segment []byte) (*Record, error) {
	if len(segment) < LeaderLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(segment))
	}
	leader := segment[:LeaderLength]
	if _, ok := atoi(leader[0:5]); !ok {
		return nil, fmt.Errorf("%w: record length %q", ErrInvalidLeader, leader[0:5])
	}
	base, ok := atoi(leader[12:17])
	if !ok {
		return nil, fmt.Errorf("%w: base address %q", ErrInvalidLeader, leader[12:17])
	}
	if base <= LeaderLength || base > len(segment) {
		return nil, fmt.Errorf("%w: base address %d outside record of %d bytes", ErrInvalidLeader, base, len(segment))
	}

	directory := bytes.TrimSuffix(segment[LeaderLength:base], []byte{FieldTerminator})
	if len(directory)%directoryEntryLength != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidDirectory, len(directory), directoryEntryLength)
	}

	rec := &Record{Leader: string(leader)}
	for off := 0; off < len(directory); off += directoryEntryLength {
		entry := directory[off : off+directoryEntryLength]
		tag := string(entry[0:3])
		if !validTag(tag) {
			return nil, fmt.Errorf("%w: bad tag %q at entry %d", ErrInvalidDirectory, tag, off/directoryEntryLength)
		}
		length, ok1 := atoi(entry[3:7])
		start, ok2 := atoi(entry[7:12])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: bad length or offset for tag %s", ErrInvalidDirectory, tag)
		}
		begin := base + start
		end := begin + length
		if end > len(segment) {
			return nil, fmt.Errorf("%w: tag %s spans %d-%d of %d", ErrFieldBounds, tag, begin, end, len(segment))
		}
		raw := bytes.TrimSuffix(segment[begin:end], []byte{FieldTerminator})

		if isControlTag(tag) {
			rec.ControlFields = append(rec.ControlFields, ControlField{Tag: tag, Value: string(raw)})
			continue
		}
		rec.DataFields = append(rec.DataFields, parseDataField(tag, raw))
	}
	return rec, nil
}

func parseDataField(tag string, raw []byte) DataField {
	df := DataField{Tag: tag, Indicator1: ' ', Indicator2: ' '}
	// Indicators precede the first subfield marker.
	head, rest, _ := bytes.Cut(raw, []byte{SubfieldMarker})
	if len(head) > 0 {
		df.Indicator1 = head[0]
	}
	if len(head) > 1 {
		df.Indicator2 = head[1]
	}
	if rest == nil {
		return df
	}
	for _, part := range bytes.Split(rest, []byte{SubfieldMarker}) {
		if len(part) == 0 {
			continue
		}
		df.Subfields = append(df.Subfields, Subfield{Code: string(part[:1]), Value: string(part[1:])})
	}
	return df
}

func isControlTag(tag string) bool {
	return tag[0] == '0' && tag[1] == '0'
}

func validTag(tag string) bool {
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return len(tag) == 3
}

// atoi parses an unsigned run of ASCII digits.
func atoi(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
