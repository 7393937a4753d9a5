package marc

import "strings"

// Matcher decides whether a subfield value qualifies.
type Matcher func(value string) bool

// ContainsFold matches values containing substr, ignoring case.
func ContainsFold(substr string) Matcher {
	needle := strings.ToLower(substr)
	return func(value string) bool {
		return strings.Contains(strings.ToLower(value), needle)
	}
}

// ExtractSubfield returns the value of subfield code within data fields
// tagged tag. When several qualify, the last one in document order wins.
// A nil match accepts any value. Absence yields "".
func ExtractSubfield(rec *Record, tag, code string, match Matcher) string {
	if rec == nil {
		return ""
	}
	result := ""
	for _, df := range rec.DataFields {
		if df.Tag != tag {
			continue
		}
		for _, sf := range df.Subfields {
			if sf.Code != code {
				continue
			}
			if match == nil || match(sf.Value) {
				result = sf.Value
			}
		}
	}
	return result
}
