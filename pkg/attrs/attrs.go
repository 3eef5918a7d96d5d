// Package attrs converts slog-style key/value lists into audit details so a
// decision is logged and audited from the same attribute list.
package attrs

import "fmt"

// ToMap flattens a key-value attribute slice into a string map suitable for
// an audit event detail. Non-string keys are skipped; values are formatted
// with %v. A trailing key without a value is ignored.
func ToMap(attrs []any) map[string]string {
	if len(attrs) < 2 {
		return nil
	}
	out := make(map[string]string, len(attrs)/2)
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k == "" {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			out[k] = v
		case fmt.Stringer:
			out[k] = v.String()
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
