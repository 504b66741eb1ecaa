package delta

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// pairRe matches a complete "key": "value" pair with escapes intact.
var pairRe = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// tailRe matches a trailing pair whose value string was cut off mid-stream.
var tailRe = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"\s*:\s*"((?:[^"\\]|\\.)*)$`)

// extractPartialInput recovers key/value pairs from a syntactically
// incomplete JSON argument string. This is a deliberately lossy path: it only
// sees top-level string values, but that is enough to give a denied or failed
// call a plausible description and to keep live previews responsive.
func extractPartialInput(raw string) map[string]any {
	if raw == "" {
		return nil
	}

	// The stream may have broken for reasons other than truncation; if the
	// accumulated text is in fact valid JSON, prefer the real parse.
	if gjson.Valid(raw) {
		if parsed, ok := gjson.Parse(raw).Value().(map[string]any); ok {
			return parsed
		}
	}

	out := map[string]any{}
	consumed := 0
	for _, m := range pairRe.FindAllStringSubmatchIndex(raw, -1) {
		key := unescape(raw[m[2]:m[3]])
		out[key] = unescape(raw[m[4]:m[5]])
		consumed = m[1]
	}
	if m := tailRe.FindStringSubmatchIndex(raw[consumed:]); m != nil {
		key := unescape(raw[consumed+m[2] : consumed+m[3]])
		if _, seen := out[key]; !seen {
			out[key] = unescape(raw[consumed+m[4] : consumed+m[5]])
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// unescape resolves JSON escape sequences in a raw string segment, returning
// the segment unchanged if it cannot be decoded.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	// JSON permits the escaped solidus which Go quote syntax does not.
	quoted := `"` + strings.ReplaceAll(s, `\/`, `/`) + `"`
	if decoded, err := strconv.Unquote(quoted); err == nil {
		return decoded
	}
	return s
}
