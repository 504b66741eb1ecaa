package delta

// jsonScanner incrementally tracks whether a streamed argument string has
// formed a complete top-level JSON value. It only needs nesting depth and
// string/escape state, never a full parse, so feeding it fragment by fragment
// is cheap regardless of chunking.
type jsonScanner struct {
	depth    int
	started  bool
	complete bool
	broken   bool
	inString bool
	escaped  bool
}

// feed consumes one fragment and returns true if the value just completed.
func (s *jsonScanner) feed(fragment string) bool {
	if s.complete || s.broken {
		return false
	}
	for i := 0; i < len(fragment); i++ {
		b := fragment[i]

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case b == '\\':
				s.escaped = true
			case b == '"':
				s.inString = false
			}
			continue
		}

		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			s.started = true
			s.depth++
		case '}', ']':
			s.depth--
			if s.depth == 0 && s.started {
				s.complete = true
				return true
			}
			if s.depth < 0 {
				s.broken = true
				return false
			}
		case '"':
			if !s.started {
				// A bare string could be valid JSON but argument payloads
				// are always objects; anything else goes down the
				// recovery path at finalize time.
				s.broken = true
				return false
			}
			s.inString = true
		default:
			if !s.started {
				s.broken = true
				return false
			}
		}
	}
	return false
}
