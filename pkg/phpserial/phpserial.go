// Package phpserial rewrites string tokens inside PHP-serialized payloads.
//
// PHP serialization prefixes every string with its byte length
// (`s:LEN:"value";`). A plain substring replacement inside such a payload
// leaves the length prefix stale and the payload fails to unserialize, so
// any URL rewrite has to reissue the token with a recomputed length. The
// format-specific logic lives here, isolated from generic column scanning.
package phpserial

import (
	"strconv"
	"strings"
)

// ContainsSerializedString reports whether s looks like it carries at least
// one serialized string token. Cheap pre-check before parsing.
func ContainsSerializedString(s string) bool {
	return strings.Contains(s, `s:`) && strings.Contains(s, `:"`)
}

// ReplaceInString replaces every occurrence of old with new inside every
// serialized string token of payload, recomputing each token's byte-length
// prefix. Content outside string tokens is left untouched. The returned
// count is the number of substring occurrences replaced.
//
// The scan is re-entrant: running it again over its own output finds zero
// remaining matches.
func ReplaceInString(payload, old, new string) (string, int) {
	if old == "" || !strings.Contains(payload, old) {
		return payload, 0
	}

	var b strings.Builder
	b.Grow(len(payload))
	total := 0
	i := 0
	for i < len(payload) {
		start, length, valueStart, ok := nextStringToken(payload, i)
		if !ok {
			b.WriteString(payload[i:])
			break
		}
		// copy everything up to the token verbatim
		b.WriteString(payload[i:start])

		valueEnd := valueStart + length
		value := payload[valueStart:valueEnd]
		n := strings.Count(value, old)
		if n > 0 {
			value = strings.ReplaceAll(value, old, new)
			total += n
		}
		b.WriteString("s:")
		b.WriteString(strconv.Itoa(len(value)))
		b.WriteString(`:"`)
		b.WriteString(value)
		b.WriteString(`";`)

		// skip the closing `";` of the original token
		i = valueEnd + 2
	}
	return b.String(), total
}

// nextStringToken finds the next well-formed `s:LEN:"value";` token at or
// after offset. It returns the token start, the declared byte length and
// the index where the value begins. Tokens whose declared length doesn't
// line up with a closing `";` are skipped rather than guessed at, so a
// malformed cell never causes a corrupting rewrite.
func nextStringToken(payload string, offset int) (start, length, valueStart int, ok bool) {
	for i := offset; i < len(payload); {
		rel := strings.Index(payload[i:], "s:")
		if rel < 0 {
			return 0, 0, 0, false
		}
		pos := i + rel

		// parse the decimal length
		j := pos + 2
		numStart := j
		for j < len(payload) && payload[j] >= '0' && payload[j] <= '9' {
			j++
		}
		if j == numStart || j+1 >= len(payload) || payload[j] != ':' || payload[j+1] != '"' {
			i = pos + 2
			continue
		}
		n, err := strconv.Atoi(payload[numStart:j])
		if err != nil {
			i = pos + 2
			continue
		}
		vStart := j + 2
		vEnd := vStart + n
		if vEnd+2 > len(payload) || payload[vEnd] != '"' || payload[vEnd+1] != ';' {
			i = pos + 2
			continue
		}
		return pos, n, vStart, true
	}
	return 0, 0, 0, false
}
