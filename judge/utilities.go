package judge

import "strings"

// prepareStatement drops the whitespace, semicolons and comments that follow
// the last token of query, which some drivers reject. A query made only of
// those becomes "".
func prepareStatement(query string) string {
	end := 0
	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			if j := strings.IndexByte(query[i:], '\n'); j >= 0 {
				i += j + 1
			} else {
				i = len(query)
			}
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			if j := strings.Index(query[i+2:], "*/"); j >= 0 {
				i += j + 4
			} else {
				i = len(query)
			}
		case c == '\'' || c == '"' || c == '`':
			j := strings.IndexByte(query[i+1:], c)
			if j >= 0 {
				i += j + 2
			} else {
				i = len(query)
			}
			end = i
		case c == ';' || c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			i++
		default:
			i++
			end = i
		}
	}
	return strings.TrimSpace(query[:end])
}

// escapeAmpersands rewrites every "&" that does not start an entity
// reference to "&amp;". Applying it twice gives the same result as once.
func escapeAmpersands(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		if s[i] == '&' && !isEntityAt(s, i) {
			b.WriteString("&amp;")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// isEntityAt reports whether s[i:] starts with &name; &#123; or &#x1F;.
func isEntityAt(s string, i int) bool {
	j := i + 1
	if j >= len(s) {
		return false
	}
	start := j
	if s[j] == '#' {
		j++
		hex := j < len(s) && (s[j] == 'x' || s[j] == 'X')
		if hex {
			j++
		}
		start = j
		for j < len(s) && (isDigit(s[j]) || (hex && isHexLetter(s[j]))) {
			j++
		}
	} else {
		if !isLetter(s[j]) {
			return false
		}
		for j < len(s) && (isLetter(s[j]) || isDigit(s[j])) {
			j++
		}
	}
	return j > start && j < len(s) && s[j] == ';'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexLetter(c byte) bool {
	return (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// finalizeMessage makes msg safe for the consumer's strict XML parser.
func finalizeMessage(msg string) string {
	return `<div class="results">` + escapeAmpersands(msg) + `</div>`
}
