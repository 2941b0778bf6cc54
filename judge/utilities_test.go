package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareStatement(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{in: "SELECT 1", expected: "SELECT 1"},
		{in: "  SELECT 1;\n", expected: "SELECT 1"},
		{in: "SELECT 1 ; ;", expected: "SELECT 1"},
		{in: "SELECT ';' FROM dual;", expected: "SELECT ';' FROM dual"},
		{in: ";", expected: ""},
		{in: "", expected: ""},
		{in: "   ;  ", expected: ""},
		{in: "-- nothing", expected: ""},
		{in: "/* nothing */ ;\n-- at all\n", expected: ""},
		{in: "SELECT 1; -- trailing note", expected: "SELECT 1"},
		{in: "SELECT 1 /* unterminated", expected: "SELECT 1"},
		{in: "-- header\nSELECT 1;", expected: "-- header\nSELECT 1"},
		{in: "SELECT /* inline */ 1", expected: "SELECT /* inline */ 1"},
		{in: "SELECT '--', \"a;b\" FROM t", expected: "SELECT '--', \"a;b\" FROM t"},
		{in: "SELECT 'unterminated -- ;", expected: "SELECT 'unterminated -- ;"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, prepareStatement(tc.in), tc.in)
	}
}

func TestEscapeAmpersands(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{in: "no ampersands", expected: "no ampersands"},
		{in: "a & b", expected: "a &amp; b"},
		{in: "&", expected: "&amp;"},
		{in: "&&", expected: "&amp;&amp;"},
		{in: "&amp;", expected: "&amp;"},
		{in: "&lt;td&gt;", expected: "&lt;td&gt;"},
		{in: "&#34;quoted&#34;", expected: "&#34;quoted&#34;"},
		{in: "&#x1F;", expected: "&#x1F;"},
		{in: "&#;", expected: "&amp;#;"},
		{in: "&#xZZ;", expected: "&amp;#xZZ;"},
		{in: "R&D;", expected: "R&D;"},
		{in: "R&D", expected: "R&amp;D"},
		{in: "&1abc;", expected: "&amp;1abc;"},
		{in: "?a=1&b=2", expected: "?a=1&amp;b=2"},
	}

	for _, tc := range tests {
		escaped := escapeAmpersands(tc.in)
		assert.Equal(t, tc.expected, escaped, tc.in)
		assert.Equal(t, escaped, escapeAmpersands(escaped), "escaping %q twice", tc.in)
	}
}

func TestFinalizeMessage(t *testing.T) {
	assert.Equal(t, `<div class="results"><p>a &amp; b</p></div>`, finalizeMessage("<p>a & b</p>"))
	assert.Equal(t, `<div class="results"></div>`, finalizeMessage(""))
}
