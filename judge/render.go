package judge

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"
)

const timeLayout = "2006-01-02 15:04:05"

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		if !utf8.ValidString(t) {
			return hexLiteral([]byte(t))
		}
		return t
	case []byte:
		if !utf8.Valid(t) {
			return hexLiteral(t)
		}
		return string(t)
	case time.Time:
		return t.Format(timeLayout)
	default:
		return fmt.Sprint(t)
	}
}

// hexLiteral renders binary data the way SQL spells a blob literal.
func hexLiteral(b []byte) string {
	return "x'" + hex.EncodeToString(b) + "'"
}

// escapeText HTML-escapes s after replacing anything a strict XML parser
// rejects (invalid UTF-8, control characters) with U+FFFD.
func escapeText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return utf8.RuneError
	}, s)
	return html.EscapeString(s)
}

func isXMLChar(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r' ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

// renderTable renders rs as an HTML table. With a positive limit only the
// first limit rows are shown and a caption reports how many.
func renderTable(rs *ResultSet, limit RowLimit) string {
	if len(rs.Rows) == 0 {
		return `<p class="empty">Query returned no rows.</p>`
	}

	rows := rs.Rows
	var b strings.Builder
	b.WriteString(`<table style="max-width: 100%;">`)
	if limit > 0 {
		if len(rows) > int(limit) {
			rows = rows[:limit]
		}
		fmt.Fprintf(&b, "<caption>Showing %d of %d rows</caption>", len(rows), len(rs.Rows))
	}

	b.WriteString("<thead><tr>")
	for _, col := range rs.Columns {
		b.WriteString("<th>")
		b.WriteString(escapeText(col))
		b.WriteString("</th>")
	}
	b.WriteString("</tr></thead><tbody>")

	for _, row := range rows {
		b.WriteString("<tr>")
		for _, v := range row {
			b.WriteString("<td>")
			b.WriteString(escapeText(formatValue(v)))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

// toCSV serializes the complete result set with a header row. NULL is
// written as an empty field and binary values as hex literals.
func toCSV(rs *ResultSet) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(rs.Columns) > 0 {
		if err := w.Write(rs.Columns); err != nil {
			return nil, err
		}
	}
	record := make([]string, 0, len(rs.Columns))
	for _, row := range rs.Rows {
		record = record[:0]
		for _, v := range row {
			if v == nil {
				record = append(record, "")
				continue
			}
			record = append(record, formatValue(v))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
