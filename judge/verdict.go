package judge

import (
	"encoding/xml"
	"errors"
	"fmt"
	"github.com/elmanelman/sql-grader/xqueue"
	"io"
	"strings"
)

const (
	OutcomeCorrect        = "correct"
	OutcomeIncorrect      = "incorrect"
	OutcomeSandbox        = "sandbox"
	OutcomeStudentError   = "student_error"
	OutcomeReferenceError = "reference_error"
	OutcomeFailed         = "failed"
)

const failMessage = "<p>Could not grade submission. Please contact course staff.</p>"

func studentErrorMessage(err *QueryError) string {
	return fmt.Sprintf(
		`<div class="error"><p><strong>Bad student query</strong>: <code>%s</code></p>`+
			`<p>Error message:</p><pre><code>%s</code></pre></div>`,
		escapeText(err.Statement), escapeText(err.Message),
	)
}

func referenceErrorMessage(err *QueryError) string {
	return fmt.Sprintf(
		`<div class="error"><p><strong>Invalid grader query</strong>: <code>%s</code></p>`+
			`<p>Please report this issue to the course staff.</p>`+
			`<p>Error message:</p><pre><code>%s</code></pre></div>`,
		escapeText(err.Statement), escapeText(err.Message),
	)
}

func correctMessage(results string) string {
	return `<div class="correct"><h3>Query results:</h3>` + results + `</div>`
}

func mismatchMessage(expected, actual string) string {
	return `<div class="error">` +
		`<h3>Expected Results</h3><div class="expected">` + expected + `</div>` +
		`<h3>Your Results</h3><div class="actual">` + actual + `</div>` +
		`</div>`
}

func sandboxMessage(results string) string {
	return `<div class="sandbox"><h3>Query Results</h3>` + results + `</div>`
}

func downloadMessage(url, name string) string {
	return fmt.Sprintf(`<p>Download CSV: <a href="%s">%s</a></p>`, escapeText(url), escapeText(name))
}

const uploadFailedMessage = `<p class="upload-error">Could not upload the CSV results. Please contact course staff if you need them.</p>`

// FailReply is sent when a submission could not be graded at all.
func FailReply(graderID string) xqueue.Reply {
	return xqueue.Reply{
		Correct:  false,
		Score:    0,
		Msg:      failMessage,
		GraderID: graderID,
	}
}

// ValidateReply checks the reply the way the consumer will read it: the
// message must parse as exactly one well-formed XML element.
func ValidateReply(reply xqueue.Reply) error {
	if reply.GraderID == "" {
		return errors.New("grader reply missing grader_id")
	}
	if strings.TrimSpace(reply.Msg) == "" {
		return errors.New("grader reply missing msg")
	}

	dec := xml.NewDecoder(strings.NewReader(reply.Msg))
	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("grader reply contains invalid XML: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && strings.TrimSpace(string(t)) != "" {
				return errors.New("grader reply has text outside the root element")
			}
		}
	}
	if roots != 1 {
		return fmt.Errorf("grader reply must have one root element, found %d", roots)
	}
	return nil
}
