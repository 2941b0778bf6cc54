package xqueue

import (
	"encoding/json"
	"strings"
)

// Submission is one unit of work fetched from the queue. ID is kept verbatim
// so that it is echoed back to the queue exactly as it was received.
type Submission struct {
	ID              json.RawMessage
	Key             string
	StudentResponse string
	GraderPayload   map[string]interface{}
}

func (s *Submission) IDString() string {
	return strings.Trim(string(s.ID), `"`)
}

func (s *Submission) Header() Header {
	return Header{
		SubmissionID:  s.ID,
		SubmissionKey: s.Key,
	}
}

type Header struct {
	SubmissionID  json.RawMessage `json:"submission_id"`
	SubmissionKey string          `json:"submission_key"`
}

// Reply is the grading result posted back for a submission. Msg must be a
// single-root XML fragment.
type Reply struct {
	Correct  bool   `json:"correct"`
	Score    int    `json:"score"`
	Msg      string `json:"msg"`
	GraderID string `json:"grader_id"`
}
