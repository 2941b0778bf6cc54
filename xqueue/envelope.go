package xqueue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

const (
	headerField = "xqueue_header"
	bodyField   = "xqueue_body"
)

type envelope struct {
	Header json.RawMessage `json:"xqueue_header"`
	Body   json.RawMessage `json:"xqueue_body"`
}

type submissionBody struct {
	StudentResponse string          `json:"student_response"`
	GraderPayload   json.RawMessage `json:"grader_payload"`
}

// decodeNested decodes a value the queue may deliver either inline or as a
// JSON string holding the encoded value.
func decodeNested(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return err
		}
		raw = []byte(inner)
	}
	return json.Unmarshal(raw, v)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// DecodeSubmission parses the queue's submission content: an envelope holding
// an encoded header and body, whose body holds an encoded grader payload.
func DecodeSubmission(content json.RawMessage) (*Submission, error) {
	var env envelope
	if err := decodeNested(content, &env); err != nil {
		return nil, &DecodeError{What: "submission envelope", Err: err}
	}
	if isNull(env.Header) || isNull(env.Body) {
		return nil, &DecodeError{What: "submission envelope", Err: errors.New("missing header or body")}
	}

	var header Header
	if err := decodeNested(env.Header, &header); err != nil {
		return nil, &DecodeError{What: "submission header", Err: err}
	}
	if isNull(header.SubmissionID) || header.SubmissionKey == "" {
		return nil, &DecodeError{What: "submission header", Err: errors.New("missing submission id or key")}
	}

	var body submissionBody
	if err := decodeNested(env.Body, &body); err != nil {
		return nil, &DecodeError{What: "submission body", Err: err}
	}

	payload := map[string]interface{}{}
	if !isNull(body.GraderPayload) {
		if err := decodeNested(body.GraderPayload, &payload); err != nil {
			return nil, &DecodeError{What: "grader payload", Err: err}
		}
		if payload == nil {
			payload = map[string]interface{}{}
		}
	}

	return &Submission{
		ID:              append(json.RawMessage(nil), bytes.TrimSpace(header.SubmissionID)...),
		Key:             header.SubmissionKey,
		StudentResponse: body.StudentResponse,
		GraderPayload:   payload,
	}, nil
}

// EncodeResult builds the put_result form: the header and the reply, each
// JSON-encoded into its own field.
func EncodeResult(sub *Submission, reply Reply) (url.Values, error) {
	header, err := json.Marshal(sub.Header())
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	body, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return url.Values{
		headerField: {string(header)},
		bodyField:   {string(body)},
	}, nil
}

// DecodeResult is the inverse of EncodeResult.
func DecodeResult(values url.Values) (Header, Reply, error) {
	var header Header
	var reply Reply
	if err := json.Unmarshal([]byte(values.Get(headerField)), &header); err != nil {
		return header, reply, &DecodeError{What: "result header", Err: err}
	}
	if err := json.Unmarshal([]byte(values.Get(bodyField)), &reply); err != nil {
		return header, reply, &DecodeError{What: "result body", Err: err}
	}
	return header, reply, nil
}

// parseReply unwraps a queue response. It accepts {return_code, content}
// (0 means success) and {success, ...} (the whole object is the content).
func parseReply(data []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &DecodeError{What: "xqueue reply", Err: err}
	}

	var ok bool
	var content json.RawMessage
	if raw, found := fields["return_code"]; found {
		var code int
		if err := json.Unmarshal(raw, &code); err != nil {
			return nil, &DecodeError{What: "xqueue reply", Err: errors.New("invalid return code")}
		}
		ok = code == 0
		content = fields["content"]
	} else if raw, found := fields["success"]; found {
		if err := json.Unmarshal(raw, &ok); err != nil {
			return nil, &DecodeError{What: "xqueue reply", Err: errors.New("invalid return code")}
		}
		content = json.RawMessage(data)
	} else {
		return nil, &DecodeError{What: "xqueue reply", Err: errors.New("cannot find a valid success or return code")}
	}

	if !ok {
		return content, fmt.Errorf("%w: %s", ErrRejected, contentText(content))
	}
	return content, nil
}

// contentText renders reply content as plain text for messages and logs.
func contentText(content json.RawMessage) string {
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}
	return string(content)
}
