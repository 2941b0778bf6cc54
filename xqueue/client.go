package xqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/elmanelman/sql-grader/config"
	"go.uber.org/zap"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const (
	loginPath         = "/xqueue/login/"
	queueLengthPath   = "/xqueue/get_queuelen/"
	getSubmissionPath = "/xqueue/get_submission/"
	putResultPath     = "/xqueue/put_result/"
)

// Client holds an authenticated session with one queue. It is not safe for
// concurrent use: at most one request is in flight per client.
type Client struct {
	logger *zap.Logger

	queueName string
	baseURL   string
	username  string
	password  string

	http *http.Client
}

// New creates a client and logs in. A failed initial login is logged and
// recovered later by the session-expiry path.
func New(ctx context.Context, cfg config.XQueueConfig, logger *zap.Logger) (*Client, error) {
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid xqueue url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		logger:    logger.With(zap.String("queue_name", cfg.QueueName)),
		queueName: cfg.QueueName,
		baseURL:   strings.TrimSuffix(cfg.URL, "/"),
		username:  cfg.Username,
		password:  cfg.Password,
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout(),
		},
	}

	if _, err := c.Login(ctx); err != nil {
		c.logger.Warn("initial xqueue login failed", zap.Error(err))
	}
	return c, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

// Login posts the credentials and returns the queue's message on success.
func (c *Client) Login(ctx context.Context) (string, error) {
	defer observeRequest("login", time.Now())

	u, status, body, err := c.send(ctx, http.MethodPost, loginPath, url.Values{
		"username": {c.username},
		"password": {c.password},
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &StatusError{URL: u, StatusCode: status}
	}

	content, err := parseReply(body)
	if err != nil {
		return "", err
	}
	return contentText(content), nil
}

// QueueLength returns the number of submissions waiting in the queue.
func (c *Client) QueueLength(ctx context.Context) (int, error) {
	content, err := c.get(ctx, queueLengthPath)
	if err != nil {
		return 0, err
	}
	var n int
	if err := decodeNested(content, &n); err != nil {
		return 0, &DecodeError{What: "queue length", Err: err}
	}
	return n, nil
}

// GetSubmission fetches one submission. It returns ErrEmptyQueue without
// fetching when the queue is empty; any other error means no usable
// submission was obtained this cycle.
func (c *Client) GetSubmission(ctx context.Context) (*Submission, error) {
	start := time.Now()

	n, err := c.QueueLength(ctx)
	if err != nil {
		c.logger.Warn("could not get queue length", zap.Error(err))
		return nil, err
	}
	if n <= 0 {
		return nil, ErrEmptyQueue
	}

	content, err := c.get(ctx, getSubmissionPath)
	if err != nil {
		c.logger.Error("could not fetch submission", zap.Error(err))
		return nil, err
	}

	sub, err := DecodeSubmission(content)
	if err != nil {
		c.logger.Error(
			"unexpected reply from server",
			zap.ByteString("content", content),
			zap.Error(err),
		)
		return nil, err
	}

	observeRequest("get_submission", start)
	c.logger.Info(
		"fetched submission from queue",
		zap.String("submission_id", sub.IDString()),
		zap.Float64("elapsed_ms", msSince(start)),
	)
	return sub, nil
}

// PutResult posts the reply for sub and returns the queue's message.
func (c *Client) PutResult(ctx context.Context, sub *Submission, reply Reply) (string, error) {
	start := time.Now()
	defer observeRequest("put_result", start)

	form, err := EncodeResult(sub, reply)
	if err != nil {
		return "", err
	}

	body, err := c.exchange(ctx, http.MethodPost, putResultPath, form)
	if err != nil {
		c.logger.Error("could not put result", zap.String("submission_id", sub.IDString()), zap.Error(err))
		return "", err
	}
	content, err := parseReply(body)
	if err != nil {
		return "", err
	}

	c.logger.Info(
		"put result to queue",
		zap.String("submission_id", sub.IDString()),
		zap.Float64("elapsed_ms", msSince(start)),
	)
	return contentText(content), nil
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.exchange(ctx, http.MethodGet, path, url.Values{"queue_name": {c.queueName}})
	if err != nil {
		return nil, err
	}
	return parseReply(body)
}

// exchange performs one logical request with session recovery: a 403
// triggers one re-login followed by one retry.
func (c *Client) exchange(ctx context.Context, method, path string, data url.Values) ([]byte, error) {
	u, status, body, err := c.send(ctx, method, path, data)
	if err != nil {
		return nil, err
	}

	if status == http.StatusForbidden {
		if _, err := c.Login(ctx); err != nil {
			c.logger.Warn("xqueue re-login failed", zap.Error(err))
		}
		if status, body, err = c.do(ctx, method, u, data); err != nil {
			return nil, err
		}
	}

	if status != http.StatusOK {
		return nil, &StatusError{URL: u, StatusCode: status}
	}
	return body, nil
}

// send issues one request to path. A 500 on a trailing-slash URL is retried
// once without the slash; the URL that produced the response is returned.
func (c *Client) send(ctx context.Context, method, path string, data url.Values) (string, int, []byte, error) {
	u := c.endpoint(path)
	status, body, err := c.do(ctx, method, u, data)
	if err != nil {
		return u, 0, nil, err
	}

	if status == http.StatusInternalServerError && strings.HasSuffix(u, "/") {
		u = strings.TrimSuffix(u, "/")
		status, body, err = c.do(ctx, method, u, data)
	}
	return u, status, body, err
}

func (c *Client) do(ctx context.Context, method, u string, data url.Values) (int, []byte, error) {
	var req *http.Request
	var err error
	switch method {
	case http.MethodGet:
		req, err = http.NewRequestWithContext(ctx, method, u+"?"+data.Encode(), nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, u, strings.NewReader(data.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return 0, nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("could not connect to server at %s in timeout=%s: %w", u, c.http.Timeout, err)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("could not read response from %s: %w", u, err)
	}
	return resp.StatusCode, body, nil
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
