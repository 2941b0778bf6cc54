package judge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/elmanelman/sql-grader/xqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQueue struct {
	mu          sync.Mutex
	submissions []*xqueue.Submission
	fetchErr    error
	putErr      error
	fetches     int
	replies     []xqueue.Reply
}

func (q *fakeQueue) GetSubmission(ctx context.Context) (*xqueue.Submission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fetches++
	if q.fetchErr != nil {
		return nil, q.fetchErr
	}
	if len(q.submissions) == 0 {
		return nil, xqueue.ErrEmptyQueue
	}
	sub := q.submissions[0]
	q.submissions = q.submissions[1:]
	return sub, nil
}

func (q *fakeQueue) PutResult(ctx context.Context, sub *xqueue.Submission, reply xqueue.Reply) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replies = append(q.replies, reply)
	return "", q.putErr
}

func (q *fakeQueue) snapshot() (int, []xqueue.Reply) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetches, append([]xqueue.Reply(nil), q.replies...)
}

func newTestDaemon(t *testing.T, q Queue) *Daemon {
	t.Helper()
	d := newTestDispatcher(t, newWorldDB(t), nil)
	return NewDaemon(zap.NewNop(), q, d, 10*time.Millisecond, new(sync.WaitGroup))
}

func TestPollEmptyQueue(t *testing.T) {
	q := &fakeQueue{}
	daemon := newTestDaemon(t, q)

	assert.False(t, daemon.Poll(context.Background()))
	_, replies := q.snapshot()
	assert.Empty(t, replies)
}

func TestPollFetchError(t *testing.T) {
	q := &fakeQueue{fetchErr: &xqueue.StatusError{URL: "http://xqueue", StatusCode: 502}}
	daemon := newTestDaemon(t, q)

	assert.False(t, daemon.Poll(context.Background()))
	_, replies := q.snapshot()
	assert.Empty(t, replies)
}

func TestPollGradesAndReplies(t *testing.T) {
	q := &fakeQueue{submissions: []*xqueue.Submission{
		newSubmission("SELECT name FROM city WHERE id = 1", map[string]interface{}{"answer": "SELECT 'Riga'"}),
	}}
	daemon := newTestDaemon(t, q)

	assert.True(t, daemon.Poll(context.Background()))
	_, replies := q.snapshot()
	require.Len(t, replies, 1)
	assert.True(t, replies[0].Correct)
	assert.Equal(t, 1, replies[0].Score)
	assert.Contains(t, replies[0].Msg, "<td>Riga</td>")
}

func TestPollUnknownBackendSendsFailReply(t *testing.T) {
	q := &fakeQueue{submissions: []*xqueue.Submission{
		newSubmission("SELECT 1", map[string]interface{}{"backend": "mongodb"}),
	}}
	daemon := newTestDaemon(t, q)

	assert.True(t, daemon.Poll(context.Background()))
	_, replies := q.snapshot()
	require.Len(t, replies, 1)
	assert.Equal(t, FailReply(daemon.ID()), replies[0])
	assert.Contains(t, replies[0].Msg, "contact course staff")
}

func TestPollReplyFailureIsNotFatal(t *testing.T) {
	q := &fakeQueue{
		putErr:      errors.New("connection reset"),
		submissions: []*xqueue.Submission{newSubmission("SELECT 1", nil), newSubmission("SELECT 2", nil)},
	}
	daemon := newTestDaemon(t, q)

	assert.True(t, daemon.Poll(context.Background()))
	assert.True(t, daemon.Poll(context.Background()))
	_, replies := q.snapshot()
	assert.Len(t, replies, 2)
}

func TestCheckReplyRejectsInvalidReply(t *testing.T) {
	daemon := newTestDaemon(t, &fakeQueue{})
	sub := newSubmission("SELECT 1", nil)

	valid := xqueue.Reply{Correct: true, Score: 1, Msg: "<p>ok</p>", GraderID: "sqlite-1"}
	assert.Equal(t, valid, daemon.checkReply(sub, valid))

	invalid := xqueue.Reply{Correct: true, Score: 1, Msg: "<p>a & b</p>", GraderID: "sqlite-1"}
	assert.Equal(t, FailReply(daemon.ID()), daemon.checkReply(sub, invalid))
}

func TestHandleSubmissionKeepsGradeForUnprintableResults(t *testing.T) {
	daemon := newTestDaemon(t, &fakeQueue{})

	for _, stmt := range []string{"SELECT x'ff'", "SELECT char(7)", "SELECT char(1) || x'c3'"} {
		reply := daemon.HandleSubmission(context.Background(), newSubmission(stmt, map[string]interface{}{"answer": stmt}))
		assert.True(t, reply.Correct, stmt)
		assert.Equal(t, 1, reply.Score, stmt)
		assert.NotEqual(t, FailReply(daemon.ID()).Msg, reply.Msg, stmt)
	}
}

func TestDaemonStartStop(t *testing.T) {
	q := &fakeQueue{submissions: []*xqueue.Submission{newSubmission("SELECT 1", nil)}}
	wg := new(sync.WaitGroup)
	daemon := NewDaemon(zap.NewNop(), q, newTestDispatcher(t, newWorldDB(t), nil), 5*time.Millisecond, wg)

	daemon.Start()
	require.Eventually(t, func() bool {
		fetches, replies := q.snapshot()
		return fetches >= 3 && len(replies) == 1
	}, 2*time.Second, 5*time.Millisecond)

	daemon.Stop()
	daemon.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
