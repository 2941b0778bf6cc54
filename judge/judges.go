package judge

import (
	"context"
	"errors"
	"github.com/elmanelman/sql-grader/xqueue"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"os"
	"sync"
	"time"
)

// Queue is the work source and result sink the daemon polls.
type Queue interface {
	GetSubmission(ctx context.Context) (*xqueue.Submission, error)
	PutResult(ctx context.Context, sub *xqueue.Submission, reply xqueue.Reply) (string, error)
}

// Daemon polls the queue and grades one submission at a time.
type Daemon struct {
	id     string
	logger *zap.Logger

	queue        Queue
	dispatcher   *Dispatcher
	pollInterval time.Duration

	waitGroup *sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewDaemon(
	logger *zap.Logger,
	queue Queue,
	dispatcher *Dispatcher,
	pollInterval time.Duration,
	wg *sync.WaitGroup,
) *Daemon {
	host, _ := os.Hostname()
	if host == "" {
		host = "grader"
	}
	id := host + "-" + uuid.NewString()

	return &Daemon{
		id:           id,
		logger:       logger.With(zap.String("daemon_id", id)),
		queue:        queue,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		waitGroup:    wg,
		stop:         make(chan struct{}),
	}
}

func (d *Daemon) ID() string {
	return d.id
}

func (d *Daemon) Start() {
	d.waitGroup.Add(1)
	go d.run()
}

// Stop asks the loop to exit. A submission being graded is finished and
// replied to first.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}

func (d *Daemon) run() {
	defer func() {
		d.logger.Info("stopped grader daemon")
		d.waitGroup.Done()
	}()
	d.logger.Info("started grader daemon", zap.Duration("poll_interval", d.pollInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-timer.C:
			d.Poll(context.Background())
			timer.Reset(d.pollInterval)
		}
	}
}

// Poll runs one fetch, grade, reply cycle. It reports whether a submission
// was handled.
func (d *Daemon) Poll(ctx context.Context) bool {
	sub, err := d.queue.GetSubmission(ctx)
	if err != nil {
		if errors.Is(err, xqueue.ErrEmptyQueue) {
			d.logger.Debug("queue is empty")
		}
		return false
	}

	reply := d.HandleSubmission(ctx, sub)
	d.sendReply(ctx, sub, reply)
	return true
}

// HandleSubmission grades sub, falling back to a reply that asks the
// learner to contact course staff when no valid grade can be produced.
func (d *Daemon) HandleSubmission(ctx context.Context, sub *xqueue.Submission) xqueue.Reply {
	grader, err := d.dispatcher.Create(ctx, sub)
	if err != nil {
		submissionsTotal.WithLabelValues(OutcomeFailed).Inc()
		return FailReply(d.id)
	}
	defer func() {
		if err := grader.Close(); err != nil {
			d.logger.Warn("could not close grader", zap.String("grader_id", grader.ID()), zap.Error(err))
		}
	}()

	return d.checkReply(sub, grader.Grade(ctx, sub))
}

// checkReply passes reply through when the consumer can parse it and
// substitutes the fallback reply otherwise.
func (d *Daemon) checkReply(sub *xqueue.Submission, reply xqueue.Reply) xqueue.Reply {
	if err := ValidateReply(reply); err != nil {
		d.logger.Error(
			"invalid grader reply",
			zap.String("submission_id", sub.IDString()),
			zap.String("msg", reply.Msg),
			zap.Error(err),
		)
		submissionsTotal.WithLabelValues(OutcomeFailed).Inc()
		return FailReply(d.id)
	}
	return reply
}

func (d *Daemon) sendReply(ctx context.Context, sub *xqueue.Submission, reply xqueue.Reply) {
	if _, err := d.queue.PutResult(ctx, sub, reply); err != nil {
		d.logger.Error(
			"error posting reply",
			zap.String("submission_id", sub.IDString()),
			zap.Error(err),
		)
	}
}
