package judge

import (
	"context"
	"errors"
	"github.com/elmanelman/sql-grader/artifact"
	"github.com/elmanelman/sql-grader/xqueue"
	"go.uber.org/zap"
	"time"
)

const csvContentType = "text/csv"

// Grader executes a student's statement and the reference answer against
// one engine and compares the results.
type Grader struct {
	id     string
	logger *zap.Logger

	engine   Engine
	uploader artifact.Uploader
	opts     Options
}

func (g *Grader) ID() string {
	return g.id
}

func (g *Grader) Close() error {
	return g.engine.Close()
}

// Grade always returns a reply; query failures become messages.
func (g *Grader) Grade(ctx context.Context, sub *xqueue.Submission) xqueue.Reply {
	start := time.Now()
	reply := xqueue.Reply{GraderID: g.id}
	outcome := OutcomeIncorrect
	defer func() {
		elapsed := time.Since(start)
		gradeDuration.Observe(elapsed.Seconds())
		submissionsTotal.WithLabelValues(outcome).Inc()
		g.logger.Info(
			"submission graded",
			zap.String("outcome", outcome),
			zap.Bool("correct", reply.Correct),
			zap.Int("score", reply.Score),
			zap.Duration("elapsed", elapsed),
		)
	}()

	student, err := g.execute(ctx, sub.StudentResponse)
	if err != nil {
		outcome = OutcomeStudentError
		reply.Msg = finalizeMessage(studentErrorMessage(asQueryError(sub.StudentResponse, err)))
		return reply
	}

	var msg string
	if g.opts.Answer == "" {
		outcome = OutcomeSandbox
		reply.Correct = true
		msg = sandboxMessage(renderTable(student, g.opts.RowLimit))
	} else {
		reference, err := g.execute(ctx, g.opts.Answer)
		if err != nil {
			outcome = OutcomeReferenceError
			g.logger.Error("reference query failed", zap.String("answer", g.opts.Answer), zap.Error(err))
			reply.Msg = finalizeMessage(referenceErrorMessage(asQueryError(g.opts.Answer, err)))
			return reply
		}

		if student.Equal(reference) {
			outcome = OutcomeCorrect
			reply.Correct = true
			reply.Score = 1
			msg = correctMessage(renderTable(reference, g.opts.RowLimit))
		} else {
			msg = mismatchMessage(
				renderTable(reference, g.opts.RowLimit),
				renderTable(student, g.opts.RowLimit),
			)
		}
	}

	if reply.Correct {
		msg += g.uploadResults(ctx, sub, student)
	}
	reply.Msg = finalizeMessage(msg)
	return reply
}

func (g *Grader) execute(ctx context.Context, stmt string) (*ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.QueryTimeout())
	defer cancel()
	return g.engine.Execute(ctx, stmt)
}

// uploadResults stores the complete student result set and returns the
// message fragment to append. Failures never change the grade.
func (g *Grader) uploadResults(ctx context.Context, sub *xqueue.Submission, rs *ResultSet) string {
	if g.uploader == nil {
		return ""
	}

	name := g.opts.ArtifactName()
	contents, err := toCSV(rs)
	if err != nil {
		g.logger.Warn("could not serialize results", zap.Error(err))
		return uploadFailedMessage
	}

	key := artifact.ObjectKey(g.opts.S3Prefix, artifact.HashKey(sub.IDString(), sub.Key, sub.StudentResponse), name)
	url, err := g.uploader.Upload(ctx, key, contents, csvContentType)
	if err != nil {
		g.logger.Warn("could not upload results", zap.String("key", key), zap.Error(err))
		return uploadFailedMessage
	}
	return downloadMessage(url, name)
}

func asQueryError(stmt string, err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return &QueryError{Statement: stmt, Message: err.Error()}
}
