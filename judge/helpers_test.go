package judge

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/elmanelman/sql-grader/artifact"
	"github.com/elmanelman/sql-grader/config"
	"github.com/elmanelman/sql-grader/xqueue"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDatabase = "world.db"

// newWorldDB creates a small SQLite database in a temporary data directory.
func newWorldDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	db, err := sqlx.Open(sqliteDriverName, filepath.Join(dir, testDatabase))
	require.NoError(t, err)
	defer db.Close()

	db.MustExec(`CREATE TABLE city (id INTEGER PRIMARY KEY, name TEXT NOT NULL, population INTEGER)`)
	db.MustExec(`INSERT INTO city (id, name, population) VALUES
		(1, 'Riga', 605273),
		(2, 'Tartu', 91407),
		(3, 'Vilnius', 588412),
		(4, 'Kaunas & Co', 289380),
		(5, 'Tallinn <Old Town>', NULL)`)
	return dir
}

type fakeUploader struct {
	mu       sync.Mutex
	url      string
	err      error
	keys     []string
	contents [][]byte
}

func (u *fakeUploader) Upload(ctx context.Context, key string, contents []byte, contentType string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	u.keys = append(u.keys, key)
	u.contents = append(u.contents, contents)
	return u.url, nil
}

// newTestDispatcher returns a dispatcher whose sqlite backend reads from
// dataDir. It also registers "sqlite-upload", a sqlite backend with the
// upload capability, wired to uploader.
func newTestDispatcher(t *testing.T, dataDir string, uploader *fakeUploader) *Dispatcher {
	t.Helper()
	cfg := config.Default()
	cfg.Backends["sqlite"] = map[string]interface{}{"data_dir": dataDir}
	cfg.Backends["sqlite-upload"] = map[string]interface{}{"data_dir": dataDir}
	cfg.Artifacts = config.ArtifactsConfig{
		Provider:  config.ProviderS3,
		Bucket:    "results",
		Prefix:    "sql",
		AccessKey: "access",
		SecretKey: "secret",
	}

	d := NewDispatcher(&cfg, zap.NewNop())
	d.backends["sqlite-upload"] = uploadingBackend{d.backends["sqlite"].(backend)}
	d.newUploader = func(ctx context.Context, target artifact.Target) (artifact.Uploader, error) {
		if uploader == nil {
			return nil, errors.New("no uploader in test")
		}
		return uploader, nil
	}
	return d
}

func newSubmission(response string, payload map[string]interface{}) *xqueue.Submission {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, ok := payload["database"]; !ok {
		payload["database"] = testDatabase
	}
	return &xqueue.Submission{
		ID:              json.RawMessage("1"),
		Key:             "submission-key",
		StudentResponse: response,
		GraderPayload:   payload,
	}
}

// recordingEngine remembers every statement it was asked to execute.
type recordingEngine struct {
	Engine
	statements []string
}

func (e *recordingEngine) Execute(ctx context.Context, stmt string) (*ResultSet, error) {
	e.statements = append(e.statements, stmt)
	return e.Engine.Execute(ctx, stmt)
}

func newTestGrader(t *testing.T, d *Dispatcher, sub *xqueue.Submission) (*Grader, *recordingEngine) {
	t.Helper()
	g, err := d.Create(context.Background(), sub)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	rec := &recordingEngine{Engine: g.engine}
	g.engine = rec
	return g, rec
}
