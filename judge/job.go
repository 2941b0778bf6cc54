package judge

import (
	"encoding/json"
	"fmt"
	"github.com/elmanelman/sql-grader/artifact"
	"math"
	"path"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultFilename     = "results.csv"
	defaultQueryTimeout = 30 * time.Second
)

// RowLimit caps the number of rows rendered in HTML. Zero means unlimited.
type RowLimit int

// UnmarshalJSON never fails: anything that is not a positive integer
// (including "unlimited") means unlimited.
func (l *RowLimit) UnmarshalJSON(data []byte) error {
	*l = 0

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		if n >= 1 && n <= math.MaxInt32 {
			*l = RowLimit(n)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && i > 0 {
			*l = RowLimit(i)
		}
	}
	return nil
}

// Options is the merged grader configuration: backend defaults, then
// artifact credentials, then the submission's grader payload.
type Options struct {
	Backend string `json:"backend"`
	Engine  string `json:"engine"`

	Database string   `json:"database"`
	Answer   string   `json:"answer"`
	RowLimit RowLimit `json:"row_limit"`
	Filename string   `json:"filename"`

	QueryTimeoutMs int `json:"query_timeout_ms"`

	DataDir  string `json:"data_dir"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"passwd"`
	SSLMode  string `json:"sslmode"`

	ArtifactProvider string `json:"artifact_provider"`
	S3Bucket         string `json:"s3_bucket"`
	S3Prefix         string `json:"s3_prefix"`
	S3Region         string `json:"s3_region"`
	S3Endpoint       string `json:"s3_endpoint"`
	S3Secure         bool   `json:"s3_secure"`
	AWSAccessKey     string `json:"aws_access_key"`
	AWSSecretKey     string `json:"aws_secret_key"`
	URLExpiryMs      int    `json:"url_expiry_ms"`
}

func mergeOptions(layers ...map[string]interface{}) (Options, error) {
	merged := map[string]interface{}{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	var opts Options
	data, err := json.Marshal(merged)
	if err != nil {
		return opts, err
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("invalid grader options: %w", err)
	}
	return opts, nil
}

// selector returns the backend named by the payload, accepting the legacy
// "engine" key, or def when neither is set.
func selector(payload map[string]interface{}, def string) string {
	for _, key := range []string{"backend", "engine"} {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return strings.ToLower(s)
		}
	}
	return def
}

func (o Options) QueryTimeout() time.Duration {
	if o.QueryTimeoutMs <= 0 {
		return defaultQueryTimeout
	}
	return time.Duration(o.QueryTimeoutMs) * time.Millisecond
}

// ArtifactName is the file name results are uploaded under. Directories in
// the configured name are dropped.
func (o Options) ArtifactName() string {
	name := path.Base(strings.TrimSpace(o.Filename))
	if name == "" || name == "." || name == "/" {
		return DefaultFilename
	}
	return name
}

func (o Options) ArtifactTarget() artifact.Target {
	return artifact.Target{
		Provider:  o.ArtifactProvider,
		Bucket:    o.S3Bucket,
		Prefix:    o.S3Prefix,
		Region:    o.S3Region,
		Endpoint:  o.S3Endpoint,
		AccessKey: o.AWSAccessKey,
		SecretKey: o.AWSSecretKey,
		Secure:    o.S3Secure,
		URLExpiry: time.Duration(o.URLExpiryMs) * time.Millisecond,
	}
}
