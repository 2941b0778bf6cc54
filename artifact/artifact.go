// Package artifact stores graded result sets as downloadable blobs.
package artifact

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	ProviderS3    = "s3"
	ProviderMinIO = "minio"

	DefaultURLExpiry = 24 * time.Hour
	defaultRegion    = "us-east-1"
)

// Uploader stores contents under key and returns a URL it can be downloaded from.
type Uploader interface {
	Upload(ctx context.Context, key string, contents []byte, contentType string) (string, error)
}

type Target struct {
	Provider  string
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	URLExpiry time.Duration
}

func New(ctx context.Context, t Target) (Uploader, error) {
	if t.Bucket == "" {
		return nil, fmt.Errorf("artifact bucket is not configured")
	}
	if t.URLExpiry <= 0 {
		t.URLExpiry = DefaultURLExpiry
	}
	switch t.Provider {
	case ProviderS3:
		return NewS3Uploader(ctx, t)
	case ProviderMinIO:
		return NewMinIOUploader(t)
	default:
		return nil, fmt.Errorf("unknown artifact provider: %q", t.Provider)
	}
}

// HashKey derives a content-addressed path segment from identifying fields.
func HashKey(fields ...string) string {
	h := md5.New()
	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ObjectKey joins prefix, hash and file name into "{prefix}/{hash}/{name}".
func ObjectKey(prefix, hash, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(hash, name)
	}
	return path.Join(prefix, hash, name)
}
