package artifact

import (
	"bytes"
	"context"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"net/url"
	"strings"
)

type MinIOUploader struct {
	client *minio.Client
	target Target
}

func NewMinIOUploader(t Target) (*MinIOUploader, error) {
	host, secure, err := normalizeEndpoint(t.Endpoint, t.Secure)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(t.AccessKey, t.SecretKey, ""),
		Secure: secure,
		Region: t.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	return &MinIOUploader{client: client, target: t}, nil
}

// normalizeEndpoint accepts "host:port" or a URL; a URL scheme overrides secure.
func normalizeEndpoint(endpoint string, secure bool) (string, bool, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return endpoint, secure, nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("minio endpoint parse: %w", err)
	}
	return parsed.Host, parsed.Scheme == "https", nil
}

func (u *MinIOUploader) Upload(ctx context.Context, key string, contents []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, u.target.Bucket, key, bytes.NewReader(contents), int64(len(contents)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("minio upload: %w", err)
	}

	signed, err := u.client.PresignedGetObject(ctx, u.target.Bucket, key, u.target.URLExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("minio presign: %w", err)
	}
	return signed.String(), nil
}
