// Package media implements the media half of the remote collaborator
// directly against S3-compatible object storage, for deployments where the
// engine signs its own upload and playback URLs instead of asking the
// backend for them.
package media

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/NicolaiDodeac/Instant-SOP/internal/remote"
	"github.com/NicolaiDodeac/Instant-SOP/internal/util"
)

var allowedExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".webm": {},
	".m4v":  {},
}

type Config struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	UseSSL      bool
	UploadTTL   time.Duration
	PlaybackTTL time.Duration
}

// MinioTarget issues presigned PUT/GET URLs. It implements
// remote.MediaTarget.
type MinioTarget struct {
	client *minio.Client
	cfg    Config
}

func NewMinioTarget(cfg Config) (*MinioTarget, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if cfg.UploadTTL <= 0 {
		cfg.UploadTTL = 15 * time.Minute
	}
	if cfg.PlaybackTTL <= 0 {
		cfg.PlaybackTTL = time.Hour
	}
	return &MinioTarget{client: client, cfg: cfg}, nil
}

// ValidateFilename rejects path traversal and non-whitelisted extensions.
func ValidateFilename(filename string) error {
	name := strings.TrimSpace(filename)
	if name == "" {
		return fmt.Errorf("filename is required")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("filename must not contain path separators")
	}
	ext := strings.ToLower(path.Ext(name))
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("extension %q is not allowed", ext)
	}
	return nil
}

// GetUploadTarget presigns a PUT for a fresh object key. The key embeds a
// random component so re-captures never overwrite each other.
func (t *MinioTarget) GetUploadTarget(ctx context.Context, filename, contentType string) (remote.UploadTarget, error) {
	if err := ValidateFilename(filename); err != nil {
		return remote.UploadTarget{}, err
	}
	key := fmt.Sprintf("videos/%s/%s", util.NewID(""), filename)
	u, err := t.client.PresignedPutObject(ctx, t.cfg.Bucket, key, t.cfg.UploadTTL)
	if err != nil {
		return remote.UploadTarget{}, &remote.TransientError{Op: "presign put", Err: err}
	}
	return remote.UploadTarget{UploadURL: u.String(), StoragePath: key}, nil
}

// GetPlaybackURL presigns a GET for an existing object. A missing object
// maps to remote.ErrNotFound so the caller can fall back to a local blob.
func (t *MinioTarget) GetPlaybackURL(ctx context.Context, storagePath string) (string, error) {
	_, err := t.client.StatObject(ctx, t.cfg.Bucket, storagePath, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		switch errResp.Code {
		case "NoSuchKey", "NoSuchBucket":
			return "", remote.ErrNotFound
		case "AccessDenied":
			return "", remote.ErrForbidden
		}
		return "", &remote.TransientError{Op: "stat object", Err: err}
	}
	u, err := t.client.PresignedGetObject(ctx, t.cfg.Bucket, storagePath, t.cfg.PlaybackTTL, url.Values{})
	if err != nil {
		return "", &remote.TransientError{Op: "presign get", Err: err}
	}
	return u.String(), nil
}
