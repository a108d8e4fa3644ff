// Package remote defines the contract with the excluded backend layer: the
// authoritative record store and the media target that mints timed URLs.
// The engine only ever consumes these interfaces, so it is testable without
// a live network dependency.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
	"github.com/NicolaiDodeac/Instant-SOP/internal/draft"
)

var (
	ErrNotFound  = errors.New("remote: not found")
	ErrForbidden = errors.New("remote: forbidden")
)

// TransientError marks failures worth retrying on the next trigger
// (network failure, 5xx, storage quota).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried later.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UploadTarget is where captured bytes go. StoragePath is opaque: callers
// echo it back unchanged into record updates and never parse it.
type UploadTarget struct {
	UploadURL   string `json:"uploadUrl"`
	StoragePath string `json:"storagePath"`
}

// MediaTarget mints timed URLs for stored videos.
type MediaTarget interface {
	// GetPlaybackURL returns a retrievable, time-limited URL for path.
	// ErrNotFound signals the caller to fall back to a local blob.
	GetPlaybackURL(ctx context.Context, path string) (string, error)
	// GetUploadTarget validates filename server-side and returns a
	// time-limited upload URL plus the storage path to echo back.
	GetUploadTarget(ctx context.Context, filename, contentType string) (UploadTarget, error)
}

// RecordStore is the authoritative create/update/delete surface. Create
// calls return the server-issued identifier used for promotion.
type RecordStore interface {
	CreateAnnotation(ctx context.Context, a annot.Annotation) (string, error)
	UpdateAnnotation(ctx context.Context, a annot.Annotation) error
	DeleteAnnotation(ctx context.Context, id string) error
	CreateStep(ctx context.Context, s draft.Step) (string, error)
	UpdateStep(ctx context.Context, s draft.Step) error
	UpdateSopMetadata(ctx context.Context, sopID, title, description string) error
}

// Collaborator is the full remote surface the sync engine drives.
type Collaborator interface {
	MediaTarget
	RecordStore
}
