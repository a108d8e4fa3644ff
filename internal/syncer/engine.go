// Package syncer drives pending uploads to completion and reconciles
// locally-created identifiers with server-issued ones. It owns the retry
// policy: retries happen on reconnection or explicit user action, never in
// an internal loop.
package syncer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
	"github.com/NicolaiDodeac/Instant-SOP/internal/draft"
	"github.com/NicolaiDodeac/Instant-SOP/internal/remote"
	"github.com/NicolaiDodeac/Instant-SOP/internal/urlcache"
	"github.com/NicolaiDodeac/Instant-SOP/internal/util"
)

type UploadState string

const (
	StatePending   UploadState = "pending"
	StateUploading UploadState = "uploading"
	StateUploaded  UploadState = "uploaded"
	StateFailed    UploadState = "failed"
)

// UploadStatus is the non-blocking progress surface for one step's video.
// Progress is a fraction in [0,1].
type UploadStatus struct {
	StepID   string      `json:"stepId"`
	SopID    string      `json:"sopId"`
	State    UploadState `json:"state"`
	Progress float64     `json:"progress"`
	Error    string      `json:"error,omitempty"`
}

// PromoteFunc atomically swaps a local identifier for the server-issued one
// everywhere the caller holds references (store, gesture, selection).
type PromoteFunc func(oldID, newID string) error

// StoredFunc is invoked once a blob is durably stored remotely, so the
// owning step's persistent video reference can be updated. storagePath is
// echoed from the upload target unchanged.
type StoredFunc func(ctx context.Context, sopID, stepID, storagePath string) error

type blobStore interface {
	PutBlob(ctx context.Context, stepID, sopID, contentType string, data []byte) error
	GetBlob(ctx context.Context, stepID string) (draft.PendingUpload, bool, error)
	MarkUploaded(ctx context.Context, stepID string, revision int64) (bool, error)
	ListPending(ctx context.Context) ([]draft.PendingUpload, error)
}

// Engine reconciles local edits with the remote collaborator. It never owns
// annotation data: it reads snapshots to push and hands back promotions.
type Engine struct {
	drafts blobStore
	collab remote.Collaborator
	urls   *urlcache.Cache
	http   *resty.Client

	playbackTTL time.Duration
	onStored    StoredFunc

	mu       sync.Mutex
	online   bool
	statuses map[string]UploadStatus
	subs     []func(UploadStatus)
}

func New(drafts *draft.Store, collab remote.Collaborator, urls *urlcache.Cache, playbackTTL time.Duration) *Engine {
	return &Engine{
		drafts:      drafts,
		collab:      collab,
		urls:        urls,
		http:        resty.New().SetTimeout(5 * time.Minute),
		playbackTTL: playbackTTL,
		statuses:    make(map[string]UploadStatus),
	}
}

// SetOnStored registers the step-reference updater.
func (e *Engine) SetOnStored(fn StoredFunc) { e.onStored = fn }

// Subscribe registers a status listener for the presentation layer.
func (e *Engine) Subscribe(fn func(UploadStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline flips connectivity. Coming online runs a sync pass over all
// pending blobs; going offline stops nothing in flight (stale results are
// discarded by revision).
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()
	if online && !was {
		if err := e.SyncPending(ctx); err != nil {
			log.Printf("sync pass after reconnect: %v", err)
		}
	}
}

func (e *Engine) setStatus(s UploadStatus) {
	e.mu.Lock()
	e.statuses[s.StepID] = s
	subs := make([]func(UploadStatus), len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Statuses returns a snapshot of every tracked upload.
func (e *Engine) Statuses() []UploadStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]UploadStatus, 0, len(e.statuses))
	for _, s := range e.statuses {
		out = append(out, s)
	}
	return out
}

// QueueVideo persists the captured blob locally first, so no network
// failure can lose already-recorded footage, then attempts the upload if
// online.
func (e *Engine) QueueVideo(ctx context.Context, sopID, stepID, contentType string, data []byte) error {
	if err := e.drafts.PutBlob(ctx, stepID, sopID, contentType, data); err != nil {
		return err
	}
	e.setStatus(UploadStatus{StepID: stepID, SopID: sopID, State: StatePending})
	if !e.Online() {
		return nil
	}
	p, ok, err := e.drafts.GetBlob(ctx, stepID)
	if err != nil || !ok {
		return err
	}
	return e.uploadOne(ctx, p)
}

// Retry re-attempts one failed upload on explicit user action.
func (e *Engine) Retry(ctx context.Context, stepID string) error {
	if !e.Online() {
		return fmt.Errorf("cannot retry while offline")
	}
	p, ok, err := e.drafts.GetBlob(ctx, stepID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no pending video for step %s", stepID)
	}
	if p.Uploaded {
		return nil
	}
	return e.uploadOne(ctx, p)
}

// SyncPending pushes every not-yet-uploaded blob. Per-item failures are
// recorded on the item and do not abort the pass.
func (e *Engine) SyncPending(ctx context.Context) error {
	pending, err := e.drafts.ListPending(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, p := range pending {
		if err := e.uploadOne(ctx, p); err != nil {
			log.Printf("upload for step %s: %v", p.StepID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) uploadOne(ctx context.Context, p draft.PendingUpload) error {
	e.setStatus(UploadStatus{StepID: p.StepID, SopID: p.SopID, State: StateUploading})

	filename := p.StepID + extForContentType(p.ContentType)
	target, err := e.collab.GetUploadTarget(ctx, filename, p.ContentType)
	if err != nil {
		e.setStatus(UploadStatus{StepID: p.StepID, SopID: p.SopID, State: StateFailed, Error: err.Error()})
		return err
	}

	reader := &progressReader{
		r:     bytes.NewReader(p.Data),
		total: int64(len(p.Data)),
		onProgress: func(frac float64) {
			e.setStatus(UploadStatus{StepID: p.StepID, SopID: p.SopID, State: StateUploading, Progress: frac})
		},
	}
	resp, err := e.http.R().SetContext(ctx).
		SetHeader("Content-Type", p.ContentType).
		SetContentLength(true).
		SetBody(reader).
		Put(target.UploadURL)
	if err != nil || resp.IsError() {
		if err == nil {
			err = fmt.Errorf("upload: %s", resp.Status())
		}
		e.setStatus(UploadStatus{StepID: p.StepID, SopID: p.SopID, State: StateFailed, Error: err.Error()})
		return &remote.TransientError{Op: "upload", Err: err}
	}

	changed, err := e.drafts.MarkUploaded(ctx, p.StepID, p.Revision)
	if err != nil {
		return err
	}
	if !changed {
		// blob was replaced mid-flight; discard this result and hand the
		// status back to the replacement blob
		log.Printf("discarding stale upload result for step %s (revision %d)", p.StepID, p.Revision)
		e.setStatus(UploadStatus{StepID: p.StepID, SopID: p.SopID, State: StatePending})
		return nil
	}
	if e.onStored != nil {
		if err := e.onStored(ctx, p.SopID, p.StepID, target.StoragePath); err != nil {
			return err
		}
	}
	e.setStatus(UploadStatus{StepID: p.StepID, SopID: p.SopID, State: StateUploaded, Progress: 1})
	return nil
}

// PushAnnotation sends one annotation to the authoritative store. A local
// id is created remotely and promoted via promote; a server id is updated
// in place. Offline, the call is a no-op (the draft store already holds
// the mutation).
func (e *Engine) PushAnnotation(ctx context.Context, a annot.Annotation, promote PromoteFunc) error {
	if !e.Online() {
		return nil
	}
	if util.IsLocalID(a.ID) {
		newID, err := e.collab.CreateAnnotation(ctx, a)
		if err != nil {
			return err
		}
		return promote(a.ID, newID)
	}
	return e.collab.UpdateAnnotation(ctx, a)
}

// PushAnnotationDelete mirrors a local removal. An annotation the server
// never saw needs no call.
func (e *Engine) PushAnnotationDelete(ctx context.Context, id string) error {
	if !e.Online() || util.IsLocalID(id) {
		return nil
	}
	return e.collab.DeleteAnnotation(ctx, id)
}

// PushStep creates or updates a step remotely, promoting local step ids.
func (e *Engine) PushStep(ctx context.Context, s draft.Step, promote PromoteFunc) error {
	if !e.Online() {
		return nil
	}
	if util.IsLocalID(s.ID) {
		newID, err := e.collab.CreateStep(ctx, s)
		if err != nil {
			return err
		}
		return promote(s.ID, newID)
	}
	return e.collab.UpdateStep(ctx, s)
}

// PushSopMetadata mirrors title/description edits.
func (e *Engine) PushSopMetadata(ctx context.Context, sopID, title, description string) error {
	if !e.Online() {
		return nil
	}
	return e.collab.UpdateSopMetadata(ctx, sopID, title, description)
}

// PlaybackURL resolves a timed URL for a stored video, consulting the
// cache first. remote.ErrNotFound propagates so the caller can serve the
// local blob if one still exists.
func (e *Engine) PlaybackURL(ctx context.Context, storagePath string) (string, error) {
	if e.urls != nil {
		if url, ok, err := e.urls.Get(ctx, storagePath); err == nil && ok {
			return url, nil
		}
	}
	url, err := e.collab.GetPlaybackURL(ctx, storagePath)
	if err != nil {
		return "", err
	}
	if e.urls != nil {
		if err := e.urls.Put(ctx, storagePath, url, e.playbackTTL); err != nil {
			log.Printf("cache playback url: %v", err)
		}
	}
	return url, nil
}

func extForContentType(contentType string) string {
	switch contentType {
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	case "video/x-m4v":
		return ".m4v"
	default:
		return ".mp4"
	}
}

type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(float64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.read += int64(n)
	if pr.total > 0 && pr.onProgress != nil {
		pr.onProgress(float64(pr.read) / float64(pr.total))
	}
	return n, err
}
