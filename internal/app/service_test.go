package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
	"github.com/NicolaiDodeac/Instant-SOP/internal/config"
	"github.com/NicolaiDodeac/Instant-SOP/internal/draft"
	"github.com/NicolaiDodeac/Instant-SOP/internal/gesture"
	"github.com/NicolaiDodeac/Instant-SOP/internal/remote"
	"github.com/NicolaiDodeac/Instant-SOP/internal/syncer"
	"github.com/NicolaiDodeac/Instant-SOP/internal/util"
)

type fakeCollab struct {
	createAnnotationFn func(ctx context.Context, a annot.Annotation) (string, error)
	createStepFn       func(ctx context.Context, s draft.Step) (string, error)
	getPlaybackURLFn   func(ctx context.Context, path string) (string, error)
	getUploadTargetFn  func(ctx context.Context, filename, contentType string) (remote.UploadTarget, error)
}

func (f *fakeCollab) GetUploadTarget(ctx context.Context, filename, contentType string) (remote.UploadTarget, error) {
	if f.getUploadTargetFn != nil {
		return f.getUploadTargetFn(ctx, filename, contentType)
	}
	return remote.UploadTarget{}, remote.ErrNotFound
}
func (f *fakeCollab) GetPlaybackURL(ctx context.Context, path string) (string, error) {
	if f.getPlaybackURLFn != nil {
		return f.getPlaybackURLFn(ctx, path)
	}
	return "", remote.ErrNotFound
}
func (f *fakeCollab) CreateAnnotation(ctx context.Context, a annot.Annotation) (string, error) {
	if f.createAnnotationFn != nil {
		return f.createAnnotationFn(ctx, a)
	}
	return "ann_server", nil
}
func (f *fakeCollab) UpdateAnnotation(context.Context, annot.Annotation) error { return nil }
func (f *fakeCollab) DeleteAnnotation(context.Context, string) error          { return nil }
func (f *fakeCollab) CreateStep(ctx context.Context, s draft.Step) (string, error) {
	if f.createStepFn != nil {
		return f.createStepFn(ctx, s)
	}
	return "step_server", nil
}
func (f *fakeCollab) UpdateStep(context.Context, draft.Step) error { return nil }
func (f *fakeCollab) UpdateSopMetadata(context.Context, string, string, string) error {
	return nil
}

func setupService(t *testing.T, collab remote.Collaborator) (*Service, *draft.Store) {
	t.Helper()
	drafts, err := draft.Open(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatalf("draft store: %v", err)
	}
	t.Cleanup(func() { _ = drafts.Close() })
	engine := syncer.New(drafts, collab, nil, time.Hour)
	return New(config.Config{}, drafts, engine), drafts
}

func TestOpenUnknownDocumentStartsEmpty(t *testing.T) {
	svc, _ := setupService(t, &fakeCollab{})
	res, err := svc.Open(context.Background(), "sop-1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning %q", res.Warning)
	}
	if res.Document.ID != "sop-1" || len(res.Document.Steps) != 0 {
		t.Fatalf("expected empty document, got %+v", res.Document)
	}
}

func TestOpenCorruptDraftDegradesWithWarning(t *testing.T) {
	svc, drafts := setupService(t, &fakeCollab{})
	ctx := context.Background()
	_, err := drafts.DB.ExecContext(ctx,
		`INSERT INTO drafts (id, payload, updated_at) VALUES (?, ?, ?)`,
		"sop-1", "{not json", time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("seed corrupt draft: %v", err)
	}

	res, err := svc.Open(ctx, "sop-1")
	if err != nil {
		t.Fatalf("Open should degrade, not fail: %v", err)
	}
	if res.Warning == "" {
		t.Fatal("expected a warning for the corrupt draft")
	}
	if len(res.Document.Steps) != 0 {
		t.Fatalf("expected empty document, got %d steps", len(res.Document.Steps))
	}
}

func TestCreateStepOfflineKeepsLocalID(t *testing.T) {
	svc, drafts := setupService(t, &fakeCollab{})
	ctx := context.Background()

	step, err := svc.CreateStep(ctx, "sop-1", "Check valve", "Close it fully")
	if err != nil {
		t.Fatalf("CreateStep failed: %v", err)
	}
	if !util.IsLocalID(step.ID) {
		t.Fatalf("expected local id offline, got %s", step.ID)
	}
	doc, ok, err := drafts.Load(ctx, "sop-1")
	if err != nil || !ok {
		t.Fatalf("draft not persisted: ok=%v err=%v", ok, err)
	}
	if len(doc.Steps) != 1 || doc.Steps[0].ID != step.ID {
		t.Fatalf("persisted draft mismatch: %+v", doc.Steps)
	}
}

func TestCreateStepOnlinePromotesID(t *testing.T) {
	collab := &fakeCollab{
		createStepFn: func(_ context.Context, s draft.Step) (string, error) {
			return "step_77", nil
		},
	}
	svc, drafts := setupService(t, collab)
	ctx := context.Background()
	svc.SetOnline(ctx, true)

	step, err := svc.CreateStep(ctx, "sop-1", "Check valve", "")
	if err != nil {
		t.Fatalf("CreateStep failed: %v", err)
	}
	if step.ID != "step_77" {
		t.Fatalf("expected promoted id step_77, got %s", step.ID)
	}
	doc, _, _ := drafts.Load(ctx, "sop-1")
	if len(doc.Steps) != 1 || doc.Steps[0].ID != "step_77" {
		t.Fatalf("promotion not persisted: %+v", doc.Steps)
	}
}

func TestUpsertAnnotationMintsLocalIDOffline(t *testing.T) {
	svc, _ := setupService(t, &fakeCollab{})
	ctx := context.Background()
	step, _ := svc.CreateStep(ctx, "sop-1", "Step", "")

	a, err := svc.UpsertAnnotation(ctx, "sop-1", annot.Annotation{
		StepID: step.ID, Kind: annot.KindArrow, X: 0.5, Y: 0.5, EndMs: 1000,
	})
	if err != nil {
		t.Fatalf("UpsertAnnotation failed: %v", err)
	}
	if !util.IsLocalID(a.ID) {
		t.Fatalf("expected minted local id, got %s", a.ID)
	}
	got := svc.Visible(ctx, "sop-1", step.ID, annot.ModeEdit, 0)
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("annotation not visible in edit mode: %+v", got)
	}
}

func TestUpsertAnnotationOnlinePromotes(t *testing.T) {
	collab := &fakeCollab{
		createAnnotationFn: func(_ context.Context, a annot.Annotation) (string, error) {
			return "ann_9", nil
		},
	}
	svc, drafts := setupService(t, collab)
	ctx := context.Background()
	svc.SetOnline(ctx, true)
	step, _ := svc.CreateStep(ctx, "sop-1", "Step", "")

	a, err := svc.UpsertAnnotation(ctx, "sop-1", annot.Annotation{
		StepID: step.ID, Kind: annot.KindLabel, Text: "here", X: 0.2, Y: 0.2, EndMs: 500,
	})
	if err != nil {
		t.Fatalf("UpsertAnnotation failed: %v", err)
	}
	if a.ID != "ann_9" {
		t.Fatalf("expected promoted id ann_9, got %s", a.ID)
	}
	doc, _, _ := drafts.Load(ctx, "sop-1")
	if len(doc.Steps) != 1 || len(doc.Steps[0].Annotations) != 1 || doc.Steps[0].Annotations[0].ID != "ann_9" {
		t.Fatalf("promotion not persisted: %+v", doc.Steps)
	}
}

func TestUpsertAnnotationUnknownStepRejected(t *testing.T) {
	svc, drafts := setupService(t, &fakeCollab{})
	ctx := context.Background()
	if _, err := svc.CreateStep(ctx, "sop-1", "Step", ""); err != nil {
		t.Fatalf("CreateStep failed: %v", err)
	}

	_, err := svc.UpsertAnnotation(ctx, "sop-1", annot.Annotation{
		StepID: "ghost-step", Kind: annot.KindArrow, X: 0.5, Y: 0.5,
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown step, got %v", err)
	}
	// nothing may leak into memory or the draft
	if got := svc.Visible(ctx, "sop-1", "ghost-step", annot.ModeEdit, 0); len(got) != 0 {
		t.Fatalf("rejected annotation is visible: %+v", got)
	}
	doc, _, _ := drafts.Load(ctx, "sop-1")
	if len(doc.Steps) != 1 || len(doc.Steps[0].Annotations) != 0 {
		t.Fatalf("rejected annotation reached the draft: %+v", doc.Steps)
	}
}

func TestReconnectSyncAfterRestartPreservesDraft(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "drafts.db")
	ctx := context.Background()

	// first run: offline edits plus a queued capture
	drafts1, err := draft.Open(dbPath)
	if err != nil {
		t.Fatalf("draft store: %v", err)
	}
	svc1 := New(config.Config{}, drafts1, syncer.New(drafts1, &fakeCollab{}, nil, time.Hour))
	step, err := svc1.CreateStep(ctx, "sop-1", "Check valve", "")
	if err != nil {
		t.Fatalf("CreateStep failed: %v", err)
	}
	if _, err := svc1.UpsertAnnotation(ctx, "sop-1", annot.Annotation{
		StepID: step.ID, Kind: annot.KindArrow, X: 0.5, Y: 0.5, EndMs: 1000,
	}); err != nil {
		t.Fatalf("UpsertAnnotation failed: %v", err)
	}
	if err := svc1.QueueVideo(ctx, "sop-1", step.ID, "video/mp4", []byte("frames")); err != nil {
		t.Fatalf("QueueVideo failed: %v", err)
	}
	if err := drafts1.Close(); err != nil {
		t.Fatalf("close draft store: %v", err)
	}

	// restart: a fresh process comes online before anyone opens the document
	upload := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upload.Close)
	collab := &fakeCollab{
		getUploadTargetFn: func(_ context.Context, filename, contentType string) (remote.UploadTarget, error) {
			return remote.UploadTarget{UploadURL: upload.URL + "/put", StoragePath: "videos/k/" + filename}, nil
		},
	}
	drafts2, err := draft.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen draft store: %v", err)
	}
	t.Cleanup(func() { _ = drafts2.Close() })
	svc2 := New(config.Config{}, drafts2, syncer.New(drafts2, collab, nil, time.Hour))
	svc2.SetOnline(ctx, true)

	doc, ok, err := drafts2.Load(ctx, "sop-1")
	if err != nil || !ok {
		t.Fatalf("draft gone after restart+sync: ok=%v err=%v", ok, err)
	}
	if len(doc.Steps) != 1 || doc.Steps[0].ID != step.ID {
		t.Fatalf("expected the offline step to survive the sync pass, got %+v", doc.Steps)
	}
	if len(doc.Steps[0].Annotations) != 1 {
		t.Fatalf("offline annotations lost in the sync pass: %+v", doc.Steps[0])
	}
	if doc.Steps[0].VideoPath == "" {
		t.Error("uploaded video should have stamped the step's storage path")
	}
}

func TestPublicModeRejectsMutation(t *testing.T) {
	svc, _ := setupService(t, &fakeCollab{})
	ctx := context.Background()
	step, _ := svc.CreateStep(ctx, "sop-1", "Step", "")
	svc.SetMode(ctx, "sop-1", annot.ModePublic)

	_, err := svc.UpsertAnnotation(ctx, "sop-1", annot.Annotation{
		StepID: step.ID, Kind: annot.KindArrow, X: 0.5, Y: 0.5,
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "READ_ONLY" {
		t.Fatalf("expected READ_ONLY error, got %v", err)
	}
}

func TestPointerDragMovesAnnotationAndPersists(t *testing.T) {
	svc, drafts := setupService(t, &fakeCollab{})
	ctx := context.Background()
	step, _ := svc.CreateStep(ctx, "sop-1", "Step", "")
	if _, err := svc.UpsertAnnotation(ctx, "sop-1", annot.Annotation{
		StepID: step.ID, Kind: annot.KindArrow, X: 0.5, Y: 0.5, EndMs: 1000,
	}); err != nil {
		t.Fatalf("seed annotation: %v", err)
	}

	surf := gesture.Surface{W: 1000, H: 500}
	events := []PointerEvent{
		{Type: "down", Pointer: gesture.Pointer{ID: 1, X: 500, Y: 250}, Surface: surf},
		{Type: "move", Pointer: gesture.Pointer{ID: 1, X: 600, Y: 300}, Surface: surf},
		{Type: "up", Pointer: gesture.Pointer{ID: 1, X: 600, Y: 300}, Surface: surf},
	}
	for _, ev := range events {
		if _, err := svc.Pointer(ctx, "sop-1", step.ID, ev); err != nil {
			t.Fatalf("pointer %s failed: %v", ev.Type, err)
		}
	}

	got := svc.Visible(ctx, "sop-1", step.ID, annot.ModeEdit, 0)
	if len(got) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(got))
	}
	if got[0].X != 0.6 || got[0].Y != 0.6 {
		t.Fatalf("expected annotation at (0.6, 0.6), got (%v, %v)", got[0].X, got[0].Y)
	}

	doc, _, _ := drafts.Load(ctx, "sop-1")
	if len(doc.Steps[0].Annotations) != 1 || doc.Steps[0].Annotations[0].X != 0.6 {
		t.Fatalf("moved annotation not persisted: %+v", doc.Steps[0].Annotations)
	}
}

func TestPlaybackFallsBackToLocalBlob(t *testing.T) {
	svc, _ := setupService(t, &fakeCollab{})
	ctx := context.Background()
	step, _ := svc.CreateStep(ctx, "sop-1", "Step", "")

	if err := svc.QueueVideo(ctx, "sop-1", step.ID, "video/mp4", []byte("frames")); err != nil {
		t.Fatalf("QueueVideo failed: %v", err)
	}
	src, err := svc.Playback(ctx, "sop-1", step.ID)
	if err != nil {
		t.Fatalf("Playback failed: %v", err)
	}
	if !src.Local || src.URL != "/api/steps/"+step.ID+"/video" {
		t.Fatalf("expected local playback source, got %+v", src)
	}
}

func TestPlaybackWithoutVideoIsNotFound(t *testing.T) {
	svc, _ := setupService(t, &fakeCollab{})
	ctx := context.Background()
	step, _ := svc.CreateStep(ctx, "sop-1", "Step", "")

	if _, err := svc.Playback(ctx, "sop-1", step.ID); err != remote.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
