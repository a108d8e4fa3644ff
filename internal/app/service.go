package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
	"github.com/NicolaiDodeac/Instant-SOP/internal/config"
	"github.com/NicolaiDodeac/Instant-SOP/internal/draft"
	"github.com/NicolaiDodeac/Instant-SOP/internal/gesture"
	"github.com/NicolaiDodeac/Instant-SOP/internal/remote"
	"github.com/NicolaiDodeac/Instant-SOP/internal/syncer"
	"github.com/NicolaiDodeac/Instant-SOP/internal/util"
)

// Session is the single-writer editing context for one open document.
// Every mutation runs under its lock, which preserves per-annotation
// mutation order and makes the store/machine pair safe without their own
// locking.
type Session struct {
	mu      sync.Mutex
	doc     draft.Document
	store   *annot.Store
	machine *gesture.Machine
	mode    annot.DisplayMode

	// set when the draft was corrupt and the session degraded to empty
	loadWarning string
}

type Service struct {
	cfg    config.Config
	drafts *draft.Store
	engine *syncer.Engine

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(cfg config.Config, drafts *draft.Store, engine *syncer.Engine) *Service {
	s := &Service{
		cfg:      cfg,
		drafts:   drafts,
		engine:   engine,
		sessions: make(map[string]*Session),
	}
	engine.SetOnStored(s.onVideoStored)
	return s
}

// PointerEvent is the raw event surface fed by the presentation layer.
type PointerEvent struct {
	Type    string          `json:"type"` // down, move, up, cancel, doubletap
	Pointer gesture.Pointer `json:"pointer"`
	Surface gesture.Surface `json:"surface"`
}

// OpenResult is the full document view handed to the presentation layer.
type OpenResult struct {
	Document draft.Document `json:"document"`
	Warning  string         `json:"warning,omitempty"`
}

// session returns the live session for sopID, hydrating it from the draft
// store on first use. Hydration matters outside Open too: a reconnect sync
// pass can touch a document nobody has opened this process, and a session
// fabricated empty would snapshot that emptiness over the persisted draft.
func (s *Service) session(ctx context.Context, sopID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sopID]
	if ok {
		return sess
	}
	store := annot.NewStore()
	sess = &Session{
		doc:     draft.Document{ID: sopID},
		store:   store,
		machine: gesture.NewMachine(store, ""),
	}
	if doc, found, err := s.drafts.Load(ctx, sopID); err != nil {
		log.Printf("draft %s unreadable, starting empty: %v", sopID, err)
	} else if found {
		sess.doc = doc
		for _, step := range doc.Steps {
			if err := sess.store.Replace(step.ID, step.Annotations); err != nil {
				log.Printf("draft %s step %s annotations: %v", sopID, step.ID, err)
			}
		}
		if len(doc.Steps) > 0 {
			sess.machine.SetStep(doc.Steps[0].ID)
		}
	}
	s.sessions[sopID] = sess
	return sess
}

// Open loads the draft for sopID into a live session. A corrupt draft
// degrades to an empty document with a warning instead of refusing to
// start.
func (s *Service) Open(ctx context.Context, sopID string) (OpenResult, error) {
	doc, ok, err := s.drafts.Load(ctx, sopID)
	warning := ""
	if err != nil {
		log.Printf("draft %s unreadable, starting empty: %v", sopID, err)
		doc = draft.Document{ID: sopID}
		warning = "local draft was unreadable; starting from an empty document"
	} else if !ok {
		doc = draft.Document{ID: sopID}
	}

	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.doc = doc
	sess.loadWarning = warning
	for _, step := range doc.Steps {
		if err := sess.store.Replace(step.ID, step.Annotations); err != nil {
			return OpenResult{}, err
		}
	}
	if len(doc.Steps) > 0 {
		sess.machine.SetStep(doc.Steps[0].ID)
	}
	return OpenResult{Document: sess.doc, Warning: warning}, nil
}

// ListDrafts returns all local drafts, most recently modified first.
func (s *Service) ListDrafts(ctx context.Context) ([]draft.Document, error) {
	return s.drafts.List(ctx)
}

func (s *Service) RemoveDraft(ctx context.Context, sopID string) error {
	return s.drafts.Remove(ctx, sopID)
}

func (sess *Session) hasStepLocked(stepID string) bool {
	for _, st := range sess.doc.Steps {
		if st.ID == stepID {
			return true
		}
	}
	return false
}

// snapshotLocked copies live store state back into the draft document and
// persists it. Callers hold the session lock; every mutation funnels
// through here so the serialized copy trails the in-memory state by at
// most one mutation.
func (sess *Session) snapshotLocked(ctx context.Context, drafts *draft.Store) error {
	for i := range sess.doc.Steps {
		sess.doc.Steps[i].Annotations = sess.store.Get(sess.doc.Steps[i].ID)
	}
	return drafts.Save(ctx, sess.doc)
}

func (s *Service) UpdateMetadata(ctx context.Context, sopID, title, description string) error {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	sess.doc.Title = strings.TrimSpace(title)
	sess.doc.Description = strings.TrimSpace(description)
	err := sess.snapshotLocked(ctx, s.drafts)
	sess.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.engine.PushSopMetadata(ctx, sopID, title, description); err != nil {
		log.Printf("push sop metadata: %v", err)
	}
	return nil
}

// CreateStep appends a step with a local id, then pushes it; a
// server-issued id is promoted through the whole session.
func (s *Service) CreateStep(ctx context.Context, sopID, title, instructions string) (draft.Step, error) {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	step := draft.Step{
		ID:           util.NewLocalID(),
		SopID:        sopID,
		Idx:          len(sess.doc.Steps),
		Title:        strings.TrimSpace(title),
		Instructions: instructions,
		Annotations:  []annot.Annotation{},
	}
	sess.doc.Steps = append(sess.doc.Steps, step)
	if len(sess.doc.Steps) == 1 {
		sess.machine.SetStep(step.ID)
	}
	err := sess.snapshotLocked(ctx, s.drafts)
	sess.mu.Unlock()
	if err != nil {
		return draft.Step{}, err
	}

	if err := s.engine.PushStep(ctx, step, func(oldID, newID string) error {
		return s.promoteStep(ctx, sopID, oldID, newID)
	}); err != nil {
		log.Printf("push step: %v", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, st := range sess.doc.Steps {
		if st.Idx == step.Idx {
			return st, nil
		}
	}
	return step, nil
}

func (s *Service) UpdateStep(ctx context.Context, sopID, stepID, title, instructions string) error {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	var updated *draft.Step
	for i := range sess.doc.Steps {
		if sess.doc.Steps[i].ID == stepID {
			sess.doc.Steps[i].Title = strings.TrimSpace(title)
			sess.doc.Steps[i].Instructions = instructions
			updated = &sess.doc.Steps[i]
			break
		}
	}
	if updated == nil {
		sess.mu.Unlock()
		return domainError(http.StatusNotFound, "NOT_FOUND", "unknown step", nil)
	}
	step := *updated
	err := sess.snapshotLocked(ctx, s.drafts)
	sess.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.engine.PushStep(ctx, step, func(oldID, newID string) error {
		return s.promoteStep(ctx, sopID, oldID, newID)
	}); err != nil {
		log.Printf("push step: %v", err)
	}
	return nil
}

// promoteStep atomically swaps a local step id for the server-issued one:
// document, annotation store, gesture machine, and any pending blob move
// in one transition.
func (s *Service) promoteStep(ctx context.Context, sopID, oldID, newID string) error {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	for i := range sess.doc.Steps {
		if sess.doc.Steps[i].ID == oldID {
			sess.doc.Steps[i].ID = newID
			for j := range sess.doc.Steps[i].Annotations {
				sess.doc.Steps[i].Annotations[j].StepID = newID
			}
		}
	}
	sess.store.RenameStep(oldID, newID)
	sess.machine.RebindStep(oldID, newID)
	err := sess.snapshotLocked(ctx, s.drafts)
	sess.mu.Unlock()
	if err != nil {
		return err
	}
	return s.drafts.RekeyBlob(ctx, oldID, newID)
}

// UpsertAnnotation applies the mutation locally (store + draft) and then
// opportunistically pushes it. Returns the annotation under its current id,
// which may already be the promoted one.
func (s *Service) UpsertAnnotation(ctx context.Context, sopID string, a annot.Annotation) (annot.Annotation, error) {
	if a.ID == "" {
		a.ID = util.NewLocalID()
	}
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	if !sess.mode.CanMutate() {
		sess.mu.Unlock()
		return annot.Annotation{}, domainError(http.StatusForbidden, "READ_ONLY", "annotations cannot be edited in this mode", nil)
	}
	// only annotations of known steps reach the draft snapshot
	if !sess.hasStepLocked(a.StepID) {
		sess.mu.Unlock()
		return annot.Annotation{}, domainError(http.StatusNotFound, "NOT_FOUND", "unknown step", nil)
	}
	if err := sess.store.Upsert(a); err != nil {
		sess.mu.Unlock()
		return annot.Annotation{}, err
	}
	err := sess.snapshotLocked(ctx, s.drafts)
	sess.mu.Unlock()
	if err != nil {
		return annot.Annotation{}, err
	}

	id := a.ID
	if err := s.engine.PushAnnotation(ctx, a, func(oldID, newID string) error {
		id = newID
		return s.promoteAnnotation(ctx, sopID, oldID, newID)
	}); err != nil {
		log.Printf("push annotation: %v", err)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out, ok := sess.store.Find(id)
	if !ok {
		return a, nil
	}
	return out, nil
}

func (s *Service) RemoveAnnotation(ctx context.Context, sopID, id string) error {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	if !sess.mode.CanMutate() {
		sess.mu.Unlock()
		return domainError(http.StatusForbidden, "READ_ONLY", "annotations cannot be edited in this mode", nil)
	}
	sess.store.Remove(id)
	err := sess.snapshotLocked(ctx, s.drafts)
	sess.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.engine.PushAnnotationDelete(ctx, id); err != nil {
		log.Printf("push annotation delete: %v", err)
	}
	return nil
}

// promoteAnnotation is the single state transition that swaps a local
// annotation id everywhere: store, in-flight gesture, selection, draft.
func (s *Service) promoteAnnotation(ctx context.Context, sopID, oldID, newID string) error {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.store.Promote(oldID, newID); err != nil {
		// already promoted or deleted: discard the stale promotion
		log.Printf("discarding stale promotion %s -> %s: %v", oldID, newID, err)
		return nil
	}
	sess.machine.Rebind(oldID, newID)
	return sess.snapshotLocked(ctx, s.drafts)
}

// Pointer feeds one raw pointer/touch event into the step's gesture
// machine. Mutations it produces are serialized into the draft before the
// call returns; annotation pushes happen on gesture end.
func (s *Service) Pointer(ctx context.Context, sopID, stepID string, ev PointerEvent) (gesture.State, error) {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()

	if sess.machine.StepID() != stepID {
		sess.machine.SetStep(stepID)
	}

	var err error
	var finished annot.Annotation
	var pushFinished bool
	switch ev.Type {
	case "down":
		err = sess.machine.PointerDown(ev.Pointer, ev.Surface)
		if err == gesture.ErrGestureActive {
			// rejected press: the active gesture is untouched
			err = nil
		}
	case "move":
		err = sess.machine.PointerMove(ev.Pointer, ev.Surface)
	case "up":
		id := sess.machine.Active()
		sess.machine.PointerUp(ev.Pointer)
		if id != "" && sess.machine.State() == gesture.StateIdle {
			if a, ok := sess.store.Find(id); ok {
				finished, pushFinished = a, true
			}
		}
	case "cancel":
		sess.machine.CancelCapture()
	case "doubletap":
		sess.machine.DoubleTap()
	default:
		sess.mu.Unlock()
		return 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown pointer event type", nil)
	}
	if err != nil {
		sess.mu.Unlock()
		return 0, err
	}
	saveErr := sess.snapshotLocked(ctx, s.drafts)
	state := sess.machine.State()
	sess.mu.Unlock()
	if saveErr != nil {
		return 0, saveErr
	}

	if pushFinished {
		if err := s.engine.PushAnnotation(ctx, finished, func(oldID, newID string) error {
			return s.promoteAnnotation(ctx, sopID, oldID, newID)
		}); err != nil {
			log.Printf("push annotation after gesture: %v", err)
		}
	}
	return state, nil
}

// Visible answers the renderer's time-sync query for one step.
func (s *Service) Visible(ctx context.Context, sopID, stepID string, mode annot.DisplayMode, atMs int64) []annot.Annotation {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	anns := sess.store.Get(stepID)
	out := annot.Visible(anns, mode, atMs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetMode switches the display mode for the whole session: both the time
// filter default and the gesture capability gate.
func (s *Service) SetMode(ctx context.Context, sopID string, mode annot.DisplayMode) {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.mode = mode
	sess.machine.SetMode(mode)
}

func (s *Service) Mode(ctx context.Context, sopID string) annot.DisplayMode {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.mode
}

// QueueVideo hands captured bytes to the sync engine (blob-first).
func (s *Service) QueueVideo(ctx context.Context, sopID, stepID, contentType string, data []byte) error {
	if len(data) == 0 {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "empty video payload", nil)
	}
	return s.engine.QueueVideo(ctx, sopID, stepID, contentType, data)
}

func (s *Service) RetryUpload(ctx context.Context, stepID string) error {
	return s.engine.Retry(ctx, stepID)
}

func (s *Service) SetOnline(ctx context.Context, online bool) {
	s.engine.SetOnline(ctx, online)
}

func (s *Service) Online() bool { return s.engine.Online() }

func (s *Service) UploadStatuses() []syncer.UploadStatus {
	return s.engine.Statuses()
}

// PlaybackSource names where the presentation layer should fetch a step's
// video from.
type PlaybackSource struct {
	URL   string `json:"url"`
	Local bool   `json:"local"`
}

// Playback resolves the video for a step: a timed remote URL when the
// video is durably stored, otherwise the local blob endpoint if footage is
// still only on this device.
func (s *Service) Playback(ctx context.Context, sopID, stepID string) (PlaybackSource, error) {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	videoPath := ""
	for _, st := range sess.doc.Steps {
		if st.ID == stepID {
			videoPath = st.VideoPath
			break
		}
	}
	sess.mu.Unlock()

	if videoPath != "" {
		url, err := s.engine.PlaybackURL(ctx, videoPath)
		if err == nil {
			return PlaybackSource{URL: url}, nil
		}
		if !errors.Is(err, remote.ErrNotFound) {
			return PlaybackSource{}, err
		}
		// remote lost the object: fall through to the local blob
	}
	if _, ok, err := s.drafts.GetBlob(ctx, stepID); err == nil && ok {
		return PlaybackSource{URL: "/api/steps/" + stepID + "/video", Local: true}, nil
	}
	return PlaybackSource{}, remote.ErrNotFound
}

// LocalVideo serves the bytes of a not-yet-uploaded capture.
func (s *Service) LocalVideo(ctx context.Context, stepID string) (draft.PendingUpload, error) {
	p, ok, err := s.drafts.GetBlob(ctx, stepID)
	if err != nil {
		return draft.PendingUpload{}, err
	}
	if !ok {
		return draft.PendingUpload{}, remote.ErrNotFound
	}
	return p, nil
}

// onVideoStored updates the owning step's persistent reference once its
// upload is durable, echoing storagePath unchanged.
func (s *Service) onVideoStored(ctx context.Context, sopID, stepID, storagePath string) error {
	sess := s.session(ctx, sopID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i := range sess.doc.Steps {
		if sess.doc.Steps[i].ID == stepID {
			sess.doc.Steps[i].VideoPath = storagePath
			break
		}
	}
	return sess.snapshotLocked(ctx, s.drafts)
}
