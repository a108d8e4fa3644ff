package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/NicolaiDodeac/Instant-SOP/internal/annot"
	"github.com/NicolaiDodeac/Instant-SOP/internal/config"
)

const maxVideoBytes = 512 << 20

// Handler wires the service to its HTTP surface.
func Handler(cfg config.Config, svc *Service) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/drafts", svc.handleListDrafts).Methods(http.MethodGet)
	r.HandleFunc("/api/drafts/{sopID}", svc.handleRemoveDraft).Methods(http.MethodDelete)

	r.HandleFunc("/api/sops/{sopID}/open", svc.handleOpen).Methods(http.MethodPost)
	r.HandleFunc("/api/sops/{sopID}", svc.handleUpdateMetadata).Methods(http.MethodPut)
	r.HandleFunc("/api/sops/{sopID}/mode", svc.handleSetMode).Methods(http.MethodPost)

	r.HandleFunc("/api/sops/{sopID}/steps", svc.handleCreateStep).Methods(http.MethodPost)
	r.HandleFunc("/api/sops/{sopID}/steps/{stepID}", svc.handleUpdateStep).Methods(http.MethodPut)

	r.HandleFunc("/api/sops/{sopID}/steps/{stepID}/annotations", svc.handleUpsertAnnotation).Methods(http.MethodPost)
	r.HandleFunc("/api/sops/{sopID}/steps/{stepID}/annotations", svc.handleVisible).Methods(http.MethodGet)
	r.HandleFunc("/api/sops/{sopID}/annotations/{id}", svc.handleRemoveAnnotation).Methods(http.MethodDelete)

	r.HandleFunc("/api/sops/{sopID}/steps/{stepID}/pointer", svc.handlePointer).Methods(http.MethodPost)

	r.HandleFunc("/api/sops/{sopID}/steps/{stepID}/video", svc.handleQueueVideo).Methods(http.MethodPost)
	r.HandleFunc("/api/steps/{stepID}/video", svc.handleLocalVideo).Methods(http.MethodGet)
	r.HandleFunc("/api/sops/{sopID}/steps/{stepID}/playback-url", svc.handlePlayback).Methods(http.MethodGet)

	r.HandleFunc("/api/uploads", svc.handleUploadStatuses).Methods(http.MethodGet)
	r.HandleFunc("/api/uploads/{stepID}/retry", svc.handleRetryUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/connectivity", svc.handleConnectivity).Methods(http.MethodPost)
	r.HandleFunc("/api/connectivity", svc.handleConnectivityStatus).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{cfg.CORSOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	body := map[string]any{"error": map[string]any{"code": code, "message": message}}
	if details != nil {
		body["error"].(map[string]any)["details"] = details
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domainError(http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid request body: %v", err), nil)
	}
	return nil
}

func (s *Service) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	docs, err := s.ListDrafts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": docs})
}

func (s *Service) handleRemoveDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.RemoveDraft(r.Context(), mux.Vars(r)["sopID"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleOpen(w http.ResponseWriter, r *http.Request) {
	res, err := s.Open(r.Context(), mux.Vars(r)["sopID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := s.UpdateMetadata(r.Context(), mux.Vars(r)["sopID"], body.Title, body.Description); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	mode := annot.ParseDisplayMode(body.Mode)
	s.SetMode(r.Context(), mux.Vars(r)["sopID"], mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": mode.String()})
}

func (s *Service) handleCreateStep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title        string `json:"title"`
		Instructions string `json:"instructions"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	step, err := s.CreateStep(r.Context(), mux.Vars(r)["sopID"], body.Title, body.Instructions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, step)
}

func (s *Service) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title        string `json:"title"`
		Instructions string `json:"instructions"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	if err := s.UpdateStep(r.Context(), vars["sopID"], vars["stepID"], body.Title, body.Instructions); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleUpsertAnnotation(w http.ResponseWriter, r *http.Request) {
	var a annot.Annotation
	if err := decodeBody(r, &a); err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	a.StepID = vars["stepID"]
	out, err := s.UpsertAnnotation(r.Context(), vars["sopID"], a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleVisible(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	mode := s.Mode(r.Context(), vars["sopID"])
	if q := r.URL.Query().Get("mode"); q != "" {
		mode = annot.ParseDisplayMode(q)
	}
	atMs := int64(0)
	if q := r.URL.Query().Get("t"); q != "" {
		v, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, domainError(http.StatusBadRequest, "BAD_REQUEST", "t must be an integer millisecond offset", nil))
			return
		}
		atMs = v
	}
	anns := s.Visible(r.Context(), vars["sopID"], vars["stepID"], mode, atMs)
	writeJSON(w, http.StatusOK, map[string]any{"annotations": anns})
}

func (s *Service) handleRemoveAnnotation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.RemoveAnnotation(r.Context(), vars["sopID"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handlePointer(w http.ResponseWriter, r *http.Request) {
	var ev PointerEvent
	if err := decodeBody(r, &ev); err != nil {
		writeError(w, err)
		return
	}
	vars := mux.Vars(r)
	state, err := s.Pointer(r.Context(), vars["sopID"], vars["stepID"], ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

// handleQueueVideo accepts raw captured bytes (Content-Type carries the
// container format) and queues them for upload.
func (s *Service) handleQueueVideo(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxVideoBytes))
	if err != nil {
		writeError(w, domainError(http.StatusRequestEntityTooLarge, "TOO_LARGE", "video exceeds the size limit", nil))
		return
	}
	vars := mux.Vars(r)
	if err := s.QueueVideo(r.Context(), vars["sopID"], vars["stepID"], contentType, data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) handleLocalVideo(w http.ResponseWriter, r *http.Request) {
	p, err := s.LocalVideo(r.Context(), mux.Vars(r)["stepID"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", p.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(p.Data)))
	_, _ = w.Write(p.Data)
}

func (s *Service) handlePlayback(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	src, err := s.Playback(r.Context(), vars["sopID"], vars["stepID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Service) handleUploadStatuses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"uploads": s.UploadStatuses()})
}

func (s *Service) handleRetryUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.RetryUpload(r.Context(), mux.Vars(r)["stepID"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Service) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online bool `json:"online"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	s.SetOnline(r.Context(), body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.Online()})
}

func (s *Service) handleConnectivityStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.Online()})
}
