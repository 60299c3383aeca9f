package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"VizFM/cache"
	"VizFM/config"
	"VizFM/core/export"
	"VizFM/core/session"
	"VizFM/logger"
	"VizFM/model"
	"VizFM/repository"
	"VizFM/storage"
)

const maxUploadBytes = 64 << 20

// APIHandler bundles the session, export manager, and optional persistence
// behind the HTTP surface.
type APIHandler struct {
	// baseCtx scopes playback and export jobs to the server lifetime.
	// Request contexts die with their response, long before a job finishes.
	baseCtx context.Context

	cfg     *config.Config
	sess    *session.Session
	manager *export.Manager
	repo    repository.ExportRepository // nil without a database
	hub     *StatusHub
}

// NewAPIHandler creates the handler set.
func NewAPIHandler(baseCtx context.Context, cfg *config.Config, sess *session.Session, manager *export.Manager, repo repository.ExportRepository, hub *StatusHub) *APIHandler {
	return &APIHandler{baseCtx: baseCtx, cfg: cfg, sess: sess, manager: manager, repo: repo, hub: hub}
}

// RegisterRoutes attaches all API routes to the router.
func (h *APIHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/audio", h.UploadAudioHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/image", h.UploadImageHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/play", h.PlayHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/stop", h.StopHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/export", h.StartExportHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/export", h.CancelExportHandler).Methods(http.MethodDelete)
	r.HandleFunc("/api/export/{job_id}/download", h.DownloadHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/exports", h.ListExportsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/status", h.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws/status", h.hub.Handler)
}

// readBody reads the opaque uploaded bytes with a size cap.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return nil, false
	}
	return data, true
}

// UploadAudioHandler decodes an uploaded audio file into the session.
func (h *APIHandler) UploadAudioHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}

	asset, err := h.sess.LoadAudio(data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, model.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		writeError(w, status, export.MapErrorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"durationSec": asset.Duration.Seconds(),
		"sampleRate":  asset.SampleRate,
		"channels":    asset.Channels,
	})
}

// UploadImageHandler decodes an uploaded still image into the session.
func (h *APIHandler) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}

	img, err := h.sess.LoadImage(data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, model.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		writeError(w, status, export.MapErrorMessage(err))
		return
	}

	fw, fh := img.FrameSize(h.cfg.OutputWidth)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"frameWidth":  fw,
		"frameHeight": fh,
		"aspect":      img.Aspect,
	})
}

// PlayHandler starts live playback without capture. The stream outlives the
// request, so it runs on the server context.
func (h *APIHandler) PlayHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.Play(h.baseCtx, nil); err != nil {
		writeError(w, http.StatusBadRequest, export.MapErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": "playing"})
}

// StopHandler stops playback; if an export is recording, its capture
// finalizes on whatever was played so far.
func (h *APIHandler) StopHandler(w http.ResponseWriter, r *http.Request) {
	h.sess.StopPlayback()
	writeJSON(w, http.StatusOK, map[string]string{"state": "idle"})
}

// StartExportHandler begins the capture-and-transcode pipeline. The job runs
// on the server context: the request context is cancelled as soon as the 202
// goes out, which would kill the capture and conversion mid-flight.
func (h *APIHandler) StartExportHandler(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Start(h.baseCtx, h.sess)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, model.ErrNoAudioLoaded):
			status = http.StatusBadRequest
		case errors.Is(err, model.ErrAlreadyRecording):
			status = http.StatusConflict
		}
		writeError(w, status, export.MapErrorMessage(err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": job.StatusText(),
	})
}

// CancelExportHandler stops playback early; the active recording still
// finalizes and converts.
func (h *APIHandler) CancelExportHandler(w http.ResponseWriter, r *http.Request) {
	if h.manager.Active() == nil {
		writeError(w, http.StatusNotFound, "no export in progress")
		return
	}
	h.sess.StopPlayback()
	writeJSON(w, http.StatusOK, map[string]string{"status": "finalizing"})
}

// DownloadHandler serves a finished artifact, falling back to the MinIO
// archive for past jobs.
func (h *APIHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	if job := h.manager.LastJob(); job != nil && job.ID == jobID {
		if art := job.Artifact(); art != nil {
			serveArtifact(w, art)
			return
		}
	}

	// fall back to the archive for history entries
	if h.repo != nil && storage.Enabled() {
		record, err := h.repo.GetByID(jobID)
		if err == nil && record != nil && record.State == model.ExportStateDone {
			data, err := storage.FetchArtifact(r.Context(), h.cfg, jobID, record.Filename)
			if err == nil {
				serveArtifact(w, &model.Artifact{
					Data:     data,
					MIMEType: record.MIMEType,
					Filename: record.Filename,
				})
				return
			}
			logger.Warn("archive fetch failed",
				logger.String("jobId", jobID),
				logger.ErrorField(err))
		}
	}

	writeError(w, http.StatusNotFound, "artifact not available")
}

// ListExportsHandler returns the export history.
func (h *APIHandler) ListExportsHandler(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	records, err := h.repo.ListRecent(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list exports")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// StatusHandler returns the current status surface. With a job_id query it
// also consults the Redis cache, which survives across instances.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		if cached := cache.GetJobStatus(jobID); cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	msg := StatusMessage{
		Status: h.manager.StatusText(),
		State:  "idle",
	}
	if job := h.manager.Active(); job != nil {
		msg.State = job.State()
		msg.JobID = job.ID
		msg.Progress = job.Progress()
	} else if job := h.manager.LastJob(); job != nil {
		msg.State = job.State()
		msg.JobID = job.ID
		msg.Progress = job.Progress()
		if err := job.Err(); err != nil {
			msg.Error = export.MapErrorMessage(err)
		}
	}
	writeJSON(w, http.StatusOK, msg)
}

func serveArtifact(w http.ResponseWriter, art *model.Artifact) {
	w.Header().Set("Content-Type", art.MIMEType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+art.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(art.Data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
