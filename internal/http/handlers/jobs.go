package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/omnishot/batchd/internal/domain"
	"github.com/omnishot/batchd/internal/scheduler"
	"github.com/omnishot/batchd/pkg/zip"
)

type submitJobRequest struct {
	OwnerID           string               `json:"owner_id"`
	ImageBase64       string               `json:"image_base64,omitempty"`
	ImageRef          string               `json:"image_ref,omitempty"`
	BatchType         string               `json:"batch_type,omitempty"`
	Styles            []string             `json:"styles,omitempty"`
	OutputsPerVariant int                  `json:"outputs_per_variant,omitempty"`
	Priority          domain.Priority      `json:"priority,omitempty"`
	Options           domain.SubmitOptions `json:"options"`
}

// SubmitJob accepts a batch generation request and answers with the queued
// job's id, estimates and queue position.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	var source []byte
	if req.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "image_base64 is not valid base64")
			return
		}
		source = decoded
	}
	receipt, err := a.Scheduler.Submit(r.Context(), scheduler.SubmitRequest{
		OwnerID:           req.OwnerID,
		SourceImage:       source,
		SourceRef:         req.ImageRef,
		BatchType:         req.BatchType,
		Styles:            req.Styles,
		OutputsPerVariant: req.OutputsPerVariant,
		Priority:          req.Priority,
		Options:           req.Options,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
		case errors.Is(err, domain.ErrSchedulerClosed):
			a.error(w, http.StatusServiceUnavailable, "unavailable", "service is shutting down")
		default:
			a.Logger.Error().Err(err).Msg("handlers: submit failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		}
		return
	}
	a.json(w, http.StatusAccepted, receipt)
}

// JobStatus reports the persisted state of one job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	report, err := a.Scheduler.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: status failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, report)
}

type cancelJobRequest struct {
	OwnerID string `json:"owner_id"`
}

// CancelJob requests cancellation of the owner's job.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	var req cancelJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "owner_id required")
		return
	}
	if err := a.Scheduler.Cancel(r.Context(), jobID, req.OwnerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}

// ListJobs returns the owner's job history, newest first.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "owner_id required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
			return
		}
		limit = parsed
	}
	items, err := a.Scheduler.List(r.Context(), ownerID, limit)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: list failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	if items == nil {
		items = []domain.JobSummary{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// DownloadJob streams a zip archive of every output the job produced.
func (a *App) DownloadJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	report, err := a.Scheduler.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: download lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if report.Status != domain.JobStatusCompleted {
		a.error(w, http.StatusConflict, "not_ready", "job has not completed")
		return
	}
	if a.Files == nil {
		a.error(w, http.StatusNotFound, "not_found", "no stored outputs for this job")
		return
	}
	var assets []zip.Asset
	for _, variant := range report.Variants {
		for _, key := range variant.StorageKeys {
			data, err := a.Files.Read(r.Context(), key)
			if err != nil {
				a.Logger.Warn().Err(err).Str("job_id", jobID).Str("key", key).Msg("handlers: missing output file")
				continue
			}
			assets = append(assets, zip.Asset{Filename: key, Data: data})
		}
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no stored outputs for this job")
		return
	}
	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", jobID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
