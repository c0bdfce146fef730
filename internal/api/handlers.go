package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/internal/browser"
	"github.com/shehryarbajwa/session-keeper/internal/gate"
	"github.com/shehryarbajwa/session-keeper/internal/queue"
	"github.com/shehryarbajwa/session-keeper/internal/roster"
	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

const maxUploadSize = 10 << 20

// Queue is the part of the queue controller the handlers drive
type Queue interface {
	Reset(ctx context.Context, profiles []models.Profile) (string, error)
	Advance(ctx context.Context) (models.StepResult, error)
	Status() models.QueueStatus
}

// StatusReporter reports on the backing session store
type StatusReporter interface {
	Status(ctx context.Context) (*models.StoreStatus, error)
}

// Handler holds dependencies for the queue HTTP handlers
type Handler struct {
	queue    Queue
	store    StatusReporter
	verifier gate.Verifier
	logger   *zap.Logger
	now      func() time.Time

	verified atomic.Bool

	mu     sync.Mutex
	roster []models.Profile
}

// NewHandler creates a new HTTP handler
func NewHandler(q Queue, store StatusReporter, verifier gate.Verifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		queue:    q,
		store:    store,
		verifier: verifier,
		logger:   logger.Named("api"),
		now:      time.Now,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Message: "Session keeper is running",
		Time:    h.now().UTC(),
	})
}

// DBStatus handles GET /db-status
func (h *Handler) DBStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.store.Status(r.Context())
	if err != nil {
		h.logger.Error("database status check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.DBStatusResponse{
			APIResponse: models.APIResponse{
				Message: "Database connection failed",
				Error:   err.Error(),
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, models.DBStatusResponse{
		APIResponse: models.APIResponse{Success: true, Message: "Database connection successful"},
		DB:          status,
	})
}

// VerifyAPI handles POST /verify-api
func (h *Handler) VerifyAPI(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid request body: " + err.Error()})
		return
	}

	ok, err := h.verifier.Verify(r.Context(), req.APIUserID, req.APIKeyID)
	if err != nil {
		h.logger.Warn("credential check failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, models.VerifyResponse{
			APIResponse: models.APIResponse{Message: "Credential check failed", Error: err.Error()},
		})
		return
	}

	h.verified.Store(ok)
	if !ok {
		writeJSON(w, http.StatusOK, models.VerifyResponse{
			APIResponse: models.APIResponse{Message: "Invalid API credentials"},
		})
		return
	}

	h.logger.Info("api credentials verified")
	writeJSON(w, http.StatusOK, models.VerifyResponse{
		APIResponse: models.APIResponse{Success: true, Message: "API credentials verified"},
		Verified:    true,
	})
}

// UploadCSV handles POST /upload-csv. The parsed roster is held until the
// next start-processing call; a run already in progress is not touched.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid upload: " + err.Error()})
		return
	}

	file, _, err := r.FormFile("csvFile")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "No file uploaded"})
		return
	}
	defer file.Close()

	globalProxy := r.FormValue("globalProxy")
	if _, err := browser.ParseProxy(globalProxy); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid global proxy", Error: err.Error()})
		return
	}

	profiles, err := roster.Parse(file, globalProxy)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Failed to parse CSV", Error: err.Error()})
		return
	}

	h.mu.Lock()
	h.roster = profiles
	h.mu.Unlock()

	h.logger.Info("roster loaded", zap.Int("profiles", len(profiles)))
	writeJSON(w, http.StatusOK, models.UploadResponse{
		APIResponse: models.APIResponse{Success: true, Message: fmt.Sprintf("Loaded %d profiles from CSV", len(profiles))},
		Profiles:    profiles,
	})
}

// StartProcessing handles POST /start-processing
func (h *Handler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	profiles := h.roster
	h.mu.Unlock()

	// Reset may save and close a running browser; let it finish
	runID, err := h.queue.Reset(context.WithoutCancel(r.Context()), profiles)
	if err != nil {
		h.writeQueueError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, models.StartResponse{
		APIResponse:   models.APIResponse{Success: true, Message: "Processing started"},
		RunID:         runID,
		TotalProfiles: len(profiles),
	})
}

// ProcessNext handles POST /process-next
func (h *Handler) ProcessNext(w http.ResponseWriter, r *http.Request) {
	// A step runs to completion even if the operator's request goes away
	step, err := h.queue.Advance(context.WithoutCancel(r.Context()))
	if err != nil {
		h.writeQueueError(w, err)
		return
	}

	resp := models.StepResponse{
		APIResponse: models.APIResponse{Message: step.Message},
		Step:        &step,
	}

	switch step.Kind {
	case models.StepComplete:
		resp.Success = true
		resp.Complete = true
	case models.StepStarted:
		resp.Success = true
		resp.CurrentProfile = step.Profile
		resp.Progress = &models.Progress{Current: step.Current, Total: step.Total}
	case models.StepFailed:
		resp.Error = step.Error
		resp.CurrentProfile = step.Profile
		resp.Progress = &models.Progress{Current: step.Current, Total: step.Total}
		resp.NextAvailable = step.HasMoreAfterThis
	}

	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	loaded := len(h.roster)
	h.mu.Unlock()

	status := h.queue.Status()
	writeJSON(w, http.StatusOK, models.StatusResponse{
		APIResponse: models.APIResponse{Success: true, Message: string(status.State)},
		Verified:    h.verified.Load(),
		Roster:      loaded,
		Queue:       &status,
	})
}

// Verified reports whether the operator has passed the credential gate
func (h *Handler) Verified() bool {
	return h.verified.Load()
}

func (h *Handler) writeQueueError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrBusy) {
		writeJSON(w, http.StatusConflict, models.APIResponse{Message: "A profile is still being processed", Error: err.Error()})
		return
	}
	h.logger.Error("queue operation failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, models.APIResponse{Message: "Queue operation failed", Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
