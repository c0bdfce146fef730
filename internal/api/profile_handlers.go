package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/session-keeper/internal/profiledir"
	"github.com/shehryarbajwa/session-keeper/pkg/models"
)

// ProfileStore lists and deletes stored sessions
type ProfileStore interface {
	ListAll(ctx context.Context) ([]models.ProfileSummary, error)
	Delete(ctx context.Context, profileID string) bool
}

// ProfileDirs manages on-disk profile directories
type ProfileDirs interface {
	Remove(profileID string) error
	Archive(profileID string, w io.Writer) error
}

// ProfileHandler holds dependencies for stored profile HTTP handlers
type ProfileHandler struct {
	store  ProfileStore
	dirs   ProfileDirs
	logger *zap.Logger
}

// NewProfileHandler creates a new profile HTTP handler
func NewProfileHandler(store ProfileStore, dirs ProfileDirs, logger *zap.Logger) *ProfileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileHandler{
		store:  store,
		dirs:   dirs,
		logger: logger.Named("api"),
	}
}

// ListProfiles handles GET /profiles
func (h *ProfileHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list profiles", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ProfilesResponse{
			APIResponse: models.APIResponse{Message: "Failed to list profiles", Error: err.Error()},
			Profiles:    []models.ProfileSummary{},
		})
		return
	}
	if profiles == nil {
		profiles = []models.ProfileSummary{}
	}

	writeJSON(w, http.StatusOK, models.ProfilesResponse{
		APIResponse: models.APIResponse{Success: true, Message: fmt.Sprintf("%d stored profiles", len(profiles))},
		Profiles:    profiles,
	})
}

// DeleteProfile handles POST /delete-profile
func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Invalid request body: " + err.Error()})
		return
	}
	if req.ProfileID == "" {
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "profileId is required"})
		return
	}

	logger := h.logger.With(zap.String("profile_id", req.ProfileID))

	if !h.store.Delete(r.Context(), req.ProfileID) {
		writeJSON(w, http.StatusOK, models.APIResponse{Message: fmt.Sprintf("Failed to delete profile %s", req.ProfileID)})
		return
	}

	if req.Purge {
		if err := h.dirs.Remove(req.ProfileID); err != nil {
			logger.Warn("session deleted but profile directory was not removed", zap.Error(err))
			writeJSON(w, http.StatusOK, models.APIResponse{
				Success: true,
				Message: fmt.Sprintf("Profile %s deleted, directory kept", req.ProfileID),
				Error:   err.Error(),
			})
			return
		}
	}

	logger.Info("profile deleted", zap.Bool("purge", req.Purge))
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: fmt.Sprintf("Profile %s deleted", req.ProfileID)})
}

// ArchiveProfile handles GET /profiles/{id}/archive
func (h *ProfileHandler) ArchiveProfile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	aw := &archiveWriter{w: w, filename: profiledir.DirName(id) + ".tar.gz"}
	err := h.dirs.Archive(id, aw)
	switch {
	case err == nil:
		if !aw.started {
			aw.start()
		}
	case aw.started:
		// Headers are gone; the client sees a truncated archive
		h.logger.Error("profile archive interrupted", zap.String("profile_id", id), zap.Error(err))
	case errors.Is(err, profiledir.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.APIResponse{Message: fmt.Sprintf("No profile directory for %s", id)})
	default:
		h.logger.Error("failed to archive profile", zap.String("profile_id", id), zap.Error(err))
		writeJSON(w, http.StatusBadRequest, models.APIResponse{Message: "Failed to archive profile", Error: err.Error()})
	}
}

// archiveWriter delays the download headers until the first byte so a
// missing directory can still be answered with a JSON error.
type archiveWriter struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (a *archiveWriter) start() {
	a.started = true
	a.w.Header().Set("Content-Type", "application/gzip")
	a.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.filename))
	a.w.WriteHeader(http.StatusOK)
}

func (a *archiveWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.start()
	}
	return a.w.Write(p)
}
