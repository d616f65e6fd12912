package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"chzzk-recorder/internal/manifest"
	"chzzk-recorder/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// Handler exposes the recorder's HTTP admin API using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/recordings", h.ListAllRecordings)
	r.Get("/states", h.ListStates)
	r.Put("/credentials", h.PutCredentials)
	r.Get("/videos/{video_no}/variants", h.ResolveVideo)
	r.Route("/channels", func(r chi.Router) {
		r.Get("/", h.ListChannels)
		r.Post("/", h.AddChannel)
		r.Route("/{channel_id}", func(r chi.Router) {
			r.Get("/", h.GetChannel)
			r.Delete("/", h.RemoveChannel)
			r.Post("/stop", h.StopChannel)
			r.Get("/status", h.CheckStatus)
			r.Get("/recordings", h.ListRecordings)
		})
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_captures": h.svc.ActiveCaptures(),
	})
}

type addChannelRequest struct {
	ChannelURL string `json:"channel_url"`
}

// AddChannel handles POST /channels. Body: {"channel_url": "https://chzzk.naver.com/<id>"}.
func (h *Handler) AddChannel(w http.ResponseWriter, r *http.Request) {
	var req addChannelRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.ChannelURL) == "" {
		writeError(w, http.StatusBadRequest, "channel_url is required")
		return
	}

	ch, err := h.svc.AddChannel(r.Context(), req.ChannelURL)
	if err != nil {
		h.fail(w, "add channel", err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// ListChannels handles GET /channels (?all=true includes inactive channels).
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	channels, err := h.svc.ListChannels(r.Context(), all)
	if err != nil {
		h.fail(w, "list channels", err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// GetChannel handles GET /channels/{channel_id}.
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.GetChannel(r.Context(), chi.URLParam(r, "channel_id"))
	if err != nil {
		h.fail(w, "get channel", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// RemoveChannel handles DELETE /channels/{channel_id} (?purge=true hard-deletes).
func (h *Handler) RemoveChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel_id")
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))

	if err := h.svc.RemoveChannel(r.Context(), channelID, purge); err != nil {
		h.fail(w, "remove channel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StopChannel handles POST /channels/{channel_id}/stop. Stopping a channel
// that is not recording is not an error; the response says no action was taken.
func (h *Handler) StopChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel_id")

	err := h.svc.StopChannel(r.Context(), channelID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"result": "stopping"})
	case errors.Is(err, ErrNotRecording), errors.Is(err, ErrAlreadyFinalizing):
		h.log.Info("stop: no action taken", slog.String("channel_id", channelID), slog.String("reason", err.Error()))
		writeJSON(w, http.StatusOK, map[string]string{"result": "no_action", "reason": err.Error()})
	default:
		h.fail(w, "stop channel", err)
	}
}

// CheckStatus handles GET /channels/{channel_id}/status.
func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.CheckStatus(r.Context(), chi.URLParam(r, "channel_id"))
	if err != nil {
		h.fail(w, "check status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListRecordings handles GET /channels/{channel_id}/recordings.
func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	assets, err := h.svc.ListRecordings(r.Context(), chi.URLParam(r, "channel_id"))
	if err != nil {
		h.fail(w, "list recordings", err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// ListAllRecordings handles GET /recordings.
func (h *Handler) ListAllRecordings(w http.ResponseWriter, r *http.Request) {
	assets, err := h.svc.ListRecordings(r.Context(), "")
	if err != nil {
		h.fail(w, "list recordings", err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

// ListStates handles GET /states.
func (h *Handler) ListStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.States())
}

// PutCredentials handles PUT /credentials. Body: {"nid_aut": "...", "nid_ses": "..."}.
func (h *Handler) PutCredentials(w http.ResponseWriter, r *http.Request) {
	var c Credentials
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.svc.SetCredentials(r.Context(), c); err != nil {
		h.fail(w, "set credentials", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveVideo handles GET /videos/{video_no}/variants.
func (h *Handler) ResolveVideo(w http.ResponseWriter, r *http.Request) {
	videoNo, err := strconv.ParseInt(chi.URLParam(r, "video_no"), 10, 64)
	if err != nil || videoNo <= 0 {
		writeError(w, http.StatusBadRequest, "video_no must be a positive integer")
		return
	}
	res, err := h.svc.ResolveVideo(r.Context(), videoNo)
	if err != nil {
		h.fail(w, "resolve video", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps service errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var (
		transient *TransientError
		cfgErr    *ConfigError
	)
	switch {
	case errors.Is(err, ErrChannelNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrChannelExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidChannelURL):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, manifest.ErrNoVariants):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.As(err, &transient):
		h.log.Warn(op+" failed upstream", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, ErrSupervisorClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error(op+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
