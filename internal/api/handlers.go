package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/yegors/voxdesk/internal/audio"
	"github.com/yegors/voxdesk/internal/realtime"
	"github.com/yegors/voxdesk/internal/realtime/events"
	"github.com/yegors/voxdesk/internal/realtime/transport"
	"github.com/yegors/voxdesk/internal/store"
	"github.com/yegors/voxdesk/internal/websocket"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Assistant is the part of realtime.Client the HTTP surface drives
type Assistant interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendText(text string) error
	StartRecording(ctx context.Context) error
	StopRecording() error
	CancelResponse() error
	ReloadInstructions() error
	State() events.ConnectionState
	Recording() bool
	Playing() bool
	CaptureStrategy() string
	CurrentList() string
	LastInput() events.InputMethod
	LastAudioSend() time.Time
	SubscribeAll(h events.Handler) func()
}

var _ Assistant = (*realtime.Client)(nil)

// Handler contains the API handlers
type Handler struct {
	assistant Assistant
	tasks     store.TaskStore
	calendar  store.CalendarStore
	wsServer  *websocket.Server
	logger    *logger.Logger

	// connectTimeout bounds Connect calls made on behalf of a request
	connectTimeout time.Duration
}

// NewHandler creates a new API handler
func NewHandler(assistant Assistant, tasks store.TaskStore, calendar store.CalendarStore, wsServer *websocket.Server, connectTimeout time.Duration, log *logger.Logger) *Handler {
	if connectTimeout <= 0 {
		connectTimeout = transport.DefaultConnectTimeout
	}
	return &Handler{
		assistant:      assistant,
		tasks:          tasks,
		calendar:       calendar,
		wsServer:       wsServer,
		connectTimeout: connectTimeout,
		logger:         log.Named("api-handler"),
	}
}

// StatusResponse is returned by GET /assistant/status
type StatusResponse struct {
	State           events.ConnectionState `json:"state"`
	Recording       bool                   `json:"recording"`
	Playing         bool                   `json:"playing"`
	CaptureStrategy string                 `json:"capture_strategy,omitempty"`
	CurrentList     string                 `json:"current_list"`
	LastInput       events.InputMethod     `json:"last_input"`
	LastAudioSend   *time.Time             `json:"last_audio_send,omitempty"`
	StreamClients   int                    `json:"stream_clients"`
}

// GetStatus reports connection and audio state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		State:           h.assistant.State(),
		Recording:       h.assistant.Recording(),
		Playing:         h.assistant.Playing(),
		CaptureStrategy: h.assistant.CaptureStrategy(),
		CurrentList:     h.assistant.CurrentList(),
		LastInput:       h.assistant.LastInput(),
	}
	if t := h.assistant.LastAudioSend(); !t.IsZero() {
		resp.LastAudioSend = &t
	}
	if h.wsServer != nil {
		resp.StreamClients = h.wsServer.ClientCount()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Connect opens the realtime session
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.connectTimeout)
	defer cancel()

	if err := h.assistant.Connect(ctx); err != nil {
		h.logger.Warn("Connect request failed", logger.Error(err))
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"state": h.assistant.State()})
}

// Disconnect closes the realtime session
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.assistant.Disconnect()
	h.writeJSON(w, http.StatusOK, map[string]any{"state": h.assistant.State()})
}

// SendMessage sends a typed message to the assistant
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.assistant.SendText(req.Text); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"sent": true})
}

// StartRecording starts streaming the microphone
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	// The capture device outlives this request
	if err := h.assistant.StartRecording(context.WithoutCancel(r.Context())); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"recording": true, "strategy": h.assistant.CaptureStrategy()})
}

// StopRecording stops streaming the microphone
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	if err := h.assistant.StopRecording(); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"recording": false})
}

// CancelResponse interrupts the response in progress
func (h *Handler) CancelResponse(w http.ResponseWriter, r *http.Request) {
	if err := h.assistant.CancelResponse(); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

// ReloadInstructions re-reads the instructions template
func (h *Handler) ReloadInstructions(w http.ResponseWriter, r *http.Request) {
	if err := h.assistant.ReloadInstructions(); err != nil {
		h.writeError(w, statusFor(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"reloaded": true})
}

// GetTasks returns every task list with its tasks
func (h *Handler) GetTasks(w http.ResponseWriter, r *http.Request) {
	lists, err := h.tasks.Lists(r.Context())
	if err != nil {
		h.logger.Error("Failed to load task lists", logger.Error(err))
		http.Error(w, "Failed to load task lists", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"current_list": h.assistant.CurrentList(),
		"lists":        lists,
	})
}

// GetCalendar returns stored calendar events ordered by start time
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	evs, err := h.calendar.Events(r.Context())
	if err != nil {
		h.logger.Error("Failed to load calendar events", logger.Error(err))
		http.Error(w, "Failed to load calendar events", http.StatusInternalServerError)
		return
	}
	if evs == nil {
		evs = []store.CalendarEvent{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"class": errorClass(err),
	})
}

// statusFor maps client errors to HTTP status codes
func statusFor(err error) int {
	var cfgErr *transport.ConfigurationError
	var mediaErr *audio.MediaAccessError
	switch {
	case errors.Is(err, realtime.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, realtime.ErrInvalidInstructions):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transport.ErrNotConnected):
		return http.StatusConflict
	case errors.As(err, &mediaErr):
		return http.StatusFailedDependency
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.Is(err, transport.ErrConnectTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
