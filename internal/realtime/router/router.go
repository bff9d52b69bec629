package router

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/voxdesk/internal/realtime/events"
	"github.com/yegors/voxdesk/internal/realtime/protocol"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// Player is the playback side of the audio pipeline
type Player interface {
	EnqueueBase64(b64 string) error
	Stop()
}

type handlerFunc func(data []byte) error

// streamingMessage is an assistant message under construction
type streamingMessage struct {
	id        string
	text      strings.Builder
	createdAt time.Time
}

// responseState tracks one in-flight response and the input that triggered it
type responseState struct {
	id       string
	input    events.InputMethod
	hasAudio bool
	message  *streamingMessage
}

// Router classifies inbound events and drives the per-response state machine
type Router struct {
	bus    *events.Bus
	player Player
	logger *logger.Logger
	now    func() time.Time

	handlers map[protocol.EventType]handlerFunc

	mu           sync.Mutex
	pendingInput events.InputMethod
	responses    map[string]*responseState
	current      string
}

// New creates a router publishing to bus and feeding voice responses to player
func New(bus *events.Bus, player Player, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Router{
		bus:          bus,
		player:       player,
		logger:       log.Named("router"),
		now:          time.Now,
		pendingInput: events.InputText,
		responses:    make(map[string]*responseState),
	}
	r.handlers = map[protocol.EventType]handlerFunc{
		protocol.TypeSessionCreated:               r.handleSession,
		protocol.TypeSessionUpdated:               r.handleSession,
		protocol.TypeResponseCreated:              r.handleResponseCreated,
		protocol.TypeResponseContentPartAdded:     r.handleContentPartAdded,
		protocol.TypeResponseTextDelta:            r.handleTextDelta,
		protocol.TypeResponseAudioTranscriptDelta: r.handleTextDelta,
		protocol.TypeResponseTextDone:             r.handleTextDone,
		protocol.TypeResponseAudioTranscriptDone:  r.handleTextDone,
		protocol.TypeResponseAudioDelta:           r.handleAudioDelta,
		protocol.TypeResponseAudioDone:            r.handleAudioDone,
		protocol.TypeFunctionCallArgumentsDone:    r.handleFunctionCall,
		protocol.TypeSpeechStarted:                r.handleSpeechStarted,
		protocol.TypeSpeechStopped:                r.handleSpeechStopped,
		protocol.TypeInputTranscriptionCompleted:  r.handleInputTranscription,
		protocol.TypeResponseDone:                 r.handleResponseDone,
		protocol.TypeRateLimitsUpdated:            r.handleRateLimits,
		protocol.TypeError:                        r.handleError,
	}
	return r
}

// NoteInput records how the user produced their latest input. The next
// response binds to it when it is created.
func (r *Router) NoteInput(method events.InputMethod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingInput = method
}

// LastInput returns the input method the next response will bind to
func (r *Router) LastInput() events.InputMethod {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingInput
}

// Reset drops every in-flight response, e.g. after the connection is lost
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = make(map[string]*responseState)
	r.current = ""
}

// Handle routes one raw inbound message. Events are processed in the order
// Handle is called.
func (r *Router) Handle(data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		r.logger.Warn("Dropping undecodable event", Error(err))
		return
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Debug("Ignoring unhandled event", String("type", string(env.Type)))
		return
	}
	if err := handler(data); err != nil {
		r.logger.Warn("Failed to handle event",
			String("type", string(env.Type)),
			Error(err))
	}
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	return nil
}

// stateLocked returns the state for a response id, creating it bound to the
// pending input method when the response was never announced
func (r *Router) stateLocked(responseID string) *responseState {
	if responseID == "" {
		responseID = r.current
	}
	st, ok := r.responses[responseID]
	if !ok {
		st = &responseState{id: responseID, input: r.pendingInput}
		r.responses[responseID] = st
	}
	if responseID != "" {
		r.current = responseID
	}
	return st
}

func (r *Router) handleSession(data []byte) error {
	var ev protocol.SessionEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	if ev.Type == protocol.TypeSessionCreated {
		r.logger.Info("Session created",
			String("session_id", ev.Session.ID),
			String("model", ev.Session.Model))
		r.bus.Publish(events.SessionCreated{SessionID: ev.Session.ID, Model: ev.Session.Model})
		return nil
	}
	r.logger.Debug("Session updated", String("session_id", ev.Session.ID))
	r.bus.Publish(events.SessionUpdated{SessionID: ev.Session.ID})
	return nil
}

func (r *Router) handleResponseCreated(data []byte) error {
	var ev protocol.ResponseCreatedEvent
	if err := decode(data, &ev); err != nil {
		return err
	}

	r.mu.Lock()
	st := r.stateLocked(ev.Response.ID)
	input := st.input
	r.mu.Unlock()

	r.logger.Debug("Response created",
		String("response_id", ev.Response.ID),
		String("input", string(input)))
	return nil
}

func (r *Router) handleContentPartAdded(data []byte) error {
	var ev protocol.ContentPartAddedEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	if ev.Part.Type == protocol.ModalityAudio {
		r.mu.Lock()
		st := r.stateLocked(ev.ResponseID)
		if st.input == events.InputVoice {
			st.hasAudio = true
		}
		r.mu.Unlock()
	}
	return nil
}

func (r *Router) handleTextDelta(data []byte) error {
	var ev protocol.DeltaEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	if ev.Delta == "" {
		return nil
	}

	r.mu.Lock()
	st := r.stateLocked(ev.ResponseID)
	if st.message == nil {
		st.message = &streamingMessage{id: uuid.NewString(), createdAt: r.now()}
	}
	st.message.text.WriteString(ev.Delta)
	delta := events.MessageDelta{
		MessageID:  st.message.id,
		ResponseID: st.id,
		Delta:      ev.Delta,
		Text:       st.message.text.String(),
	}
	r.mu.Unlock()

	r.bus.Publish(delta)
	return nil
}

func (r *Router) handleTextDone(data []byte) error {
	var ev protocol.DoneEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	final := ev.Text
	if ev.Type == protocol.TypeResponseAudioTranscriptDone {
		final = ev.Transcript
	}

	r.mu.Lock()
	st := r.stateLocked(ev.ResponseID)
	msg, ok := r.finalizeLocked(st, final)
	r.mu.Unlock()

	if ok {
		r.bus.Publish(events.MessageCompleted{Message: msg})
	}
	return nil
}

// finalizeLocked snapshots the streaming message and returns it to idle.
// The accumulated text wins; fallback is used only when no delta arrived.
func (r *Router) finalizeLocked(st *responseState, fallback string) (events.Message, bool) {
	m := st.message
	if m == nil {
		if fallback == "" {
			return events.Message{}, false
		}
		m = &streamingMessage{id: uuid.NewString(), createdAt: r.now()}
		m.text.WriteString(fallback)
	}
	st.message = nil

	text := m.text.String()
	if text == "" {
		text = fallback
	}
	return events.Message{
		ID:          m.id,
		ResponseID:  st.id,
		Text:        text,
		Done:        true,
		HasAudio:    st.hasAudio && st.input == events.InputVoice,
		InputMethod: st.input,
		CreatedAt:   m.createdAt,
		CompletedAt: r.now(),
	}, true
}

func (r *Router) handleAudioDelta(data []byte) error {
	var ev protocol.DeltaEvent
	if err := decode(data, &ev); err != nil {
		return err
	}

	r.mu.Lock()
	st := r.stateLocked(ev.ResponseID)
	voice := st.input == events.InputVoice
	if voice {
		st.hasAudio = true
	}
	r.mu.Unlock()

	if !voice {
		// text input: the response is shown, not spoken
		return nil
	}
	if r.player == nil {
		return nil
	}
	if err := r.player.EnqueueBase64(ev.Delta); err != nil {
		return fmt.Errorf("failed to queue audio delta: %w", err)
	}
	return nil
}

func (r *Router) handleAudioDone(data []byte) error {
	var ev protocol.DoneEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	r.logger.Debug("Audio stream done", String("response_id", ev.ResponseID))
	return nil
}

func (r *Router) handleFunctionCall(data []byte) error {
	var ev protocol.FunctionCallArgumentsDoneEvent
	if err := decode(data, &ev); err != nil {
		return err
	}

	r.mu.Lock()
	st := r.stateLocked(ev.ResponseID)
	input := st.input
	r.mu.Unlock()

	call := events.FunctionCall{
		CallID:      ev.CallID,
		Name:        ev.Name,
		ResponseID:  st.id,
		InputMethod: input,
	}
	args := map[string]any{}
	if strings.TrimSpace(ev.Arguments) != "" {
		if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
			call.DecodeErr = fmt.Errorf("invalid arguments for %s: %w", ev.Name, err)
			args = nil
		}
	}
	call.Arguments = args

	r.logger.Info("Function call requested",
		String("name", ev.Name),
		String("call_id", ev.CallID))
	r.bus.Publish(call)
	return nil
}

// handleSpeechStarted interrupts playback before anything else observes
// the event
func (r *Router) handleSpeechStarted(data []byte) error {
	if r.player != nil {
		r.player.Stop()
	}

	var ev protocol.SpeechEvent
	if err := decode(data, &ev); err != nil {
		return err
	}

	r.NoteInput(events.InputVoice)
	r.bus.Publish(events.SpeechStarted{ItemID: ev.ItemID, AudioStartMs: ev.AudioStartMs})
	return nil
}

func (r *Router) handleSpeechStopped(data []byte) error {
	var ev protocol.SpeechEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	r.bus.Publish(events.SpeechStopped{ItemID: ev.ItemID, AudioEndMs: ev.AudioEndMs})
	return nil
}

func (r *Router) handleInputTranscription(data []byte) error {
	var ev protocol.InputTranscriptionEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	r.bus.Publish(events.UserTranscript{ItemID: ev.ItemID, Transcript: ev.Transcript})
	return nil
}

func (r *Router) handleResponseDone(data []byte) error {
	var ev protocol.ResponseDoneEvent
	if err := decode(data, &ev); err != nil {
		return err
	}

	r.mu.Lock()
	st := r.stateLocked(ev.Response.ID)
	msg, ok := r.finalizeLocked(st, "")
	delete(r.responses, st.id)
	if r.current == st.id {
		r.current = ""
	}
	r.mu.Unlock()

	if ok {
		r.bus.Publish(events.MessageCompleted{Message: msg})
	}
	r.bus.Publish(events.ResponseDone{ResponseID: ev.Response.ID, Status: ev.Response.Status})
	return nil
}

func (r *Router) handleRateLimits(data []byte) error {
	var ev protocol.RateLimitsEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	r.bus.Publish(events.RateLimits{Limits: ev.RateLimits})
	return nil
}

func (r *Router) handleError(data []byte) error {
	var ev protocol.ErrorEvent
	if err := decode(data, &ev); err != nil {
		return err
	}
	serverErr := &ServerError{
		Type:    ev.Error.Type,
		Code:    ev.Error.Code,
		Message: ev.Error.Message,
		Param:   ev.Error.Param,
		EventID: ev.Error.EventID,
	}
	r.logger.Error("Server reported an error",
		String("type", serverErr.Type),
		String("code", serverErr.Code),
		String("message", serverErr.Message))
	r.bus.Publish(events.Error{Err: serverErr})
	return nil
}
