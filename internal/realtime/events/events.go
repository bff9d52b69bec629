package events

import (
	"encoding/json"
	"time"

	"github.com/yegors/voxdesk/internal/realtime/protocol"
)

// Kind identifies an event type on the bus
type Kind int

const (
	KindStateChanged Kind = iota + 1
	KindConnected
	KindDisconnected
	KindReconnecting
	KindError
	KindSessionCreated
	KindSessionUpdated
	KindMessageDelta
	KindMessageCompleted
	KindFunctionCall
	KindFunctionResult
	KindSpeechStarted
	KindSpeechStopped
	KindUserTranscript
	KindResponseDone
	KindRateLimits
	KindRecordingStarted
	KindRecordingStopped
)

var kindNames = map[Kind]string{
	KindStateChanged:     "state.changed",
	KindConnected:        "connected",
	KindDisconnected:     "disconnected",
	KindReconnecting:     "reconnecting",
	KindError:            "error",
	KindSessionCreated:   "session.created",
	KindSessionUpdated:   "session.updated",
	KindMessageDelta:     "message.delta",
	KindMessageCompleted: "message.completed",
	KindFunctionCall:     "function.call",
	KindFunctionResult:   "function.result",
	KindSpeechStarted:    "speech.started",
	KindSpeechStopped:    "speech.stopped",
	KindUserTranscript:   "user.transcript",
	KindResponseDone:     "response.done",
	KindRateLimits:       "rate_limits",
	KindRecordingStarted: "recording.started",
	KindRecordingStopped: "recording.stopped",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is implemented by every value published on the bus
type Event interface {
	Kind() Kind
}

// ConnectionState is the lifecycle state of the realtime session
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// InputMethod records how the user produced the input a response answers
type InputMethod string

const (
	InputText  InputMethod = "text"
	InputVoice InputMethod = "voice"
)

// Message is a finalized assistant response. It is never mutated after
// it has been published.
type Message struct {
	ID          string      `json:"id"`
	ResponseID  string      `json:"response_id,omitempty"`
	Text        string      `json:"text"`
	Done        bool        `json:"done"`
	HasAudio    bool        `json:"has_audio"`
	InputMethod InputMethod `json:"input_method"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// StateChanged is published on every connection state transition
type StateChanged struct {
	From ConnectionState `json:"from"`
	To   ConnectionState `json:"to"`
}

// Connected is published once the session is open and configured
type Connected struct {
	URL string `json:"url"`
}

// Disconnected is published when the session closes. Unexpected is set
// when the reconnect policy gave up.
type Disconnected struct {
	Unexpected bool `json:"unexpected"`
}

// Reconnecting is published before each scheduled retry
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// MarshalJSON reports Delay in milliseconds
func (r Reconnecting) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Attempt int   `json:"attempt"`
		DelayMs int64 `json:"delay_ms"`
	}{r.Attempt, r.Delay.Milliseconds()})
}

// Error carries any runtime failure. Use errors.As on Err to tell a
// transport failure from a server-reported one.
type Error struct {
	Err error `json:"-"`
}

// SessionCreated mirrors the backend session.created event
type SessionCreated struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

// SessionUpdated acknowledges the session configuration
type SessionUpdated struct {
	SessionID string `json:"session_id"`
}

// MessageDelta carries one streamed text fragment and the text so far
type MessageDelta struct {
	MessageID  string `json:"message_id"`
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
	Text       string `json:"text"`
}

// MessageCompleted carries the finalized message of a response
type MessageCompleted struct {
	Message Message `json:"message"`
}

// FunctionCall is a decoded tool invocation. Arguments is nil when the
// argument payload could not be decoded, in which case DecodeErr is set.
type FunctionCall struct {
	CallID      string         `json:"call_id"`
	Name        string         `json:"name"`
	Arguments   map[string]any `json:"arguments"`
	ResponseID  string         `json:"response_id,omitempty"`
	InputMethod InputMethod    `json:"input_method"`
	DecodeErr   error          `json:"-"`
}

// FunctionResult is published after a function output was sent
type FunctionResult struct {
	CallID  string         `json:"call_id"`
	Name    string         `json:"name"`
	Result  map[string]any `json:"result"`
	Success bool           `json:"success"`
}

// SpeechStarted is published after playback has been stopped for barge-in
type SpeechStarted struct {
	ItemID       string `json:"item_id,omitempty"`
	AudioStartMs int    `json:"audio_start_ms"`
}

type SpeechStopped struct {
	ItemID     string `json:"item_id,omitempty"`
	AudioEndMs int    `json:"audio_end_ms"`
}

// UserTranscript is the backend transcription of the user's audio
type UserTranscript struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type ResponseDone struct {
	ResponseID string `json:"response_id"`
	Status     string `json:"status"`
}

type RateLimits struct {
	Limits []protocol.RateLimit `json:"rate_limits"`
}

// RecordingStarted reports the capture strategy in use
type RecordingStarted struct {
	Strategy string `json:"strategy"`
}

type RecordingStopped struct{}

func (StateChanged) Kind() Kind     { return KindStateChanged }
func (Connected) Kind() Kind        { return KindConnected }
func (Disconnected) Kind() Kind     { return KindDisconnected }
func (Reconnecting) Kind() Kind     { return KindReconnecting }
func (Error) Kind() Kind            { return KindError }
func (SessionCreated) Kind() Kind   { return KindSessionCreated }
func (SessionUpdated) Kind() Kind   { return KindSessionUpdated }
func (MessageDelta) Kind() Kind     { return KindMessageDelta }
func (MessageCompleted) Kind() Kind { return KindMessageCompleted }
func (FunctionCall) Kind() Kind     { return KindFunctionCall }
func (FunctionResult) Kind() Kind   { return KindFunctionResult }
func (SpeechStarted) Kind() Kind    { return KindSpeechStarted }
func (SpeechStopped) Kind() Kind    { return KindSpeechStopped }
func (UserTranscript) Kind() Kind   { return KindUserTranscript }
func (ResponseDone) Kind() Kind     { return KindResponseDone }
func (RateLimits) Kind() Kind       { return KindRateLimits }
func (RecordingStarted) Kind() Kind { return KindRecordingStarted }
func (RecordingStopped) Kind() Kind { return KindRecordingStopped }
