package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType is the "type" discriminator carried by every realtime event
type EventType string

// Outbound (client -> server) event types
const (
	TypeSessionUpdate          EventType = "session.update"
	TypeConversationItemCreate EventType = "conversation.item.create"
	TypeInputAudioBufferAppend EventType = "input_audio_buffer.append"
	TypeInputAudioBufferCommit EventType = "input_audio_buffer.commit"
	TypeInputAudioBufferClear  EventType = "input_audio_buffer.clear"
	TypeResponseCreate         EventType = "response.create"
	TypeResponseCancel         EventType = "response.cancel"
)

// Inbound (server -> client) event types
const (
	TypeSessionCreated               EventType = "session.created"
	TypeSessionUpdated               EventType = "session.updated"
	TypeResponseCreated              EventType = "response.created"
	TypeResponseContentPartAdded     EventType = "response.content_part.added"
	TypeResponseAudioTranscriptDelta EventType = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone  EventType = "response.audio_transcript.done"
	TypeResponseTextDelta            EventType = "response.text.delta"
	TypeResponseTextDone             EventType = "response.text.done"
	TypeResponseAudioDelta           EventType = "response.audio.delta"
	TypeResponseAudioDone            EventType = "response.audio.done"
	TypeFunctionCallArgumentsDone    EventType = "response.function_call_arguments.done"
	TypeSpeechStarted                EventType = "input_audio_buffer.speech_started"
	TypeSpeechStopped                EventType = "input_audio_buffer.speech_stopped"
	TypeInputTranscriptionCompleted  EventType = "conversation.item.input_audio_transcription.completed"
	TypeResponseDone                 EventType = "response.done"
	TypeRateLimitsUpdated            EventType = "rate_limits.updated"
	TypeError                        EventType = "error"
)

// Modalities accepted by response.create
const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

// Envelope is decoded first to find the event type before the full decode
type Envelope struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"`
}

// DecodeEnvelope extracts the type discriminator from a raw event
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("event has no type")
	}
	return env, nil
}

// --- Outbound events ---

// SessionConfig is the "session" object of a session.update event
type SessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetectionConfig `json:"turn_detection"`
	Tools                   []ToolDefinition     `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
	Temperature             *float64             `json:"temperature,omitempty"`
	MaxResponseOutputTokens any                  `json:"max_response_output_tokens,omitempty"`
}

// TurnDetectionConfig configures server-side voice activity detection
type TurnDetectionConfig struct {
	Type              string   `json:"type"`
	Threshold         *float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   *int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs *int     `json:"silence_duration_ms,omitempty"`
}

// TranscriptionConfig enables transcription of the user's audio input
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// ToolDefinition describes one callable function to the backend
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// SessionUpdateEvent configures the session
type SessionUpdateEvent struct {
	Type    EventType     `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Session SessionConfig `json:"session"`
}

// ConversationItem is the item payload of conversation.item.create
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ContentPart is one piece of conversation item content
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ConversationItemCreateEvent adds an item to the conversation
type ConversationItemCreateEvent struct {
	Type    EventType        `json:"type"`
	EventID string           `json:"event_id,omitempty"`
	Item    ConversationItem `json:"item"`
}

// InputAudioBufferAppendEvent streams one base64 PCM16 chunk
type InputAudioBufferAppendEvent struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"`
	Audio   string    `json:"audio"`
}

// SimpleEvent is used for events that carry only a type, such as
// input_audio_buffer.commit, input_audio_buffer.clear and response.cancel
type SimpleEvent struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"`
}

// ResponseOptions restricts what a requested response may contain
type ResponseOptions struct {
	Modalities []string `json:"modalities"`
}

// ResponseCreateEvent requests a new response generation
type ResponseCreateEvent struct {
	Type     EventType       `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Response ResponseOptions `json:"response"`
}

// NewUserText builds a conversation.item.create carrying a user text message
func NewUserText(text string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewFunctionCallOutput builds the result message for a function call
func NewFunctionCallOutput(callID, output string) ConversationItemCreateEvent {
	return ConversationItemCreateEvent{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// NewResponseCreate builds a response.create restricted to the given modalities
func NewResponseCreate(modalities ...string) ResponseCreateEvent {
	return ResponseCreateEvent{
		Type:     TypeResponseCreate,
		Response: ResponseOptions{Modalities: modalities},
	}
}

// --- Inbound events ---

// SessionEvent covers session.created and session.updated
type SessionEvent struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id"`
	Session struct {
		ID           string   `json:"id"`
		Model        string   `json:"model"`
		Modalities   []string `json:"modalities"`
		Voice        string   `json:"voice"`
		Instructions string   `json:"instructions"`
	} `json:"session"`
}

// ResponseCreatedEvent announces a new response
type ResponseCreatedEvent struct {
	Type EventType `json:"type"`
	Response struct {
		ID         string   `json:"id"`
		Status     string   `json:"status"`
		Modalities []string `json:"modalities"`
	} `json:"response"`
}

// ContentPartAddedEvent announces a new content part in a response
type ContentPartAddedEvent struct {
	Type       EventType   `json:"type"`
	ResponseID string      `json:"response_id"`
	ItemID     string      `json:"item_id"`
	Part       ContentPart `json:"part"`
}

// DeltaEvent covers text, transcript and audio deltas
type DeltaEvent struct {
	Type         EventType `json:"type"`
	ResponseID   string    `json:"response_id"`
	ItemID       string    `json:"item_id"`
	OutputIndex  int       `json:"output_index"`
	ContentIndex int       `json:"content_index"`
	Delta        string    `json:"delta"`
}

// DoneEvent covers text, transcript and audio done events
type DoneEvent struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id"`
	ItemID     string    `json:"item_id"`
	Text       string    `json:"text,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
}

// FunctionCallArgumentsDoneEvent carries the complete arguments of a function call
type FunctionCallArgumentsDoneEvent struct {
	Type       EventType `json:"type"`
	ResponseID string    `json:"response_id"`
	ItemID     string    `json:"item_id"`
	CallID     string    `json:"call_id"`
	Name       string    `json:"name"`
	Arguments  string    `json:"arguments"`
}

// SpeechEvent covers speech_started and speech_stopped
type SpeechEvent struct {
	Type         EventType `json:"type"`
	ItemID       string    `json:"item_id"`
	AudioStartMs int       `json:"audio_start_ms,omitempty"`
	AudioEndMs   int       `json:"audio_end_ms,omitempty"`
}

// InputTranscriptionEvent carries the transcript of the user's audio
type InputTranscriptionEvent struct {
	Type       EventType `json:"type"`
	ItemID     string    `json:"item_id"`
	Transcript string    `json:"transcript"`
}

// ResponseDoneEvent marks the end of a response
type ResponseDoneEvent struct {
	Type EventType `json:"type"`
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
}

// RateLimit is one entry of rate_limits.updated
type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// RateLimitsEvent reports the current rate limits
type RateLimitsEvent struct {
	Type       EventType   `json:"type"`
	RateLimits []RateLimit `json:"rate_limits"`
}

// ErrorEvent is a server-reported protocol error
type ErrorEvent struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id"`
	Error   struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
		EventID string `json:"event_id"`
	} `json:"error"`
}
