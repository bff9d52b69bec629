package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yegors/voxdesk/internal/audio"
	"github.com/yegors/voxdesk/internal/bridge"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/realtime/events"
	"github.com/yegors/voxdesk/internal/realtime/protocol"
	"github.com/yegors/voxdesk/internal/realtime/router"
	"github.com/yegors/voxdesk/internal/realtime/transport"
	"github.com/yegors/voxdesk/internal/store"
	"github.com/yegors/voxdesk/internal/templating"
	"github.com/yegors/voxdesk/pkg/logger"
)

var (
	// ErrNoInputDevice is wrapped in a MediaAccessError when no capture source is configured
	ErrNoInputDevice = errors.New("no audio input device configured")
	// ErrEmptyMessage is returned by SendText for blank input
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrInvalidInstructions wraps read and parse failures of ReloadInstructions
	ErrInvalidInstructions = errors.New("invalid instructions")
)

// Deps are the collaborators a Client is built from. Source, Sink and
// Dialer are optional.
type Deps struct {
	Tasks    store.TaskStore
	Calendar store.CalendarStore
	Source   audio.Source
	Sink     audio.Sink
	Dialer   transport.Dialer
}

// Client is the realtime assistant: one session to the backend, the audio
// pipeline on either side of it and the function-call bridge
type Client struct {
	cfg    *config.Config
	logger *logger.Logger

	bus      *events.Bus
	session  *transport.Session
	router   *router.Router
	player   *audio.Player
	recorder *audio.Recorder
	bridge   *bridge.Bridge

	templates *templating.Engine

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient wires the client from a validated configuration. It fails with a
// transport.ConfigurationError when no API key is configured.
func NewClient(cfg *config.Config, deps Deps, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("realtime")

	bus := events.NewBus()
	session, err := transport.New(transport.Config{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Path:              cfg.OpenAI.RealtimeWebsocketPath,
		Model:             cfg.Realtime.Model,
		ConnectTimeout:    cfg.Realtime.ConnectTimeout(),
		KeepAliveInterval: cfg.Realtime.KeepAliveInterval(),
		Backoff: transport.Backoff{
			Initial:     time.Duration(cfg.Realtime.ReconnectInitialDelayMs) * time.Millisecond,
			Max:         time.Duration(cfg.Realtime.ReconnectMaxDelayMs) * time.Millisecond,
			MaxAttempts: cfg.Realtime.ReconnectMaxAttempts,
		},
	}, deps.Dialer, bus, log)
	if err != nil {
		return nil, err
	}

	sink := deps.Sink
	if sink == nil {
		sink = discardSink{}
	}
	player := audio.NewPlayer(sink, log)
	r := router.New(bus, player, log)

	c := &Client{
		cfg:     cfg,
		logger:  log,
		bus:     bus,
		session: session,
		router:  r,
		player:  player,
		bridge: bridge.New(deps.Tasks, deps.Calendar, session, bus, bridge.Config{
			DefaultList:       cfg.Storage.DefaultList,
			RespondAfterCalls: cfg.Realtime.RespondAfterCalls(),
		}, log),
	}

	// Instructions are a template over the task lists, rendered on every open
	c.templates = templating.NewEngine(templating.NewDataAggregator(deps.Tasks, c.bridge.CurrentList), log)
	if err := c.parseInstructions(); err != nil {
		return nil, err
	}

	if deps.Source != nil {
		c.recorder = audio.NewRecorder(deps.Source, audio.RecorderConfig{
			Strategy:     cfg.Audio.CaptureStrategy,
			ChunkSamples: cfg.Audio.ChunkSamples,
			Capture: audio.CaptureOptions{
				SampleRate:       cfg.Audio.SampleRate,
				Channels:         1,
				EchoCancellation: enabled(cfg.Audio.EchoCancellation),
				NoiseSuppression: enabled(cfg.Audio.NoiseSuppression),
				AutoGainControl:  enabled(cfg.Audio.AutoGainControl),
			},
		}, audio.DetectCapabilities(), log)
	}

	session.SetMessageHandler(r.Handle)
	session.SetSessionConfig(c.sessionConfig)

	// Losing the connection ends capture, playback and every in-flight response
	bus.Subscribe(events.KindStateChanged, func(e events.Event) {
		switch e.(events.StateChanged).To {
		case events.StateReconnecting, events.StateDisconnected:
			c.stopAudio()
			r.Reset()
		}
	})

	// The instructions summarise the current list; a switch re-renders them
	bus.Subscribe(events.KindFunctionResult, func(e events.Event) {
		res := e.(events.FunctionResult)
		if res.Success && res.Name == bridge.FuncSwitchTaskList.String() {
			c.reconfigure()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.bridge.Start(ctx)

	return c, nil
}

func enabled(b *bool) bool { return b == nil || *b }

const instructionsTemplate = "instructions"

func (c *Client) parseInstructions() error {
	if path := c.cfg.Realtime.InstructionsPath; path != "" {
		return c.templates.ParseFile(instructionsTemplate, path)
	}
	return c.templates.Parse(instructionsTemplate, c.cfg.Realtime.Instructions)
}

func (c *Client) renderInstructions() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := c.templates.Render(ctx, instructionsTemplate)
	if err != nil {
		c.logger.Warn("Failed to render instructions, sending them unrendered", logger.Error(err))
		if raw, ok := c.templates.Source(instructionsTemplate); ok {
			return raw
		}
		return c.cfg.Realtime.Instructions
	}
	return text
}

// ReloadInstructions re-reads the configured instructions and, while
// connected, sends them to the backend. The previous template stays in use
// when the new one does not parse.
func (c *Client) ReloadInstructions() error {
	previous, hadPrevious := c.templates.Source(instructionsTemplate)
	c.templates.ClearCache()
	if err := c.parseInstructions(); err != nil {
		if hadPrevious {
			c.templates.Parse(instructionsTemplate, previous)
		}
		return fmt.Errorf("%w: %w", ErrInvalidInstructions, err)
	}
	c.logger.Info("Instructions reloaded", logger.String("path", c.cfg.Realtime.InstructionsPath))
	if c.session.State() != events.StateConnected {
		return nil
	}
	return c.session.Reconfigure()
}

func (c *Client) reconfigure() {
	if c.session.State() != events.StateConnected {
		return
	}
	if err := c.session.Reconfigure(); err != nil {
		c.logger.Warn("Failed to resend session configuration", logger.Error(err))
	}
}

// sessionConfig is sent as session.update every time a connection opens
func (c *Client) sessionConfig() protocol.SessionConfig {
	rt := c.cfg.Realtime
	sc := protocol.SessionConfig{
		Modalities:        []string{protocol.ModalityText, protocol.ModalityAudio},
		Instructions:      c.renderInstructions(),
		Voice:             rt.Voice,
		InputAudioFormat:  rt.InputAudioFormat,
		OutputAudioFormat: rt.OutputAudioFormat,
		Tools:             bridge.Tools(),
		ToolChoice:        "auto",
	}
	if rt.Temperature != nil {
		temperature := *rt.Temperature
		sc.Temperature = &temperature
	}
	if rt.TranscriptionModel != "" {
		sc.InputAudioTranscription = &protocol.TranscriptionConfig{Model: rt.TranscriptionModel}
	}
	if !rt.ManualTurns() {
		threshold := rt.VADThreshold
		prefix := rt.PrefixPaddingMs
		silence := rt.SilenceDurationMs
		sc.TurnDetection = &protocol.TurnDetectionConfig{
			Type:              rt.TurnDetectionType,
			Threshold:         &threshold,
			PrefixPaddingMs:   &prefix,
			SilenceDurationMs: &silence,
		}
	}
	if rt.MaxResponseTokens > 0 {
		sc.MaxResponseOutputTokens = rt.MaxResponseTokens
	} else {
		sc.MaxResponseOutputTokens = "inf"
	}
	return sc
}

// Subscribe registers h for one kind of event and returns its unsubscribe func
func (c *Client) Subscribe(kind events.Kind, h events.Handler) func() {
	return c.bus.Subscribe(kind, h)
}

// SubscribeAll registers h for every event
func (c *Client) SubscribeAll(h events.Handler) func() {
	return c.bus.SubscribeAll(h)
}

// State returns the connection state
func (c *Client) State() events.ConnectionState {
	return c.session.State()
}

// Recording reports whether the microphone is streaming
func (c *Client) Recording() bool {
	return c.recorder != nil && c.recorder.Recording()
}

// Playing reports whether assistant audio is playing
func (c *Client) Playing() bool {
	return c.player.Playing()
}

// CaptureStrategy returns the capture processing strategy, empty without a source
func (c *Client) CaptureStrategy() string {
	if c.recorder == nil {
		return ""
	}
	return c.recorder.Strategy()
}

// CurrentList returns the task list add_tasks writes to
func (c *Client) CurrentList() string {
	return c.bridge.CurrentList()
}

// LastInput returns how the user produced their latest input
func (c *Client) LastInput() events.InputMethod {
	return c.router.LastInput()
}

// LastAudioSend returns when audio was last streamed to the backend
func (c *Client) LastAudioSend() time.Time {
	return c.session.LastAudioSend()
}

// Connect opens the session. Concurrent calls share one attempt.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Disconnect stops capture and playback and closes the session normally
func (c *Client) Disconnect() {
	c.stopAudio()
	c.session.Disconnect()
	c.router.Reset()
}

func (c *Client) stopAudio() {
	if c.recorder != nil && c.recorder.Recording() {
		c.recorder.Stop()
		c.bus.Publish(events.RecordingStopped{})
	}
	c.player.Stop()
}

// SendText sends a typed user message and requests a text-only response
func (c *Client) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.router.NoteInput(events.InputText)
	if err := c.session.Send(protocol.NewUserText(text)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if err := c.session.Send(protocol.NewResponseCreate(bridge.Modalities(events.InputText)...)); err != nil {
		return fmt.Errorf("failed to request response: %w", err)
	}
	c.logger.Debug("Sent text message", logger.Int("length", len(text)))
	return nil
}

// StartRecording halts playback and streams microphone chunks to the
// backend. A device failure is returned as an audio.MediaAccessError, also
// published as an error event, and leaves recording off.
func (c *Client) StartRecording(ctx context.Context) error {
	if c.session.State() != events.StateConnected {
		return transport.ErrNotConnected
	}
	if c.recorder == nil {
		err := &audio.MediaAccessError{Err: ErrNoInputDevice}
		c.bus.Publish(events.Error{Err: err})
		return err
	}
	if c.recorder.Recording() {
		return nil
	}

	c.player.Stop()
	c.router.NoteInput(events.InputVoice)

	err := c.recorder.Start(ctx, func(b64 string) {
		if err := c.session.SendAudio(b64); err != nil {
			c.logger.Debug("Dropped audio chunk", logger.Error(err))
		}
	})
	if err != nil {
		c.bus.Publish(events.Error{Err: err})
		return err
	}
	c.bus.Publish(events.RecordingStarted{Strategy: c.recorder.Strategy()})
	return nil
}

// StopRecording releases the microphone. With turn detection disabled it
// also commits the buffered audio and requests a spoken response.
func (c *Client) StopRecording() error {
	if c.recorder == nil || !c.recorder.Recording() {
		return nil
	}
	c.recorder.Stop()
	c.bus.Publish(events.RecordingStopped{})

	if !c.cfg.Realtime.ManualTurns() {
		return nil
	}
	if err := c.session.Send(protocol.SimpleEvent{Type: protocol.TypeInputAudioBufferCommit}); err != nil {
		return fmt.Errorf("failed to commit audio buffer: %w", err)
	}
	if err := c.session.Send(protocol.NewResponseCreate(bridge.Modalities(events.InputVoice)...)); err != nil {
		return fmt.Errorf("failed to request response: %w", err)
	}
	return nil
}

// ClearAudioBuffer discards audio the backend has buffered but not committed
func (c *Client) ClearAudioBuffer() error {
	return c.session.Send(protocol.SimpleEvent{Type: protocol.TypeInputAudioBufferClear})
}

// CancelResponse stops playback and asks the backend to abandon the
// response in progress
func (c *Client) CancelResponse() error {
	c.player.Stop()
	return c.session.Send(protocol.SimpleEvent{Type: protocol.TypeResponseCancel})
}

// Close disconnects and stops the background workers
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.Disconnect()
		c.cancel()
		c.bridge.Stop()
		c.player.Close()
	})
}

type discardSink struct{}

func (discardSink) Play(ctx context.Context, samples []float32) error { return nil }
