package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/voxdesk/internal/audio"
	"github.com/yegors/voxdesk/internal/config"
	"github.com/yegors/voxdesk/internal/realtime/events"
	"github.com/yegors/voxdesk/internal/realtime/router"
	"github.com/yegors/voxdesk/internal/realtime/transport"
	"github.com/yegors/voxdesk/internal/store"
	"github.com/yegors/voxdesk/pkg/logger"
)

// fakeBackend is a websocket server standing in for the realtime API
type fakeBackend struct {
	srv      *httptest.Server
	received chan map[string]any
	conns    chan *websocket.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		received: make(chan map[string]any, 256),
		conns:    make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err == nil {
				b.received <- m
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("backend never accepted a connection")
		return nil
	}
}

// expect returns the next message the client sent and checks its type
func (b *fakeBackend) expect(t *testing.T, typ string) map[string]any {
	t.Helper()
	select {
	case m := <-b.received:
		if m["type"] != typ {
			t.Fatalf("received %v, want type %q", m["type"], typ)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no %q message received", typ)
		return nil
	}
}

func send(t *testing.T, conn *websocket.Conn, ev map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("backend write failed: %v", err)
	}
}

type fakeSource struct {
	mu sync.Mutex
	fn   func([]float32)
	fail error
}

func (s *fakeSource) Start(ctx context.Context, opts audio.CaptureOptions, fn func([]float32)) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = nil
	return nil
}

func (s *fakeSource) push(samples []float32) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

type chanSink struct {
	played chan int
}

func (s *chanSink) Play(ctx context.Context, samples []float32) error {
	s.played <- len(samples)
	return nil
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.BaseURL = baseURL
	cfg.Audio.CaptureStrategy = "inline"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config, deps Deps) *Client {
	t.Helper()
	if deps.Tasks == nil {
		mem := store.NewMemory()
		if err := store.Seed(context.Background(), mem, "Today"); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		deps.Tasks, deps.Calendar = mem, mem
	}
	c, err := NewClient(cfg, deps, logger.NewNop())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func modalities(m map[string]any) []string {
	resp, _ := m["response"].(map[string]any)
	raw, _ := resp["modalities"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.OpenAI.APIKey = ""

	_, err := NewClient(cfg, Deps{}, nil)
	var cfgErr *transport.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("NewClient() error = %v, want ConfigurationError", err)
	}
}

func TestClient_TextTurnRunsFunctionCall(t *testing.T) {
	backend := newFakeBackend(t)
	mem := store.NewMemory()
	store.Seed(context.Background(), mem, "Today")
	sink := &chanSink{played: make(chan int, 8)}
	c := newTestClient(t, testConfig(t, backend.srv.URL), Deps{Tasks: mem, Calendar: mem, Sink: sink})

	completed := make(chan events.Message, 1)
	c.Subscribe(events.KindMessageCompleted, func(e events.Event) {
		completed <- e.(events.MessageCompleted).Message
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != events.StateConnected {
		t.Fatalf("State() = %v, want connected", c.State())
	}
	conn := backend.conn(t)

	update := backend.expect(t, "session.update")
	session, _ := update["session"].(map[string]any)
	if tools, _ := session["tools"].([]any); len(tools) != 7 {
		t.Fatalf("session.update carries %d tools, want 7", len(tools))
	}
	if td, _ := session["turn_detection"].(map[string]any); td["type"] != "server_vad" {
		t.Fatalf("turn_detection = %v", session["turn_detection"])
	}
	if inst, _ := session["instructions"].(string); !strings.Contains(inst, `"Today" list`) || strings.Contains(inst, "{{") {
		t.Fatalf("instructions not rendered: %q", inst)
	}

	if err := c.SendText("  add buy milk "); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	backend.expect(t, "conversation.item.create")
	if got := modalities(backend.expect(t, "response.create")); len(got) != 1 || got[0] != "text" {
		t.Fatalf("response.create modalities = %v, want [text]", got)
	}

	send(t, conn, map[string]any{"type": "response.created", "response": map[string]any{"id": "resp_1"}})
	send(t, conn, map[string]any{"type": "response.audio.delta", "response_id": "resp_1", "delta": audio.EncodeChunk(make([]float32, 480))})
	send(t, conn, map[string]any{"type": "response.text.delta", "response_id": "resp_1", "delta": "Adding "})
	send(t, conn, map[string]any{"type": "response.text.delta", "response_id": "resp_1", "delta": "it"})
	send(t, conn, map[string]any{"type": "response.text.done", "response_id": "resp_1", "text": "Adding it"})
	send(t, conn, map[string]any{
		"type":        "response.function_call_arguments.done",
		"response_id": "resp_1",
		"call_id":     "call_1",
		"name":        "add_tasks",
		"arguments":   `{"tasks":["buy milk"]}`,
	})

	select {
	case msg := <-completed:
		if msg.Text != "Adding it" || msg.HasAudio || msg.InputMethod != events.InputText {
			t.Fatalf("completed message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no completed message")
	}

	out := backend.expect(t, "conversation.item.create")
	item, _ := out["item"].(map[string]any)
	if item["call_id"] != "call_1" || !strings.Contains(item["output"].(string), `"success":true`) {
		t.Fatalf("function output item = %v", item)
	}
	if got := modalities(backend.expect(t, "response.create")); len(got) != 1 || got[0] != "text" {
		t.Fatalf("follow-up modalities = %v, want [text]", got)
	}

	lists, _ := mem.Lists(context.Background())
	today, _ := store.FindList(lists, "Today")
	if len(today.Tasks) != 1 || today.Tasks[0].Text != "buy milk" {
		t.Fatalf("Today tasks = %+v", today.Tasks)
	}
	select {
	case n := <-sink.played:
		t.Fatalf("played %d samples for a text turn", n)
	default:
	}
}

func TestClient_VoiceTurnStreamsAndPlays(t *testing.T) {
	backend := newFakeBackend(t)
	source := &fakeSource{}
	sink := &chanSink{played: make(chan int, 8)}
	c := newTestClient(t, testConfig(t, backend.srv.URL), Deps{Source: source, Sink: sink})

	started := make(chan events.RecordingStarted, 1)
	c.Subscribe(events.KindRecordingStarted, func(e events.Event) { started <- e.(events.RecordingStarted) })

	if err := c.StartRecording(context.Background()); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("StartRecording() before connect error = %v, want ErrNotConnected", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := backend.conn(t)
	backend.expect(t, "session.update")

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if s := <-started; s.Strategy != audio.StrategyInline {
		t.Fatalf("strategy = %q, want inline", s.Strategy)
	}
	if !c.Recording() || c.LastInput() != events.InputVoice {
		t.Fatalf("Recording() = %v, LastInput() = %v", c.Recording(), c.LastInput())
	}

	source.push(make([]float32, 3000))
	appended := backend.expect(t, "input_audio_buffer.append")
	samples, err := audio.DecodeChunk(appended["audio"].(string))
	if err != nil || len(samples) != audio.ChunkSamples {
		t.Fatalf("appended chunk = %d samples, %v", len(samples), err)
	}
	if c.LastAudioSend().IsZero() {
		t.Fatalf("LastAudioSend() not updated")
	}

	send(t, conn, map[string]any{"type": "response.created", "response": map[string]any{"id": "resp_v"}})
	send(t, conn, map[string]any{"type": "response.audio.delta", "response_id": "resp_v", "delta": audio.EncodeChunk(make([]float32, 480))})

	select {
	case n := <-sink.played:
		if n != 480 {
			t.Fatalf("played %d samples, want 480", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("voice response audio never played")
	}

	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if c.Recording() {
		t.Fatalf("still recording after StopRecording")
	}
}

// blockingSink plays until its context is cancelled
type blockingSink struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (s *blockingSink) Play(ctx context.Context, samples []float32) error {
	s.started <- struct{}{}
	<-ctx.Done()
	s.cancelled <- struct{}{}
	return ctx.Err()
}

func TestClient_StartRecordingStopsPlayback(t *testing.T) {
	backend := newFakeBackend(t)
	sink := &blockingSink{started: make(chan struct{}, 4), cancelled: make(chan struct{}, 4)}
	c := newTestClient(t, testConfig(t, backend.srv.URL), Deps{Source: &fakeSource{}, Sink: sink})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	backend.expect(t, "session.update")

	c.player.Enqueue(make([]float32, 480))
	c.player.Enqueue(make([]float32, 480))
	select {
	case <-sink.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("playback never started")
	}
	if !c.Playing() || c.player.Queued() != 1 {
		t.Fatalf("Playing() = %v, Queued() = %d before recording", c.Playing(), c.player.Queued())
	}

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if c.Playing() || c.player.Queued() != 0 {
		t.Fatalf("Playing() = %v, Queued() = %d after StartRecording", c.Playing(), c.player.Queued())
	}
	select {
	case <-sink.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("current buffer was not interrupted")
	}
	select {
	case <-sink.started:
		t.Fatalf("queued buffer played after StartRecording")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_ManualTurnCommitsOnStop(t *testing.T) {
	backend := newFakeBackend(t)
	cfg := testConfig(t, backend.srv.URL)
	cfg.Realtime.TurnDetectionType = "none"
	c := newTestClient(t, cfg, Deps{Source: &fakeSource{}})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	update := backend.expect(t, "session.update")
	session, _ := update["session"].(map[string]any)
	if td, present := session["turn_detection"]; !present || td != nil {
		t.Fatalf("turn_detection = %v, want explicit null", td)
	}

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	backend.expect(t, "input_audio_buffer.commit")
	if got := modalities(backend.expect(t, "response.create")); len(got) != 2 {
		t.Fatalf("modalities = %v, want text+audio", got)
	}

	if err := c.ClearAudioBuffer(); err != nil {
		t.Fatalf("ClearAudioBuffer() error = %v", err)
	}
	backend.expect(t, "input_audio_buffer.clear")
	if err := c.CancelResponse(); err != nil {
		t.Fatalf("CancelResponse() error = %v", err)
	}
	backend.expect(t, "response.cancel")
}

func TestClient_MediaAccessFailureRollsBack(t *testing.T) {
	backend := newFakeBackend(t)
	source := &fakeSource{fail: errors.New("permission denied")}
	c := newTestClient(t, testConfig(t, backend.srv.URL), Deps{Source: source})

	errs := make(chan error, 1)
	c.Subscribe(events.KindError, func(e events.Event) {
		select {
		case errs <- e.(events.Error).Err:
		default:
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	err := c.StartRecording(context.Background())
	var mediaErr *audio.MediaAccessError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("StartRecording() error = %v, want MediaAccessError", err)
	}
	if c.Recording() {
		t.Fatalf("Recording() = true after failed start")
	}
	if got := <-errs; !errors.As(got, &mediaErr) {
		t.Fatalf("published error = %v", got)
	}
}

func TestClient_ServerErrorKeepsSession(t *testing.T) {
	backend := newFakeBackend(t)
	c := newTestClient(t, testConfig(t, backend.srv.URL), Deps{})

	errs := make(chan error, 1)
	c.Subscribe(events.KindError, func(e events.Event) {
		select {
		case errs <- e.(events.Error).Err:
		default:
		}
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := backend.conn(t)
	send(t, conn, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "invalid_request_error", "message": "bad item"},
	})

	select {
	case err := <-errs:
		var serverErr *router.ServerError
		if !errors.As(err, &serverErr) || serverErr.Message != "bad item" {
			t.Fatalf("error = %v, want ServerError", err)
		}
		var transportErr *transport.TransportError
		if errors.As(err, &transportErr) {
			t.Fatalf("server error classified as transport error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error event")
	}
	if c.State() != events.StateConnected {
		t.Fatalf("State() = %v after server error, want connected", c.State())
	}

	c.Disconnect()
	if c.State() != events.StateDisconnected {
		t.Fatalf("State() = %v after Disconnect", c.State())
	}
}

func sessionInstructions(t *testing.T, update map[string]any) string {
	t.Helper()
	session, _ := update["session"].(map[string]any)
	inst, _ := session["instructions"].(string)
	return inst
}

func TestClient_InstructionsFileReloadAndListSwitch(t *testing.T) {
	backend := newFakeBackend(t)
	path := filepath.Join(t.TempDir(), "instructions.tmpl")
	if err := os.WriteFile(path, []byte("Focus on {{.CurrentList}}\n"), 0o644); err != nil {
		t.Fatalf("write instructions: %v", err)
	}
	cfg := testConfig(t, backend.srv.URL)
	cfg.Realtime.Instructions = ""
	cfg.Realtime.InstructionsPath = path

	mem := store.NewMemory()
	store.Seed(context.Background(), mem, "Today", "Work")
	c := newTestClient(t, cfg, Deps{Tasks: mem, Calendar: mem})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn := backend.conn(t)
	if got := sessionInstructions(t, backend.expect(t, "session.update")); got != "Focus on Today" {
		t.Fatalf("instructions = %q, want %q", got, "Focus on Today")
	}

	os.WriteFile(path, []byte("Now {{upper .CurrentList}}"), 0o644)
	if err := c.ReloadInstructions(); err != nil {
		t.Fatalf("ReloadInstructions() error = %v", err)
	}
	if got := sessionInstructions(t, backend.expect(t, "session.update")); got != "Now TODAY" {
		t.Fatalf("reloaded instructions = %q, want %q", got, "Now TODAY")
	}

	os.WriteFile(path, []byte("Broken {{.CurrentList"), 0o644)
	if err := c.ReloadInstructions(); !errors.Is(err, ErrInvalidInstructions) {
		t.Fatalf("ReloadInstructions() error = %v, want ErrInvalidInstructions", err)
	}
	if got := c.renderInstructions(); got != "Now TODAY" {
		t.Fatalf("instructions after a failed reload = %q, want the previous template", got)
	}

	// switching lists resends the configuration before the follow-up response
	send(t, conn, map[string]any{"type": "response.created", "response": map[string]any{"id": "resp_1"}})
	send(t, conn, map[string]any{
		"type":        "response.function_call_arguments.done",
		"response_id": "resp_1",
		"call_id":     "call_1",
		"name":        "switch_task_list",
		"arguments":   `{"list_name":"Work"}`,
	})
	backend.expect(t, "conversation.item.create")
	if got := sessionInstructions(t, backend.expect(t, "session.update")); got != "Now WORK" {
		t.Fatalf("instructions after switch = %q, want %q", got, "Now WORK")
	}
	backend.expect(t, "response.create")
}

func TestClient_ReloadInstructionsWhileDisconnected(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Realtime.Instructions = `Lists: {{join .ListNames ", "}}`
	c := newTestClient(t, cfg, Deps{})

	if err := c.ReloadInstructions(); err != nil {
		t.Fatalf("ReloadInstructions() error = %v", err)
	}
	if got := c.renderInstructions(); got != "Lists: Today" {
		t.Fatalf("instructions = %q", got)
	}
}
