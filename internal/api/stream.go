package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/yegors/voxdesk/internal/audio"
	"github.com/yegors/voxdesk/internal/bridge"
	"github.com/yegors/voxdesk/internal/realtime/events"
	"github.com/yegors/voxdesk/internal/realtime/router"
	"github.com/yegors/voxdesk/internal/realtime/transport"
	"github.com/yegors/voxdesk/internal/websocket"
)

// Error classes reported to UI clients
const (
	ClassConfiguration = "configuration"
	ClassTransport     = "transport"
	ClassServer        = "server"
	ClassMedia         = "media"
	ClassFunction      = "function"
	ClassOther         = "other"
)

func errorClass(err error) string {
	var (
		cfgErr       *transport.ConfigurationError
		transportErr *transport.TransportError
		serverErr    *router.ServerError
		mediaErr     *audio.MediaAccessError
		funcErr      *bridge.FunctionExecutionError
	)
	switch {
	case errors.As(err, &cfgErr):
		return ClassConfiguration
	case errors.As(err, &serverErr):
		return ClassServer
	case errors.As(err, &mediaErr):
		return ClassMedia
	case errors.As(err, &funcErr):
		return ClassFunction
	case errors.As(err, &transportErr),
		errors.Is(err, transport.ErrNotConnected),
		errors.Is(err, transport.ErrConnectTimeout):
		return ClassTransport
	default:
		return ClassOther
	}
}

// eventMessage converts an assistant event into a stream frame
func eventMessage(e events.Event) *websocket.Message {
	msg := &websocket.Message{Type: e.Kind().String(), Data: e}
	if ev, ok := e.(events.Error); ok && ev.Err != nil {
		data := map[string]any{
			"error": ev.Err.Error(),
			"class": errorClass(ev.Err),
		}
		var serverErr *router.ServerError
		if errors.As(ev.Err, &serverErr) {
			data["type"] = serverErr.Type
			data["code"] = serverErr.Code
		}
		msg.Data = data
	}
	return msg
}

// StreamEvents broadcasts every assistant event to the UI stream and
// returns the unsubscribe func
func StreamEvents(assistant Assistant, wsServer *websocket.Server) func() {
	return assistant.SubscribeAll(func(e events.Event) {
		wsServer.Broadcast(eventMessage(e))
	})
}

// CommandHandler executes commands sent by UI clients over the event stream.
// Each command is answered on the same client with "<command>.ok" or
// "<command>.error".
type CommandHandler struct {
	assistant Assistant
}

// NewCommandHandler creates a command handler for assistant
func NewCommandHandler(assistant Assistant) *CommandHandler {
	return &CommandHandler{assistant: assistant}
}

// HandleMessage implements websocket.MessageHandler
func (c *CommandHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	var err error
	switch messageType {
	case "connect":
		err = c.assistant.Connect(context.Background())
	case "disconnect":
		c.assistant.Disconnect()
	case "send_text":
		text, _ := data["text"].(string)
		err = c.assistant.SendText(text)
	case "start_recording":
		err = c.assistant.StartRecording(context.Background())
	case "stop_recording":
		err = c.assistant.StopRecording()
	case "cancel_response":
		err = c.assistant.CancelResponse()
	case "reload_instructions":
		err = c.assistant.ReloadInstructions()
	default:
		err = fmt.Errorf("unknown command %q", messageType)
	}

	if err != nil {
		client.Send(&websocket.Message{
			Type: messageType + ".error",
			Data: map[string]any{"error": err.Error(), "class": errorClass(err)},
		})
		return err
	}
	client.Send(&websocket.Message{Type: messageType + ".ok"})
	return nil
}
