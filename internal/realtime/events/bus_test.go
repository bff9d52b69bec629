package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBus_SubscribeByKind(t *testing.T) {
	bus := NewBus()

	var connected, all int
	bus.Subscribe(KindConnected, func(e Event) {
		if _, ok := e.(Connected); !ok {
			t.Fatalf("handler got %T, want Connected", e)
		}
		connected++
	})
	bus.SubscribeAll(func(Event) { all++ })

	bus.Publish(Connected{URL: "wss://example"})
	bus.Publish(Disconnected{Unexpected: true})

	if connected != 1 {
		t.Fatalf("connected handler calls = %d, want 1", connected)
	}
	if all != 2 {
		t.Fatalf("catch-all handler calls = %d, want 2", all)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsubscribe := bus.Subscribe(KindSpeechStarted, func(Event) { calls++ })
	bus.Publish(SpeechStarted{})
	unsubscribe()
	unsubscribe()
	bus.Publish(SpeechStarted{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(KindResponseDone, func(Event) { order = append(order, i) })
	}
	bus.Publish(ResponseDone{ResponseID: "resp_1"})

	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want [0 1 2]", order)
		}
	}
}

func TestKind_String(t *testing.T) {
	if got := KindFunctionCall.String(); got != "function.call" {
		t.Fatalf("KindFunctionCall.String() = %q", got)
	}
	if got := Kind(999).String(); got != "unknown" {
		t.Fatalf("Kind(999).String() = %q", got)
	}
}

func TestReconnecting_JSONDelayInMilliseconds(t *testing.T) {
	data, err := json.Marshal(Reconnecting{Attempt: 3, Delay: 4 * time.Second})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got, want := string(data), `{"attempt":3,"delay_ms":4000}`; got != want {
		t.Fatalf("Marshal() = %s, want %s", got, want)
	}
}
