package events

import "testing"

func TestHubPublish(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", h.Subscribers())
	}

	h.Publish(PowerState, PowerStateEvent{From: "awake", To: "dimmed", Ts: 1})

	ev := <-ch
	if ev.Name != PowerState {
		t.Errorf("event name = %q, want %q", ev.Name, PowerState)
	}
	got, err := DecodeAs[PowerStateEvent](ev)
	if err != nil {
		t.Fatalf("DecodeAs() error = %v", err)
	}
	if got.From != "awake" || got.To != "dimmed" {
		t.Errorf("DecodeAs() = %+v", got)
	}

	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Errorf("channel open after Unsubscribe")
	}
	h.Unsubscribe(ch)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(Button, ButtonEvent{Kind: "press"})
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("queued = %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestNilHubPublish(t *testing.T) {
	var h *EventHub
	h.Publish(Backlight, BacklightEvent{On: true})
}

func TestDecodeAsEmpty(t *testing.T) {
	got, err := DecodeAs[TelemetryEvent](Event{Name: Telemetry})
	if err != nil || got != (TelemetryEvent{}) {
		t.Errorf("DecodeAs(empty) = %+v, %v", got, err)
	}
}
