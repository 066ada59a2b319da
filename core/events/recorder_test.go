package events

import (
	"testing"

	"vaultchain/core/types"
)

type typedEvent struct {
	evt *types.Event
}

func (e typedEvent) EventType() string   { return e.evt.Type }
func (e typedEvent) Event() *types.Event { return e.evt }

type bareEvent string

func (e bareEvent) EventType() string { return string(e) }

func TestRecorderDrain(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(typedEvent{evt: &types.Event{Type: "loan.vault.created", Attributes: map[string]string{"vaultId": "ab"}}})
	rec.Emit(bareEvent("loan.vault.closed"))
	rec.Emit(nil)

	drained := rec.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 events, got %d", len(drained))
	}
	if drained[0].Attributes["vaultId"] != "ab" {
		t.Fatalf("unexpected attrs: %+v", drained[0].Attributes)
	}
	if drained[1].Type != "loan.vault.closed" {
		t.Fatalf("unexpected type: %s", drained[1].Type)
	}
	if again := rec.Drain(); len(again) != 0 {
		t.Fatalf("expected drained recorder to be empty, got %d", len(again))
	}
}

func TestRecorderReset(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(bareEvent("x"))
	rec.Reset()
	if got := rec.Drain(); len(got) != 0 {
		t.Fatalf("expected no events after reset, got %d", len(got))
	}
}

func TestWrapKeepsAttributes(t *testing.T) {
	evt := types.NewEvent("loan.vault.deposited")
	evt.Attributes["amount"] = "1.00000000@DFI"

	rec := &Recorder{}
	NoopEmitter{}.Emit(Wrap(evt))
	rec.Emit(Wrap(evt))
	rec.Emit(Wrap(nil))

	drained := rec.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 events, got %d", len(drained))
	}
	if drained[0] != evt || drained[0].Attr("amount") != "1.00000000@DFI" {
		t.Fatalf("unexpected event %+v", drained[0])
	}
	if drained[1].Type != "" || drained[1].Attr("missing") != "" {
		t.Fatalf("expected an empty event for a nil payload, got %+v", drained[1])
	}
}
