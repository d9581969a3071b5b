package status

import (
	"testing"
	"time"
)

func TestSenderPreservesOrder(t *testing.T) {
	sender, ch := NewChannel(4)
	go func() {
		Out(sender, "one")
		sender.Send(StepComplete{Step: "flake"})
		sender.Send(Done{Success: true})
	}()

	first := <-ch
	if got, ok := first.(Stdout); !ok || got.Line != "one" {
		t.Fatalf("unexpected first message: %#v", first)
	}
	second := <-ch
	if got, ok := second.(StepComplete); !ok || got.Step != "flake" {
		t.Fatalf("unexpected second message: %#v", second)
	}
	third := <-ch
	if !IsTerminal(third) {
		t.Fatalf("expected terminal message, got %#v", third)
	}
}

func TestSenderDropsAfterClose(t *testing.T) {
	sender, _ := NewChannel(0)
	sender.Close()

	delivered := make(chan bool, 1)
	go func() {
		delivered <- sender.Send(Stdout{Line: "late"})
	}()

	select {
	case ok := <-delivered:
		if ok {
			t.Fatalf("expected send after close to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatalf("send blocked after consumer detached")
	}
}

func TestRecorderLines(t *testing.T) {
	rec := &Recorder{}
	Out(rec, "a")
	rec.Send(Stderr{Line: "b"})
	rec.Send(StepSkipped{Step: "pull"})

	lines := rec.Lines()
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if len(rec.Messages()) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(rec.Messages()))
	}
}
