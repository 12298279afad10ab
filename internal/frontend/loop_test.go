package frontend

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

type captureGuest struct {
	buf bytes.Buffer
}

func (c *captureGuest) Write(p []byte) (int, error) { return c.buf.Write(p) }

func TestLoopPassesThroughNonHotkeyBytes(t *testing.T) {
	guest := &captureGuest{}
	loop := &Loop{In: strings.NewReader("hello"), Guest: guest}

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if guest.buf.String() != "hello" {
		t.Fatalf("guest received %q, want %q", guest.buf.String(), "hello")
	}
}

func TestLoopStopsOnContextCancel(t *testing.T) {
	guest := &captureGuest{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := &Loop{In: strings.NewReader("hello"), Guest: guest}
	if err := loop.Run(ctx); err == nil {
		t.Fatal("expected context.Canceled error")
	}
}

func TestLoopDoesNotForwardHotkeyByteWithoutBus(t *testing.T) {
	guest := &captureGuest{}
	loop := &Loop{In: bytes.NewReader([]byte{HotkeyByte, 'x'}), Guest: guest, Bus: nil}

	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if guest.buf.String() != "x" {
		t.Fatalf("guest received %q, want %q (hotkey byte swallowed)", guest.buf.String(), "x")
	}
}
