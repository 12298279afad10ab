package commandbus

import (
	"testing"
	"time"
)

func TestSendAndRuntimeReply(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd, ok := b.Next()
		if !ok {
			t.Error("Next() ok = false, want true")
			return
		}
		if cmd.Kind != KindSwitchBackend || cmd.BackendID != "b" {
			t.Errorf("cmd = %+v, want SwitchBackend(b)", cmd)
		}
		cmd.Reply(Reply{NewBackendID: "b"})
	}()

	got, err := b.SwitchBackend("b")
	if err != nil {
		t.Fatalf("SwitchBackend: %v", err)
	}
	if got != "b" {
		t.Fatalf("SwitchBackend() = %q, want b", got)
	}
	<-done
}

func TestSendTimesOutWhenNoConsumer(t *testing.T) {
	b := New()
	_, err := b.send(&Command{Kind: KindGetStatus}, 20*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestReplyErrPropagates(t *testing.T) {
	b := New()
	go func() {
		cmd, _ := b.Next()
		cmd.Reply(Reply{Err: ErrClosed})
	}()
	_, err := b.SwitchBackend("x")
	if err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestCloseStopsRuntimeConsumer(t *testing.T) {
	b := New()
	b.Close()
	_, ok := b.Next()
	if ok {
		t.Fatal("Next() ok = true after Close, want false")
	}
}

func TestSendAfterCloseReturnsErrClosed(t *testing.T) {
	b := New()
	b.Close()
	_, err := b.send(&Command{Kind: KindGetStatus}, 20*time.Millisecond)
	if err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestListBackendsRoundTrip(t *testing.T) {
	b := New()
	want := []BackendInfo{{ID: "a", Active: true}, {ID: "b"}}
	go func() {
		cmd, _ := b.Next()
		if cmd.Kind != KindListBackends {
			t.Errorf("Kind = %v, want KindListBackends", cmd.Kind)
		}
		cmd.Reply(Reply{Backends: want})
	}()

	got, err := b.ListBackends()
	if err != nil {
		t.Fatalf("ListBackends: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || !got[0].Active {
		t.Fatalf("ListBackends() = %+v", got)
	}
}
