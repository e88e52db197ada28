package link

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"remotectl/transport"
)

func TestDisconnectClosesHandleUnderStalledWrite(t *testing.T) {
	handle := newGatedHandle()
	l := newGatedLink(t, handle, 4, 50*time.Millisecond)

	result := submit(t, l, MoveLeft)
	waitForCondition(t, time.Second, func() bool { return handle.entered.Load() == 1 })

	l.Disconnect()
	waitForState(t, l, StateIdle, 2*time.Second)
	if !handle.Closed() {
		t.Fatalf("expected handle to be closed")
	}
	if err := receive(t, result); !errors.Is(err, transport.ErrHandleClosed) {
		t.Fatalf("expected stalled write to fail with ErrHandleClosed, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Close to return after a stalled write")
	}
}

func TestQueuedRequestsFailWithWriteError(t *testing.T) {
	handle := newGatedHandle()
	handle.writeErr = io.ErrClosedPipe
	l := newGatedLink(t, handle, 4, time.Second)

	first := submit(t, l, MoveLeft)
	waitForCondition(t, time.Second, func() bool { return handle.entered.Load() == 1 })
	second := submit(t, l, MoveRight)
	third := submit(t, l, MoveLeft)

	close(handle.release)

	firstErr := receive(t, first)
	var transportErr *TransportError
	if !errors.As(firstErr, &transportErr) || !errors.Is(firstErr, io.ErrClosedPipe) {
		t.Fatalf("expected *TransportError wrapping io.ErrClosedPipe, got %v", firstErr)
	}
	for i, result := range []<-chan error{second, third} {
		if err := receive(t, result); err != firstErr {
			t.Fatalf("queued request %d: expected the first write error, got %v", i+1, err)
		}
	}

	waitForState(t, l, StateFailed, 2*time.Second)
	if len(handle.Bytes()) != 0 {
		t.Fatalf("expected nothing on the wire, got %v", handle.Bytes())
	}
}

func TestSubmitReturnsBusyWhenQueueFull(t *testing.T) {
	handle := newGatedHandle()
	l := newGatedLink(t, handle, 2, time.Second)

	results := []<-chan error{submit(t, l, MoveLeft)}
	waitForCondition(t, time.Second, func() bool { return handle.entered.Load() == 1 })
	results = append(results, submit(t, l, MoveRight), submit(t, l, MoveRight))

	if _, err := l.Submit(MoveLeft); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from a full queue, got %v", err)
	}
	if l.State() != StateConnected {
		t.Fatalf("expected a full queue to leave the link connected, got %s", l.State())
	}

	close(handle.release)
	for i, result := range results {
		if err := receive(t, result); err != nil {
			t.Fatalf("request %d: expected success, got %v", i, err)
		}
	}
}

func TestDisconnectFlushesQueuedCommands(t *testing.T) {
	handle := newGatedHandle()
	l := newGatedLink(t, handle, 4, 2*time.Second)

	results := []<-chan error{submit(t, l, MoveLeft)}
	waitForCondition(t, time.Second, func() bool { return handle.entered.Load() == 1 })
	results = append(results, submit(t, l, MoveRight), submit(t, l, MoveLeft))

	l.Disconnect()
	if l.State() != StateDisconnecting {
		t.Fatalf("expected DISCONNECTING, got %s", l.State())
	}
	close(handle.release)

	waitForState(t, l, StateIdle, 2*time.Second)
	for i, result := range results {
		if err := receive(t, result); err != nil {
			t.Fatalf("request %d: expected queued command to be flushed, got %v", i, err)
		}
	}
	expected := []byte{0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0, 2}
	if got := handle.Bytes(); !bytes.Equal(got, expected) {
		t.Fatalf("expected %v on the wire, got %v", expected, got)
	}
	if !handle.Closed() {
		t.Fatalf("expected handle to be closed after the flush")
	}
}
