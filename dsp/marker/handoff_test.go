package marker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitPending(t *testing.T, h *Handoff) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandoffDeliversNextDetection(t *testing.T) {
	m := 64
	tr := NewTracker(ModePeak, 2)
	y := make([]float64, m)
	y[20] = 10

	dst := make([]Marker, MaxMarkers+1)
	type answer struct {
		n   int
		err error
	}
	got := make(chan answer, 1)
	go func() {
		n, err := tr.Handoff().Request(context.Background(), dst)
		got <- answer{n, err}
	}()

	waitPending(t, tr.Handoff())
	tr.Detect(axis(m), y, false)

	a := <-got
	if a.err != nil {
		t.Fatalf("Request: %v", a.err)
	}
	if a.n != MaxMarkers+1 {
		t.Fatalf("copied %d markers, want %d", a.n, MaxMarkers+1)
	}
	if dst[0].Bin != 20 || !dst[0].Active {
		t.Fatalf("snapshot marker 0=%+v", dst[0])
	}
	if tr.Handoff().Pending() {
		t.Fatal("handoff must be empty after delivery")
	}
}

func TestHandoffSingleSlot(t *testing.T) {
	h := NewHandoff()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _, _ = h.Request(ctx, make([]Marker, 1)) }()
	waitPending(t, h)

	if _, err := h.Request(context.Background(), make([]Marker, 1)); !errors.Is(err, ErrBusy) {
		t.Fatalf("second request err=%v want ErrBusy", err)
	}
}

func TestHandoffCancel(t *testing.T) {
	h := NewHandoff()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := h.Request(ctx, make([]Marker, 1)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	if h.Pending() {
		t.Fatal("cancelled request must be withdrawn")
	}
	if h.Fulfill([]Marker{{Bin: 1}}) {
		t.Fatal("fulfill must be a no-op without a pending request")
	}
}

func TestHandoffInterrupt(t *testing.T) {
	h := NewHandoff()
	errc := make(chan error, 1)
	go func() {
		_, err := h.Request(context.Background(), make([]Marker, 1))
		errc <- err
	}()

	waitPending(t, h)
	h.Interrupt()

	if err := <-errc; !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err=%v want ErrInterrupted", err)
	}
}
