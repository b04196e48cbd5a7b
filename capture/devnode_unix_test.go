//go:build unix

package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-scope/internal/testutil"
)

func TestDeviceNodeReadsFrames(t *testing.T) {
	raw := testutil.Interleave(2, []int64{1, -2, 3}, []int64{-4, 5, -6})
	path := filepath.Join(t.TempDir(), "iio:device0")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dev := newPair("adc")
	src := NewDeviceNode(map[string]string{"adc": path})
	defer src.Close(dev)

	got, err := src.Refill(context.Background(), dev, 3)
	if err != nil {
		t.Fatalf("Refill: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("Refill=%v want %v", got, raw)
	}

	if _, err := src.Refill(context.Background(), dev, 1); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err=%v want unexpected EOF", err)
	}
}

func TestDeviceNodeReopensAfterClose(t *testing.T) {
	raw := testutil.Interleave(2, []int64{7}, []int64{8})
	path := filepath.Join(t.TempDir(), "node")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dev := newPair("adc")
	src := NewDeviceNode(map[string]string{"adc": path})

	for range 2 {
		if _, err := src.Refill(context.Background(), dev, 1); err != nil {
			t.Fatalf("Refill: %v", err)
		}
		if err := src.Close(dev); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestDeviceNodeMissingPath(t *testing.T) {
	src := NewDeviceNode(nil)
	if _, err := src.Refill(context.Background(), newPair("adc"), 1); err == nil {
		t.Fatal("expected error without a node path")
	}
	if _, ok := src.Path(newPair("adc")); ok {
		t.Fatal("Path must report missing node")
	}
}
