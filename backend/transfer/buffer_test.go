package transfer

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBuffer(ttl time.Duration) *Buffer {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewBuffer(Config{Logger: &logger, TTL: ttl})
}

func appendChunk(t *testing.T, b *Buffer, idx, total int, payload string) bool {
	t.Helper()
	complete, err := b.AppendChunk("ROOM1", "f1", idx, total, payload, "pic.png", "image/png", 1234)
	if err != nil {
		t.Fatalf("AppendChunk(%d/%d): %v", idx, total, err)
	}
	return complete
}

func TestReassemblyOutOfOrder(t *testing.T) {
	b := newTestBuffer(0)

	if appendChunk(t, b, 2, 4, "cc") {
		t.Fatal("complete after 1 of 4 chunks")
	}
	if appendChunk(t, b, 0, 4, "aa") {
		t.Fatal("complete after 2 of 4 chunks")
	}
	if appendChunk(t, b, 3, 4, "dd") {
		t.Fatal("complete after 3 of 4 chunks")
	}
	if !appendChunk(t, b, 1, 4, "bb") {
		t.Fatal("not complete after all 4 chunks")
	}

	file, err := b.TakeCompletedFile("ROOM1", "f1")
	if err != nil {
		t.Fatalf("TakeCompletedFile: %v", err)
	}
	if file.Data != "aabbccdd" {
		t.Errorf("Data = %q, want chunks concatenated in index order", file.Data)
	}
	if file.Name != "pic.png" || file.Type != "image/png" || file.Size != 1234 {
		t.Errorf("metadata = %+v, want values from first chunk", file)
	}

	if _, err = b.TakeCompletedFile("ROOM1", "f1"); !errors.Is(err, ErrNoSuchTransfer) {
		t.Fatalf("second take err = %v, want ErrNoSuchTransfer", err)
	}
}

func TestDuplicateChunkDoesNotDoubleCount(t *testing.T) {
	b := newTestBuffer(0)

	appendChunk(t, b, 0, 3, "old")
	if appendChunk(t, b, 0, 3, "new") {
		t.Fatal("complete after duplicate writes to a single slot")
	}
	if appendChunk(t, b, 1, 3, "bb") {
		t.Fatal("complete with one slot still empty")
	}
	if !appendChunk(t, b, 2, 3, "cc") {
		t.Fatal("not complete after all slots filled")
	}

	file, err := b.TakeCompletedFile("ROOM1", "f1")
	if err != nil {
		t.Fatalf("TakeCompletedFile: %v", err)
	}
	// Last write for an index wins.
	if file.Data != "newbbcc" {
		t.Errorf("Data = %q, want %q", file.Data, "newbbcc")
	}
}

func TestAppendChunkRejectsBadBounds(t *testing.T) {
	b := newTestBuffer(0)

	for _, tt := range []struct {
		name       string
		idx, total int
	}{
		{"negative index", -1, 4},
		{"index at total", 4, 4},
		{"zero total", 0, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.AppendChunk("ROOM1", "f1", tt.idx, tt.total, "x", "f", "t", 1)
			if !errors.Is(err, ErrChunkOutOfRange) {
				t.Fatalf("err = %v, want ErrChunkOutOfRange", err)
			}
		})
	}

	appendChunk(t, b, 0, 4, "aa")
	if _, err := b.AppendChunk("ROOM1", "f1", 1, 5, "bb", "f", "t", 1); !errors.Is(err, ErrChunkOutOfRange) {
		t.Fatalf("mismatched totalChunks err = %v, want ErrChunkOutOfRange", err)
	}
}

func TestKeysScopedPerRoom(t *testing.T) {
	b := newTestBuffer(0)

	// Same file id in two rooms must not collide.
	if _, err := b.AppendChunk("ROOM1", "f1", 0, 1, "one", "a", "t", 1); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if _, err := b.AppendChunk("ROOM2", "f1", 0, 1, "two", "b", "t", 1); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	f1, err := b.TakeCompletedFile("ROOM1", "f1")
	if err != nil {
		t.Fatalf("TakeCompletedFile ROOM1: %v", err)
	}
	f2, err := b.TakeCompletedFile("ROOM2", "f1")
	if err != nil {
		t.Fatalf("TakeCompletedFile ROOM2: %v", err)
	}
	if f1.Data != "one" || f2.Data != "two" {
		t.Errorf("got %q and %q, want per-room payloads", f1.Data, f2.Data)
	}
}

func TestTakeIncomplete(t *testing.T) {
	b := newTestBuffer(0)
	appendChunk(t, b, 0, 2, "aa")

	if _, err := b.TakeCompletedFile("ROOM1", "f1"); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}
	if b.Pending() != 1 {
		t.Fatalf("Pending() = %d, want entry kept after failed take", b.Pending())
	}
}

func TestEvictIdle(t *testing.T) {
	b := newTestBuffer(50 * time.Millisecond)

	appendChunk(t, b, 0, 2, "stale")
	time.Sleep(80 * time.Millisecond)
	if _, err := b.AppendChunk("ROOM1", "f2", 0, 2, "fresh", "f", "t", 1); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	b.evictIdle()

	if b.Pending() != 1 {
		t.Fatalf("Pending() = %d, want only the fresh transfer left", b.Pending())
	}
	if _, err := b.TakeCompletedFile("ROOM1", "f1"); !errors.Is(err, ErrNoSuchTransfer) {
		t.Fatalf("stale transfer err = %v, want ErrNoSuchTransfer", err)
	}
}
