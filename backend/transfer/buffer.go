// Package transfer accumulates chunked file uploads until every chunk has
// arrived, then hands back the reassembled payload. File IDs are only unique
// within a room, so entries are keyed by (room code, file id).
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNoSuchTransfer  = errors.New("no such transfer")
	ErrChunkOutOfRange = errors.New("chunk out of range")
	ErrIncomplete      = errors.New("transfer is not complete")
)

// File is a fully reassembled upload.
type File struct {
	Name string
	Type string
	Size int64
	Data string
}

type entry struct {
	chunks        []string
	filled        []bool
	receivedCount int
	fileName      string
	fileType      string
	fileSize      int64
	lastTouch     time.Time
}

type Buffer struct {
	mx      *sync.Mutex
	entries map[string]*entry

	ttl   time.Duration
	sweep time.Duration

	logger zerolog.Logger
}

type Config struct {
	Logger *zerolog.Logger

	// TTL evicts transfers idle longer than this. Zero disables eviction,
	// in which case an abandoned upload occupies memory until shutdown.
	TTL           time.Duration
	SweepInterval time.Duration
}

const defaultSweepInterval = time.Minute

func NewBuffer(cfg Config) *Buffer {
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	return &Buffer{
		mx:      &sync.Mutex{},
		entries: make(map[string]*entry),
		ttl:     cfg.TTL,
		sweep:   sweep,
		logger:  cfg.Logger.With().Str("component", "transfer-buffer").Logger(),
	}
}

func key(roomCode, fileID string) string {
	return roomCode + "_" + fileID
}

// AppendChunk stores one chunk, creating the entry on first sight of the key.
// Rewriting an already-filled index overwrites the slot (last write wins) but
// never double-counts: receivedCount only moves on an empty-to-filled
// transition, which is what keeps completion detection correct. Returns true
// exactly when the entry became complete with this call.
func (b *Buffer) AppendChunk(roomCode, fileID string, chunkIndex, totalChunks int, payload, fileName, fileType string, fileSize int64) (bool, error) {
	if totalChunks < 1 || chunkIndex < 0 || chunkIndex >= totalChunks {
		return false, fmt.Errorf("%w: index %d of %d", ErrChunkOutOfRange, chunkIndex, totalChunks)
	}

	b.mx.Lock()
	defer b.mx.Unlock()

	k := key(roomCode, fileID)
	e, ok := b.entries[k]
	if !ok {
		e = &entry{
			chunks:   make([]string, totalChunks),
			filled:   make([]bool, totalChunks),
			fileName: fileName,
			fileType: fileType,
			fileSize: fileSize,
		}
		b.entries[k] = e
	}
	if totalChunks != len(e.chunks) {
		return false, fmt.Errorf("%w: totalChunks %d does not match transfer of %d chunks",
			ErrChunkOutOfRange, totalChunks, len(e.chunks))
	}

	e.chunks[chunkIndex] = payload
	if !e.filled[chunkIndex] {
		e.filled[chunkIndex] = true
		e.receivedCount++
	}
	e.lastTouch = time.Now()

	return e.receivedCount == len(e.chunks), nil
}

// TakeCompletedFile concatenates all chunks in index order, removes the entry
// and returns the file. The entry is gone afterwards; a second call for the
// same key reports ErrNoSuchTransfer.
func (b *Buffer) TakeCompletedFile(roomCode, fileID string) (File, error) {
	b.mx.Lock()
	defer b.mx.Unlock()

	k := key(roomCode, fileID)
	e, ok := b.entries[k]
	if !ok {
		return File{}, ErrNoSuchTransfer
	}
	if e.receivedCount != len(e.chunks) {
		return File{}, fmt.Errorf("%w: %d of %d chunks", ErrIncomplete, e.receivedCount, len(e.chunks))
	}

	delete(b.entries, k)
	return File{
		Name: e.fileName,
		Type: e.fileType,
		Size: e.fileSize,
		Data: strings.Join(e.chunks, ""),
	}, nil
}

// Pending reports the number of in-flight transfers.
func (b *Buffer) Pending() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.entries)
}

// Run periodically evicts idle transfers until the context is canceled.
// No-op when TTL is zero.
func (b *Buffer) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	if b.ttl <= 0 {
		b.logger.Debug().Msg("transfer eviction disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(b.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.evictIdle()
		}
	}
}

func (b *Buffer) evictIdle() {
	cutoff := time.Now().Add(-b.ttl)

	b.mx.Lock()
	defer b.mx.Unlock()

	for k, e := range b.entries {
		if e.lastTouch.Before(cutoff) {
			delete(b.entries, k)
			b.logger.Warn().
				Str("key", k).
				Int("received", e.receivedCount).
				Int("total", len(e.chunks)).
				Msg("evicted idle transfer")
		}
	}
}
