package session

import (
	"context"
	"sync"

	"github.com/voxa-ai/voxa/pkg/adapters/tts"
)

const slotDepth = 32

// reorderBuffer restores fragment order across concurrent synthesis streams.
// Each fragment seq owns one slot channel: its worker writes chunks and
// closes the slot when the fragment is fully synthesized, skipped, or failed.
// A single drainer releases slots in ascending seq, so every chunk of seq n
// is emitted before any chunk of seq n+1 regardless of completion timing.
type reorderBuffer struct {
	mu    sync.Mutex
	slots map[int]chan tts.Chunk

	doneAdding chan struct{}
	total      int
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{
		slots:      make(map[int]chan tts.Chunk),
		doneAdding: make(chan struct{}),
	}
}

// slot returns the channel for a fragment seq, creating it on first use.
// Exactly one worker writes to and closes each slot; the drainer only reads.
func (b *reorderBuffer) slot(seq int) chan tts.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.slots[seq]
	if !ok {
		ch = make(chan tts.Chunk, slotDepth)
		b.slots[seq] = ch
	}
	return ch
}

// finish declares how many fragments exist in total. Seqs are dense from 0,
// so the drainer stops after slot total-1. Call exactly once.
func (b *reorderBuffer) finish(total int) {
	b.mu.Lock()
	b.total = total
	b.mu.Unlock()
	close(b.doneAdding)
}

// drain emits chunks in fragment order until all declared fragments have
// drained or the context is cancelled. A slot closed without chunks counts
// as done, so a failed fragment never blocks the ones behind it.
func (b *reorderBuffer) drain(ctx context.Context, emit func(tts.Chunk) error) error {
	done := b.doneAdding // nil once observed, so the select stops firing on it
	for seq := 0; ; seq++ {
		if done == nil && seq >= b.totalFragments() {
			return nil
		}
		ch := b.slot(seq)
		for open := true; open; {
			select {
			case chunk, ok := <-ch:
				if !ok {
					open = false
					break
				}
				if err := emit(chunk); err != nil {
					return err
				}
			case <-done:
				done = nil
				if seq >= b.totalFragments() {
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (b *reorderBuffer) totalFragments() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
