package session

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// audioChunkLimit bounds the sequenced chunk list.
	audioChunkLimit = 100
	// audioReorderWindow is how long an out-of-order frame may lag before
	// the sequence cursor skips past it.
	audioReorderWindow = 500 * time.Millisecond
	// audioDiagnosticWindow is the rolling wall-clock buffer retained for
	// diagnostics.
	audioDiagnosticWindow = 10 * time.Second
	// audioPruneInterval is how often the diagnostic buffer is pruned.
	audioPruneInterval = time.Second
)

// audioSequence tags every frame across all sessions. It orders frames only;
// it never coordinates state.
var audioSequence atomic.Uint64

// AudioFrame is one sequenced inbound frame.
type AudioFrame struct {
	Seq        uint64
	Data       []byte
	ReceivedAt time.Time
}

// AudioBuffer keeps the recent sequenced frames of one session plus a
// rolling wall-clock window of raw frames for diagnostics.
type AudioBuffer struct {
	mu sync.Mutex

	chunks                []AudioFrame
	lastProcessedSequence uint64
	expectedNextSequence  uint64
	lastAdvance           time.Time

	recent []AudioFrame

	pruneTicker *time.Ticker
	stopPrune   chan struct{}
}

// NewAudioBuffer creates an empty buffer.
func NewAudioBuffer() *AudioBuffer {
	return &AudioBuffer{}
}

// Add sequences and stores a frame, returning it tagged.
func (b *AudioBuffer) Add(data []byte) AudioFrame {
	frame := AudioFrame{
		Seq:        audioSequence.Add(1),
		Data:       data,
		ReceivedAt: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if frame.Seq >= b.expectedNextSequence {
		b.lastProcessedSequence = frame.Seq
		b.expectedNextSequence = frame.Seq + 1
		b.lastAdvance = frame.ReceivedAt
		b.chunks = append(b.chunks, frame)
	} else if frame.ReceivedAt.Sub(b.lastAdvance) <= audioReorderWindow {
		// Late frame still inside the reordering window.
		b.chunks = append(b.chunks, frame)
	}
	if len(b.chunks) > audioChunkLimit {
		b.chunks = b.chunks[len(b.chunks)-audioChunkLimit:]
	}

	b.recent = append(b.recent, frame)
	return frame
}

// Chunks returns a copy of the sequenced chunk list.
func (b *AudioBuffer) Chunks() []AudioFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AudioFrame, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// LastProcessedSequence returns the newest sequence the cursor has passed.
func (b *AudioBuffer) LastProcessedSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastProcessedSequence
}

// RecentWindow returns the diagnostic frames newer than the rolling window.
func (b *AudioBuffer) RecentWindow() []AudioFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-audioDiagnosticWindow)
	var out []AudioFrame
	for _, f := range b.recent {
		if f.ReceivedAt.After(cutoff) {
			out = append(out, f)
		}
	}
	return out
}

// StartPruning launches the periodic prune of the diagnostic window.
// Idempotent.
func (b *AudioBuffer) StartPruning() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pruneTicker != nil {
		return
	}
	b.pruneTicker = time.NewTicker(audioPruneInterval)
	b.stopPrune = make(chan struct{})

	go func(ticker *time.Ticker, stop chan struct{}) {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.prune()
			}
		}
	}(b.pruneTicker, b.stopPrune)
}

// StopPruning halts the prune loop. Safe to call on every teardown path.
func (b *AudioBuffer) StopPruning() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pruneTicker == nil {
		return
	}
	b.pruneTicker.Stop()
	close(b.stopPrune)
	b.pruneTicker = nil
	b.stopPrune = nil
}

func (b *AudioBuffer) prune() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-audioDiagnosticWindow)
	firstKept := 0
	for firstKept < len(b.recent) && b.recent[firstKept].ReceivedAt.Before(cutoff) {
		firstKept++
	}
	b.recent = b.recent[firstKept:]
}
