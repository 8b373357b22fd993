package frames

import (
	"sync"
)

// AudioFrame is an immutable chunk of little-endian int16 PCM samples.
// Frames carry a per-stream monotonic sequence number so ordering can be
// asserted at every stage boundary.
type AudioFrame struct {
	streamID string
	seq      int64
	data     []byte
	rate     int
	ch       int
	pooled   bool
}

func NewAudioFrame(streamID string, seq int64, data []byte, rate, ch int) AudioFrame {
	return AudioFrame{
		streamID: streamID,
		seq:      seq,
		data:     data,
		rate:     rate,
		ch:       ch,
	}
}

// NewAudioFrameFromPool copies data into a pooled buffer. Callers that hand
// frames to short-lived consumers should release them with ReleaseAudioFrame.
func NewAudioFrameFromPool(streamID string, seq int64, data []byte, rate, ch int) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{
		streamID: streamID,
		seq:      seq,
		data:     buf,
		rate:     rate,
		ch:       ch,
		pooled:   true,
	}
}

func (a AudioFrame) StreamID() string { return a.streamID }
func (a AudioFrame) Seq() int64       { return a.seq }
func (a AudioFrame) Rate() int        { return a.rate }
func (a AudioFrame) Channels() int    { return a.ch }

// Data returns a defensive copy of the PCM payload.
func (a AudioFrame) Data() []byte { return append([]byte(nil), a.data...) }

// RawPayload returns the underlying buffer without copying. The caller must
// not retain it past the frame's lifetime when the frame is pooled.
func (a AudioFrame) RawPayload() []byte { return a.data }

// Samples returns the per-channel sample count of the frame.
func (a AudioFrame) Samples() int {
	if a.ch == 0 {
		return 0
	}
	return len(a.data) / 2 / a.ch
}

func ReleaseAudioFrame(f AudioFrame) bool {
	if f.pooled {
		ReleaseAudioBuf(f.data)
		return true
	}
	return false
}

// TranscriptFrame is one recognition event from the transcription channel.
// Interim frames for an utterance are superseded by later frames carrying the
// same utterance ID; exactly one Final frame closes an utterance.
type TranscriptFrame struct {
	streamID    string
	utteranceID string
	text        string
	final       bool
	confidence  float64
}

func NewTranscriptFrame(streamID, utteranceID, text string, final bool, confidence float64) TranscriptFrame {
	return TranscriptFrame{
		streamID:    streamID,
		utteranceID: utteranceID,
		text:        text,
		final:       final,
		confidence:  confidence,
	}
}

func (t TranscriptFrame) StreamID() string    { return t.streamID }
func (t TranscriptFrame) UtteranceID() string { return t.utteranceID }
func (t TranscriptFrame) Text() string        { return t.text }
func (t TranscriptFrame) Final() bool         { return t.final }
func (t TranscriptFrame) Confidence() float64 { return t.confidence }

// SeqGen hands out monotonic sequence numbers per stream.
type SeqGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewSeqGen() *SeqGen {
	return &SeqGen{value: make(map[string]int64)}
}

func (g *SeqGen) Next(streamID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[streamID] + 1
	g.value[streamID] = v
	return v
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}
