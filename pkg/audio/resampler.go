package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxa-ai/voxa/pkg/errorsx"
	"github.com/voxa-ai/voxa/pkg/frames"
)

// Resampler converts int16 PCM between sample rates using linear
// interpolation. Filter state (the trailing sample per channel and the
// fractional read position) is carried across calls, so a stream resampled
// frame-by-frame is identical to the same stream resampled in one piece and
// frame boundaries stay click-free. Create one per stream; not safe for
// concurrent use.
type Resampler struct {
	srcRate  int
	dstRate  int
	channels int

	// pos is the next output position in source samples, where 0 is the
	// carried sample from the previous call once primed.
	pos    float64
	last   []int16
	primed bool

	warnedMismatch sync.Once
}

func NewResampler(srcRate, dstRate, channels int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", srcRate, dstRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	return &Resampler{
		srcRate:  srcRate,
		dstRate:  dstRate,
		channels: channels,
		last:     make([]int16, channels),
	}, nil
}

// Resample converts one frame to the target rate. A frame whose channel
// count does not match the configured layout is a contract violation and
// fatal for the owning stream.
func (r *Resampler) Resample(f frames.AudioFrame) (frames.AudioFrame, error) {
	if f.Channels() != r.channels {
		return frames.AudioFrame{}, errorsx.Wrap(
			fmt.Errorf("frame has %d channels, resampler configured for %d", f.Channels(), r.channels),
			errorsx.ReasonResampleFormat)
	}
	if len(f.RawPayload())%(2*r.channels) != 0 {
		return frames.AudioFrame{}, errorsx.Wrap(
			fmt.Errorf("PCM payload of %d bytes is not sample-aligned", len(f.RawPayload())),
			errorsx.ReasonResampleFormat)
	}
	if f.Rate() != r.srcRate {
		r.warnedMismatch.Do(func() {
			slog.Warn("resampler input rate differs from configured source rate",
				slog.Int("frame_rate", f.Rate()),
				slog.Int("configured_rate", r.srcRate),
				slog.String("stream_id", f.StreamID()))
		})
	}
	if r.srcRate == r.dstRate {
		return f, nil
	}

	in := decodeInterleaved(f.RawPayload(), r.channels)
	work := in
	if r.primed {
		work = make([][]int16, r.channels)
		for c := 0; c < r.channels; c++ {
			work[c] = append([]int16{r.last[c]}, in[c]...)
		}
	}

	n := 0
	if len(work) > 0 {
		n = len(work[0])
	}
	step := float64(r.srcRate) / float64(r.dstRate)

	out := make([][]int16, r.channels)
	produced := 0
	for {
		pos := r.pos + float64(produced)*step
		if pos >= float64(n-1) {
			break
		}
		idx := int(pos)
		frac := pos - float64(idx)
		for c := 0; c < r.channels; c++ {
			s0 := float64(work[c][idx])
			s1 := float64(work[c][idx+1])
			out[c] = append(out[c], clampInt16(s0*(1-frac)+s1*frac))
		}
		produced++
	}
	r.pos += float64(produced) * step

	if n > 0 {
		for c := 0; c < r.channels; c++ {
			r.last[c] = work[c][n-1]
		}
		r.pos -= float64(n - 1)
		r.primed = true
	}

	// Pooled: the consumer releases the frame once the PCM is on the wire.
	return frames.NewAudioFrameFromPool(f.StreamID(), f.Seq(), encodeInterleaved(out, r.channels), r.dstRate, r.channels), nil
}

// Flush drains the carried filter state at end of stream. It returns a frame
// holding at most a few trailing samples, possibly empty.
func (r *Resampler) Flush(streamID string, seq int64) frames.AudioFrame {
	if !r.primed || r.srcRate == r.dstRate {
		return frames.NewAudioFrame(streamID, seq, nil, r.dstRate, r.channels)
	}
	step := float64(r.srcRate) / float64(r.dstRate)
	out := make([][]int16, r.channels)
	for ; r.pos < 1; r.pos += step {
		for c := 0; c < r.channels; c++ {
			out[c] = append(out[c], r.last[c])
		}
	}
	r.primed = false
	return frames.NewAudioFrame(streamID, seq, encodeInterleaved(out, r.channels), r.dstRate, r.channels)
}

// StereoToMono averages L+R per stereo frame to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rr := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + rr) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

func decodeInterleaved(pcm []byte, channels int) [][]int16 {
	n := len(pcm) / 2 / channels
	out := make([][]int16, channels)
	for c := range out {
		out[c] = make([]int16, n)
	}
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			j := (i*channels + c) * 2
			out[c][i] = int16(pcm[j]) | int16(pcm[j+1])<<8
		}
	}
	return out
}

func encodeInterleaved(samples [][]int16, channels int) []byte {
	if len(samples) == 0 || len(samples[0]) == 0 {
		return nil
	}
	n := len(samples[0])
	out := make([]byte, n*channels*2)
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			j := (i*channels + c) * 2
			out[j] = byte(samples[c][i])
			out[j+1] = byte(samples[c][i] >> 8)
		}
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
