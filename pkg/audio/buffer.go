package audio

import (
	"fmt"
	"math"
	"time"
)

// Buffer is an in-memory mono-or-multichannel PCM clip threaded through the
// operation pipeline. Samples are interleaved float64 in [-1, 1].
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float64
	// Format is the container/codec tag the clip will be encoded as when
	// persisted. Content edits leave it untouched; convert_format rewrites it.
	Format  string
	Quality string
	// Parts holds split output. A buffer with parts is persisted as one
	// artifact per segment plus a manifest.
	Parts []*Buffer
}

// Frames returns the per-channel sample count.
func (b *Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the clip length in wall-clock time.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Clone copies the buffer so executors can transform without aliasing.
func (b *Buffer) Clone() *Buffer {
	cp := &Buffer{
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Samples:    append([]float64(nil), b.Samples...),
		Format:     b.Format,
		Quality:    b.Quality,
	}
	for _, p := range b.Parts {
		cp.Parts = append(cp.Parts, p.Clone())
	}
	return cp
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	peak := 0.0
	for _, s := range b.Samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// frameIndex converts a millisecond offset to a frame index, clamped to the
// clip length.
func (b *Buffer) frameIndex(ms float64) int {
	idx := int(ms / 1000.0 * float64(b.SampleRate))
	if idx < 0 {
		idx = 0
	}
	if idx > b.Frames() {
		idx = b.Frames()
	}
	return idx
}

// slice returns the frames in [from, to) as a new buffer.
func (b *Buffer) slice(from, to int) *Buffer {
	if from < 0 {
		from = 0
	}
	if to > b.Frames() {
		to = b.Frames()
	}
	if from > to {
		from = to
	}
	return &Buffer{
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
		Samples:    append([]float64(nil), b.Samples[from*b.Channels:to*b.Channels]...),
		Format:     b.Format,
		Quality:    b.Quality,
	}
}

func (b *Buffer) String() string {
	return fmt.Sprintf("audio.Buffer{%dHz %dch %v %s}", b.SampleRate, b.Channels, b.Duration().Round(time.Millisecond), b.Format)
}

// dbToGain converts a decibel value to a linear multiplier.
func dbToGain(db float64) float64 {
	return math.Pow(10, db/20)
}
