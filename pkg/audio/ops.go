package audio

import (
	"context"
	"fmt"
	"math"
)

// Trim keeps the [start_ms, end_ms) region.
func Trim() Executor {
	return ExecutorFunc{Name: "trim", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		start := in.frameIndex(num(params, "start_ms"))
		end := in.frameIndex(num(params, "end_ms"))
		if start >= in.Frames() {
			return nil, fmt.Errorf("trim start %v beyond clip end %v", num(params, "start_ms"), in.Duration())
		}
		return in.slice(start, end), nil
	}}
}

// Split cuts the clip into fixed-length segments carried as parts.
func Split() Executor {
	return ExecutorFunc{Name: "split", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		segFrames := in.frameIndex(num(params, "segment_ms"))
		if segFrames == 0 {
			return nil, fmt.Errorf("segment_ms shorter than one frame at %d Hz", in.SampleRate)
		}
		out := in.slice(0, in.Frames())
		out.Parts = nil
		for from := 0; from < in.Frames(); from += segFrames {
			out.Parts = append(out.Parts, in.slice(from, from+segFrames))
		}
		return out, nil
	}}
}

// Merge concatenates the current clip with additional sources, separated by
// optional silence gaps.
func Merge(reader SourceReader) Executor {
	return ExecutorFunc{Name: "merge", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		refs := sourceRefs(params["sources"])
		if len(refs) == 0 {
			return nil, fmt.Errorf("merge needs at least one additional source")
		}
		gapFrames := in.frameIndex(num(params, "gap_ms"))
		out := in.Clone()
		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			next, err := reader.ReadSource(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("read merge source %s: %w", ref, err)
			}
			if next.SampleRate != out.SampleRate || next.Channels != out.Channels {
				next = Resample(next, out.SampleRate, out.Channels)
			}
			out.Samples = append(out.Samples, make([]float64, gapFrames*out.Channels)...)
			out.Samples = append(out.Samples, next.Samples...)
		}
		return out, nil
	}}
}

// SpeedChange resamples playback by a factor; 2.0 halves the duration.
func SpeedChange() Executor {
	return ExecutorFunc{Name: "speed_change", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		factor := num(params, "factor")
		if factor <= 0 {
			return nil, fmt.Errorf("speed factor must be positive, got %v", factor)
		}
		return stretch(in, 1/factor), nil
	}}
}

// PitchChange shifts pitch by semitones, preserving duration. Resample-based:
// shift via rate change, then stretch back to the original length.
func PitchChange() Executor {
	return ExecutorFunc{Name: "pitch_change", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		semitones := num(params, "semitones")
		rate := math.Pow(2, semitones/12)
		shifted := stretch(in, 1/rate)
		return stretch(shifted, float64(in.Frames())/float64(maxInt(shifted.Frames(), 1))), nil
	}}
}

// NoiseReduction attenuates low-level content below a floor scaled by
// strength. A downward expander, not a spectral gate.
func NoiseReduction() Executor {
	return ExecutorFunc{Name: "noise_reduction", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		strength := num(params, "strength")
		floor := 0.02 * strength
		out := in.Clone()
		for i, s := range out.Samples {
			if math.Abs(s) < floor {
				out.Samples[i] = s * (1 - strength)
			}
		}
		return out, nil
	}}
}

// Equalize applies per-band gains. The reference executor folds the bands
// into a single broadband gain; a production binding would filter per band.
func Equalize() Executor {
	return ExecutorFunc{Name: "equalize", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		bands, _ := params["bands"].(map[string]interface{})
		if len(bands) == 0 {
			return nil, fmt.Errorf("equalize needs at least one band")
		}
		total := 0.0
		for _, v := range bands {
			g, _ := v.(float64)
			total += g
		}
		gain := dbToGain(total / float64(len(bands)))
		out := in.Clone()
		for i := range out.Samples {
			out.Samples[i] = clamp(out.Samples[i] * gain)
		}
		return out, nil
	}}
}

// Compress applies static dynamic-range compression above a threshold.
func Compress() Executor {
	return ExecutorFunc{Name: "compress", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		threshold := dbToGain(num(params, "threshold_db"))
		ratio := num(params, "ratio")
		if ratio < 1 {
			ratio = 1
		}
		out := in.Clone()
		for i, s := range out.Samples {
			a := math.Abs(s)
			if a <= threshold {
				continue
			}
			compressed := threshold + (a-threshold)/ratio
			out.Samples[i] = math.Copysign(compressed, s)
		}
		return out, nil
	}}
}

// Reverb mixes in a single feedback delay shaped by room_size and damping.
func Reverb() Executor {
	return ExecutorFunc{Name: "reverb", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		roomSize := num(params, "room_size")
		damping := num(params, "damping")
		delayFrames := int(float64(in.SampleRate) * 0.05 * (0.5 + roomSize))
		feedback := 0.6 * (1 - damping)
		out := in.Clone()
		delaySamples := delayFrames * in.Channels
		for i := delaySamples; i < len(out.Samples); i++ {
			out.Samples[i] = clamp(out.Samples[i] + out.Samples[i-delaySamples]*feedback)
		}
		return out, nil
	}}
}

// FadeIn ramps gain from silence over duration_ms.
func FadeIn() Executor {
	return ExecutorFunc{Name: "fade_in", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		return fade(in, in.frameIndex(num(params, "duration_ms")), true), nil
	}}
}

// FadeOut ramps gain to silence over the final duration_ms.
func FadeOut() Executor {
	return ExecutorFunc{Name: "fade_out", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		return fade(in, in.frameIndex(num(params, "duration_ms")), false), nil
	}}
}

// Normalize scales the clip so its peak sits at target_db dBFS.
func Normalize() Executor {
	return ExecutorFunc{Name: "normalize", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		peak := in.Peak()
		if peak == 0 {
			return in.Clone(), nil
		}
		gain := dbToGain(num(params, "target_db")) / peak
		out := in.Clone()
		for i := range out.Samples {
			out.Samples[i] *= gain
		}
		return out, nil
	}}
}

// ConvertFormat retags the clip's container format and encode quality.
func ConvertFormat() Executor {
	return ExecutorFunc{Name: "convert_format", Fn: func(ctx context.Context, in *Buffer, params map[string]interface{}) (*Buffer, error) {
		out := in.Clone()
		out.Format = str(params, "format")
		out.Quality = str(params, "quality")
		for _, p := range out.Parts {
			p.Format = out.Format
			p.Quality = out.Quality
		}
		return out, nil
	}}
}

// Resample converts a buffer to a target sample rate and channel count.
func Resample(in *Buffer, sampleRate, channels int) *Buffer {
	mono := make([]float64, in.Frames())
	for f := 0; f < in.Frames(); f++ {
		sum := 0.0
		for c := 0; c < in.Channels; c++ {
			sum += in.Samples[f*in.Channels+c]
		}
		mono[f] = sum / float64(in.Channels)
	}

	outFrames := int(float64(len(mono)) * float64(sampleRate) / float64(in.SampleRate))
	out := &Buffer{SampleRate: sampleRate, Channels: channels, Format: in.Format, Quality: in.Quality}
	out.Samples = make([]float64, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		src := int(float64(f) * float64(in.SampleRate) / float64(sampleRate))
		if src >= len(mono) {
			src = len(mono) - 1
		}
		for c := 0; c < channels; c++ {
			out.Samples[f*channels+c] = mono[src]
		}
	}
	return out
}

// stretch resamples the clip to scale*frames, nearest-neighbor.
func stretch(in *Buffer, scale float64) *Buffer {
	outFrames := int(float64(in.Frames()) * scale)
	if outFrames < 1 {
		outFrames = 1
	}
	out := &Buffer{SampleRate: in.SampleRate, Channels: in.Channels, Format: in.Format, Quality: in.Quality}
	out.Samples = make([]float64, outFrames*in.Channels)
	for f := 0; f < outFrames; f++ {
		src := int(float64(f) / scale)
		if src >= in.Frames() {
			src = in.Frames() - 1
		}
		for c := 0; c < in.Channels; c++ {
			out.Samples[f*in.Channels+c] = in.Samples[src*in.Channels+c]
		}
	}
	return out
}

func fade(in *Buffer, frames int, fadeIn bool) *Buffer {
	out := in.Clone()
	if frames > out.Frames() {
		frames = out.Frames()
	}
	for f := 0; f < frames; f++ {
		gain := float64(f) / float64(frames)
		var frame int
		if fadeIn {
			frame = f
		} else {
			frame = out.Frames() - 1 - f
		}
		for c := 0; c < out.Channels; c++ {
			out.Samples[frame*out.Channels+c] *= gain
		}
	}
	return out
}

func sourceRefs(v interface{}) []string {
	switch refs := v.(type) {
	case []string:
		return refs
	case []interface{}:
		out := make([]string, 0, len(refs))
		for _, r := range refs {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if refs == "" {
			return nil
		}
		return []string{refs}
	default:
		return nil
	}
}

func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
