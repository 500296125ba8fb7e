package audio

import (
	"context"
	"fmt"
	"math"
	"testing"
)

// clip builds a mono buffer at 1000 Hz whose sample values count up from
// zero, so positions survive slicing and reordering checks.
func clip(frames int) *Buffer {
	b := &Buffer{SampleRate: 1000, Channels: 1, Format: "wav"}
	b.Samples = make([]float64, frames)
	for i := range b.Samples {
		b.Samples[i] = float64(i) / float64(frames)
	}
	return b
}

// constClip builds a buffer where every sample holds the same value.
func constClip(frames, channels int, value float64) *Buffer {
	b := &Buffer{SampleRate: 1000, Channels: channels, Format: "wav"}
	b.Samples = make([]float64, frames*channels)
	for i := range b.Samples {
		b.Samples[i] = value
	}
	return b
}

type mapReader map[string]*Buffer

func (m mapReader) ReadSource(_ context.Context, ref string) (*Buffer, error) {
	b, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("no source %s", ref)
	}
	return b, nil
}

func run(t *testing.T, exec Executor, in *Buffer, params map[string]interface{}) *Buffer {
	t.Helper()
	out, err := exec.Execute(context.Background(), in, params)
	if err != nil {
		t.Fatalf("%s: %v", exec.Kind(), err)
	}
	return out
}

func TestTrim(t *testing.T) {
	tests := []struct {
		name       string
		startMS    float64
		endMS      float64
		wantFrames int
	}{
		{"interior region", 100, 300, 200},
		{"start of clip", 0, 250, 250},
		{"end clamped to clip length", 800, 5000, 200},
		{"inverted range collapses to empty", 400, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, Trim(), clip(1000), map[string]interface{}{
				"start_ms": tt.startMS, "end_ms": tt.endMS,
			})
			if out.Frames() != tt.wantFrames {
				t.Errorf("frames = %d, want %d", out.Frames(), tt.wantFrames)
			}
		})
	}

	t.Run("start beyond clip fails", func(t *testing.T) {
		_, err := Trim().Execute(context.Background(), clip(100), map[string]interface{}{
			"start_ms": 500.0, "end_ms": 600.0,
		})
		if err == nil {
			t.Fatal("trim past the clip end succeeded")
		}
	})

	t.Run("input not mutated", func(t *testing.T) {
		in := clip(1000)
		out := run(t, Trim(), in, map[string]interface{}{"start_ms": 100.0, "end_ms": 200.0})
		out.Samples[0] = 99
		if in.Samples[100] == 99 {
			t.Error("trim output aliases the input samples")
		}
	})
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		frames    int
		segmentMS float64
		wantParts int
		lastLen   int
	}{
		{"even segments", 1000, 250, 4, 250},
		{"short tail segment", 1000, 300, 4, 100},
		{"segment longer than clip", 200, 500, 1, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, Split(), clip(tt.frames), map[string]interface{}{"segment_ms": tt.segmentMS})
			if len(out.Parts) != tt.wantParts {
				t.Fatalf("parts = %d, want %d", len(out.Parts), tt.wantParts)
			}
			last := out.Parts[len(out.Parts)-1]
			if last.Frames() != tt.lastLen {
				t.Errorf("last part frames = %d, want %d", last.Frames(), tt.lastLen)
			}
			total := 0
			for _, p := range out.Parts {
				total += p.Frames()
			}
			if total != tt.frames {
				t.Errorf("parts cover %d frames, want %d", total, tt.frames)
			}
		})
	}

	t.Run("sub-frame segment fails", func(t *testing.T) {
		_, err := Split().Execute(context.Background(), clip(100), map[string]interface{}{"segment_ms": 0.1})
		if err == nil {
			t.Fatal("zero-frame segment accepted")
		}
	})
}

func TestMerge(t *testing.T) {
	reader := mapReader{
		"b.wav":      constClip(100, 1, 0.5),
		"stereo.wav": &Buffer{SampleRate: 2000, Channels: 2, Samples: make([]float64, 400)},
	}

	t.Run("concatenates with gap", func(t *testing.T) {
		out := run(t, Merge(reader), constClip(200, 1, 0.25), map[string]interface{}{
			"sources": []interface{}{"b.wav"}, "gap_ms": 50.0,
		})
		if out.Frames() != 200+50+100 {
			t.Fatalf("frames = %d, want 350", out.Frames())
		}
		if out.Samples[225] != 0 {
			t.Errorf("gap sample = %v, want silence", out.Samples[225])
		}
		if out.Samples[300] != 0.5 {
			t.Errorf("appended sample = %v, want 0.5", out.Samples[300])
		}
	})

	t.Run("resamples mismatched source", func(t *testing.T) {
		out := run(t, Merge(reader), constClip(100, 1, 0.25), map[string]interface{}{
			"sources": []interface{}{"stereo.wav"}, "gap_ms": 0.0,
		})
		// 200 stereo frames at 2000 Hz become 100 mono frames at 1000 Hz.
		if out.Frames() != 200 {
			t.Errorf("frames = %d, want 200", out.Frames())
		}
		if out.Channels != 1 {
			t.Errorf("channels = %d, want 1", out.Channels)
		}
	})

	t.Run("no sources fails", func(t *testing.T) {
		_, err := Merge(reader).Execute(context.Background(), clip(100), map[string]interface{}{
			"sources": []interface{}{}, "gap_ms": 0.0,
		})
		if err == nil {
			t.Fatal("merge with no sources accepted")
		}
	})

	t.Run("unknown source fails", func(t *testing.T) {
		_, err := Merge(reader).Execute(context.Background(), clip(100), map[string]interface{}{
			"sources": "missing.wav", "gap_ms": 0.0,
		})
		if err == nil {
			t.Fatal("missing merge source accepted")
		}
	})
}

func TestSpeedChange(t *testing.T) {
	tests := []struct {
		name       string
		factor     float64
		wantFrames int
	}{
		{"double speed halves length", 2.0, 500},
		{"half speed doubles length", 0.5, 2000},
		{"unity leaves length", 1.0, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, SpeedChange(), clip(1000), map[string]interface{}{"factor": tt.factor})
			if out.Frames() != tt.wantFrames {
				t.Errorf("frames = %d, want %d", out.Frames(), tt.wantFrames)
			}
			if out.SampleRate != 1000 {
				t.Errorf("sample rate changed to %d", out.SampleRate)
			}
		})
	}

	t.Run("non-positive factor fails", func(t *testing.T) {
		_, err := SpeedChange().Execute(context.Background(), clip(100), map[string]interface{}{"factor": 0.0})
		if err == nil {
			t.Fatal("zero speed factor accepted")
		}
	})
}

func TestPitchChangePreservesDuration(t *testing.T) {
	for _, semitones := range []float64{-12, -3, 0, 4, 12} {
		t.Run(fmt.Sprintf("%+.0f semitones", semitones), func(t *testing.T) {
			in := clip(1000)
			out := run(t, PitchChange(), in, map[string]interface{}{"semitones": semitones})
			// Nearest-neighbor restretch can truncate a single frame.
			if diff := out.Frames() - in.Frames(); diff < -1 || diff > 1 {
				t.Errorf("frames = %d, want %d", out.Frames(), in.Frames())
			}
		})
	}
}

func TestCompress(t *testing.T) {
	threshold := dbToGain(-6) // ~0.501

	in := &Buffer{SampleRate: 1000, Channels: 1, Samples: []float64{0.1, -0.3, 0.9, -0.9}}
	out := run(t, Compress(), in, map[string]interface{}{"threshold_db": -6.0, "ratio": 4.0})

	// Below-threshold samples pass through untouched.
	if out.Samples[0] != 0.1 || out.Samples[1] != -0.3 {
		t.Errorf("quiet samples changed: %v", out.Samples[:2])
	}
	// Above-threshold excursion shrinks by the ratio, sign preserved.
	want := threshold + (0.9-threshold)/4
	if math.Abs(out.Samples[2]-want) > 1e-9 {
		t.Errorf("compressed sample = %v, want %v", out.Samples[2], want)
	}
	if math.Abs(out.Samples[3]+want) > 1e-9 {
		t.Errorf("negative sample = %v, want %v", out.Samples[3], -want)
	}

	t.Run("ratio below one clamps to unity", func(t *testing.T) {
		out := run(t, Compress(), in, map[string]interface{}{"threshold_db": -6.0, "ratio": 0.5})
		if out.Samples[2] != 0.9 {
			t.Errorf("unity ratio altered sample to %v", out.Samples[2])
		}
	})
}

func TestReverb(t *testing.T) {
	// An impulse at frame zero. The echo lands one delay line later.
	in := &Buffer{SampleRate: 1000, Channels: 1, Samples: make([]float64, 500)}
	in.Samples[0] = 0.5

	out := run(t, Reverb(), in, map[string]interface{}{"room_size": 0.5, "damping": 0.5})

	delay := int(1000 * 0.05 * (0.5 + 0.5)) // 50 frames
	feedback := 0.6 * (1 - 0.5)
	if got := out.Samples[delay]; math.Abs(got-0.5*feedback) > 1e-9 {
		t.Errorf("echo at frame %d = %v, want %v", delay, got, 0.5*feedback)
	}
	if out.Samples[0] != 0.5 {
		t.Errorf("dry signal altered: %v", out.Samples[0])
	}
	if out.Frames() != in.Frames() {
		t.Errorf("frames = %d, want %d", out.Frames(), in.Frames())
	}

	t.Run("full damping kills the echo", func(t *testing.T) {
		out := run(t, Reverb(), in, map[string]interface{}{"room_size": 0.5, "damping": 1.0})
		if out.Samples[delay] != 0 {
			t.Errorf("echo survived full damping: %v", out.Samples[delay])
		}
	})
}

func TestFade(t *testing.T) {
	t.Run("fade in ramps from silence", func(t *testing.T) {
		out := run(t, FadeIn(), constClip(1000, 1, 0.8), map[string]interface{}{"duration_ms": 500.0})
		if out.Samples[0] != 0 {
			t.Errorf("first sample = %v, want 0", out.Samples[0])
		}
		if got := out.Samples[250]; math.Abs(got-0.4) > 1e-9 {
			t.Errorf("midpoint sample = %v, want 0.4", got)
		}
		if out.Samples[600] != 0.8 {
			t.Errorf("sample past the ramp = %v, want 0.8", out.Samples[600])
		}
	})

	t.Run("fade out ramps to silence", func(t *testing.T) {
		out := run(t, FadeOut(), constClip(1000, 1, 0.8), map[string]interface{}{"duration_ms": 500.0})
		if out.Samples[999] != 0 {
			t.Errorf("last sample = %v, want 0", out.Samples[999])
		}
		if out.Samples[400] != 0.8 {
			t.Errorf("sample before the ramp = %v, want 0.8", out.Samples[400])
		}
	})

	t.Run("duration longer than clip clamps", func(t *testing.T) {
		out := run(t, FadeIn(), constClip(100, 2, 0.8), map[string]interface{}{"duration_ms": 10000.0})
		if out.Frames() != 100 {
			t.Errorf("frames = %d, want 100", out.Frames())
		}
		if out.Samples[0] != 0 || out.Samples[1] != 0 {
			t.Errorf("first frame = %v %v, want silence on both channels", out.Samples[0], out.Samples[1])
		}
	})
}

func TestNormalize(t *testing.T) {
	t.Run("peak lands on target", func(t *testing.T) {
		in := &Buffer{SampleRate: 1000, Channels: 1, Samples: []float64{0.1, -0.4, 0.2}}
		out := run(t, Normalize(), in, map[string]interface{}{"target_db": -6.0})
		if got, want := out.Peak(), dbToGain(-6); math.Abs(got-want) > 1e-9 {
			t.Errorf("peak = %v, want %v", got, want)
		}
	})

	t.Run("silence passes through", func(t *testing.T) {
		out := run(t, Normalize(), constClip(100, 1, 0), map[string]interface{}{"target_db": -6.0})
		if out.Peak() != 0 {
			t.Errorf("silent clip gained a peak of %v", out.Peak())
		}
	})
}

func TestEqualize(t *testing.T) {
	in := constClip(100, 1, 0.25)
	out := run(t, Equalize(), in, map[string]interface{}{
		"bands": map[string]interface{}{"100": 6.0, "1000": 0.0},
	})
	// Broadband gain is the band average: +3 dB.
	want := 0.25 * dbToGain(3)
	if math.Abs(out.Samples[0]-want) > 1e-9 {
		t.Errorf("sample = %v, want %v", out.Samples[0], want)
	}

	t.Run("hot gain clamps to full scale", func(t *testing.T) {
		out := run(t, Equalize(), constClip(10, 1, 0.9), map[string]interface{}{
			"bands": map[string]interface{}{"100": 24.0},
		})
		if out.Samples[0] != 1 {
			t.Errorf("sample = %v, want clamp at 1", out.Samples[0])
		}
	})

	t.Run("no bands fails", func(t *testing.T) {
		_, err := Equalize().Execute(context.Background(), in, map[string]interface{}{
			"bands": map[string]interface{}{},
		})
		if err == nil {
			t.Fatal("empty band map accepted")
		}
	})
}

func TestNoiseReduction(t *testing.T) {
	in := &Buffer{SampleRate: 1000, Channels: 1, Samples: []float64{0.001, 0.5}}
	out := run(t, NoiseReduction(), in, map[string]interface{}{"strength": 0.5})
	if got, want := out.Samples[0], 0.001*0.5; math.Abs(got-want) > 1e-12 {
		t.Errorf("low-level sample = %v, want %v", got, want)
	}
	if out.Samples[1] != 0.5 {
		t.Errorf("program content attenuated to %v", out.Samples[1])
	}
}

func TestConvertFormatRetagsParts(t *testing.T) {
	in := clip(1000)
	in.Parts = []*Buffer{clip(500), clip(500)}

	out := run(t, ConvertFormat(), in, map[string]interface{}{"format": "flac", "quality": "high"})
	if out.Format != "flac" || out.Quality != "high" {
		t.Errorf("format/quality = %s/%s", out.Format, out.Quality)
	}
	for i, p := range out.Parts {
		if p.Format != "flac" {
			t.Errorf("part %d format = %s, want flac", i, p.Format)
		}
	}
	if in.Format != "wav" {
		t.Errorf("input format mutated to %s", in.Format)
	}
}

func TestResample(t *testing.T) {
	tests := []struct {
		name       string
		in         *Buffer
		rate       int
		channels   int
		wantFrames int
	}{
		{"downsample", constClip(1000, 1, 0.5), 500, 1, 500},
		{"upsample", constClip(500, 1, 0.5), 2000, 1, 1000},
		{"stereo to mono", constClip(400, 2, 0.5), 1000, 1, 400},
		{"mono to stereo", constClip(400, 1, 0.5), 1000, 2, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resample(tt.in, tt.rate, tt.channels)
			if out.Frames() != tt.wantFrames {
				t.Errorf("frames = %d, want %d", out.Frames(), tt.wantFrames)
			}
			if out.SampleRate != tt.rate || out.Channels != tt.channels {
				t.Errorf("shape = %dHz %dch, want %dHz %dch", out.SampleRate, out.Channels, tt.rate, tt.channels)
			}
			if out.Samples[0] != 0.5 {
				t.Errorf("sample = %v, want 0.5", out.Samples[0])
			}
		})
	}
}
