package catalog

import (
	"github.com/waveq/waveq-engine/pkg/audio"
	"github.com/waveq/waveq-engine/pkg/models"
)

// Canonical precedence classes. Structural edits reduce to the region of
// interest first; normalize runs after anything that can change peak level;
// convert_format always runs last.
const (
	ClassStructural = 1 // split, trim
	ClassCombine    = 2 // merge
	ClassTransform  = 3 // speed_change, pitch_change
	ClassEnhance    = 4 // effects; caller order preserved within the class
	ClassLevel      = 5 // normalize
	ClassFormat     = 6 // convert_format
)

func builtinEntries() []Entry {
	return []Entry{
		{
			Kind:        models.OpTrim,
			Description: "Trim audio to a time range",
			OrderClass:  ClassStructural,
			Params: []ParamSpec{
				{Name: "start_ms", Type: TypeNumber, Required: true, Min: ptr(0)},
				{Name: "end_ms", Type: TypeNumber, Required: true, Min: ptr(0)},
			},
		},
		{
			Kind:        models.OpSplit,
			Description: "Split audio into fixed-length segments",
			OrderClass:  ClassStructural,
			Params: []ParamSpec{
				{Name: "segment_ms", Type: TypeNumber, Required: true, Min: ptr(100)},
			},
		},
		{
			Kind:        models.OpMerge,
			Description: "Concatenate additional audio sources onto the clip",
			OrderClass:  ClassCombine,
			Params: []ParamSpec{
				{Name: "sources", Type: TypeList},
				{Name: "gap_ms", Type: TypeNumber, Default: float64(0), Min: ptr(0), Max: ptr(10000)},
			},
		},
		{
			Kind:        models.OpSpeedChange,
			Description: "Change playback speed by a factor",
			OrderClass:  ClassTransform,
			Params: []ParamSpec{
				{Name: "factor", Type: TypeNumber, Required: true, Min: ptr(0.25), Max: ptr(4.0)},
			},
		},
		{
			Kind:        models.OpPitchChange,
			Description: "Shift pitch by semitones",
			OrderClass:  ClassTransform,
			Params: []ParamSpec{
				{Name: "semitones", Type: TypeNumber, Required: true, Min: ptr(-24), Max: ptr(24)},
			},
		},
		{
			Kind:        models.OpNoiseReduction,
			Description: "Reduce background noise",
			OrderClass:  ClassEnhance,
			Params: []ParamSpec{
				{Name: "strength", Type: TypeNumber, Default: 0.5, Min: ptr(0), Max: ptr(1)},
			},
		},
		{
			Kind:        models.OpEqualize,
			Description: "Apply per-band gain equalization",
			OrderClass:  ClassEnhance,
			Params: []ParamSpec{
				{Name: "bands", Type: TypeMap, Required: true, Min: ptr(-24), Max: ptr(24)},
			},
		},
		{
			Kind:        models.OpCompress,
			Description: "Apply dynamic range compression",
			OrderClass:  ClassEnhance,
			Params: []ParamSpec{
				{Name: "threshold_db", Type: TypeNumber, Default: float64(-24), Min: ptr(-60), Max: ptr(0)},
				{Name: "ratio", Type: TypeNumber, Default: float64(4), Min: ptr(1), Max: ptr(20)},
				{Name: "attack_ms", Type: TypeNumber, Default: float64(10), Min: ptr(1), Max: ptr(500)},
				{Name: "release_ms", Type: TypeNumber, Default: float64(250), Min: ptr(1), Max: ptr(5000)},
			},
		},
		{
			Kind:        models.OpReverb,
			Description: "Add reverb",
			OrderClass:  ClassEnhance,
			Params: []ParamSpec{
				{Name: "room_size", Type: TypeNumber, Default: 0.5, Min: ptr(0), Max: ptr(1)},
				{Name: "damping", Type: TypeNumber, Default: 0.5, Min: ptr(0), Max: ptr(1)},
			},
		},
		{
			Kind:        models.OpFadeIn,
			Description: "Fade in from silence",
			OrderClass:  ClassEnhance,
			Params: []ParamSpec{
				{Name: "duration_ms", Type: TypeNumber, Default: float64(1000), Min: ptr(1), Max: ptr(60000)},
			},
		},
		{
			Kind:        models.OpFadeOut,
			Description: "Fade out to silence",
			OrderClass:  ClassEnhance,
			Params: []ParamSpec{
				{Name: "duration_ms", Type: TypeNumber, Default: float64(1000), Min: ptr(1), Max: ptr(60000)},
			},
		},
		{
			Kind:        models.OpNormalize,
			Description: "Normalize peak level to a target dBFS",
			OrderClass:  ClassLevel,
			Params: []ParamSpec{
				{Name: "target_db", Type: TypeNumber, Default: float64(-20), Min: ptr(-70), Max: ptr(0)},
			},
		},
		{
			Kind:        models.OpConvertFormat,
			Description: "Convert container/codec format",
			OrderClass:  ClassFormat,
			Params: []ParamSpec{
				{Name: "format", Type: TypeString, Required: true, Enum: []string{"wav", "mp3", "flac", "aac", "ogg"}},
				{Name: "quality", Type: TypeString, Default: "high", Enum: []string{"low", "medium", "high"}},
			},
		},
	}
}

// BindDefaults attaches the built-in executor for every registered kind.
// Merge needs the source reader to resolve its additional inputs.
func BindDefaults(c *Catalog, reader audio.SourceReader) error {
	executors := map[models.OperationKind]audio.Executor{
		models.OpTrim:           audio.Trim(),
		models.OpSplit:          audio.Split(),
		models.OpMerge:          audio.Merge(reader),
		models.OpSpeedChange:    audio.SpeedChange(),
		models.OpPitchChange:    audio.PitchChange(),
		models.OpNoiseReduction: audio.NoiseReduction(),
		models.OpEqualize:       audio.Equalize(),
		models.OpCompress:       audio.Compress(),
		models.OpReverb:         audio.Reverb(),
		models.OpFadeIn:         audio.FadeIn(),
		models.OpFadeOut:        audio.FadeOut(),
		models.OpNormalize:      audio.Normalize(),
		models.OpConvertFormat:  audio.ConvertFormat(),
	}
	for kind, exec := range executors {
		if err := c.Bind(kind, exec); err != nil {
			return err
		}
	}
	return nil
}
