package imaging

import (
	"time"

	"github.com/holee9/hnvue/internal/herrors"
)

// Pipeline runs the seven-stage correction chain. It holds no mutable
// state between calls; Run is safe to invoke concurrently with
// independent frames.
type Pipeline struct{}

// New constructs a Pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Run executes cfg.Mode's stages against frame in order, validating
// the frame and each applicable calibration before running its stage.
// A stage failure aborts the remaining pipeline; Result.FailedStage
// names which one.
func (p *Pipeline) Run(frame Frame, cfg Config) Result {
	if err := frame.validate(); err != nil {
		return Result{FailedStage: "validate", Err: err}
	}

	var stages []StageResult
	current := frame

	run := func(name string, fn func() (Frame, error)) bool {
		start := time.Now()
		out, err := fn()
		elapsed := time.Since(start).Microseconds()
		stages = append(stages, StageResult{Name: name, ElapsedMicros: elapsed})
		if err != nil {
			return false
		}
		current = out
		return true
	}

	ok := run("offset_correction", func() (Frame, error) {
		if err := cfg.Dark.checkAgainst(current, CalDarkFrame); err != nil {
			return Frame{}, err
		}
		return offsetCorrect(current, cfg.Dark), nil
	})
	if !ok {
		return failResult(current, stages, "offset_correction")
	}

	ok = run("gain_correction", func() (Frame, error) {
		if err := cfg.Gain.checkAgainst(current, CalGainMap); err != nil {
			return Frame{}, err
		}
		return gainCorrect(current, cfg.Gain), nil
	})
	if !ok {
		return failResult(current, stages, "gain_correction")
	}

	if cfg.Mode == FullPipeline {
		ok = run("defect_pixel_map", func() (Frame, error) {
			if err := cfg.Defect.checkAgainst(current, CalDefectMap); err != nil {
				return Frame{}, err
			}
			return correctDefects(current, cfg.Defect), nil
		})
		if !ok {
			return failResult(current, stages, "defect_pixel_map")
		}

		if cfg.Scatter != nil {
			ok = run("scatter_correction", func() (Frame, error) {
				return scatterCorrect(current, *cfg.Scatter), nil
			})
			if !ok {
				return failResult(current, stages, "scatter_correction")
			}
		}

		if cfg.Noise != nil {
			ok = run("noise_reduction", func() (Frame, error) {
				if cfg.Noise.KernelSize%2 == 0 {
					return Frame{}, herrors.New("imaging.noise_reduction", herrors.KindParam, nil)
				}
				return reduceNoise(current, *cfg.Noise), nil
			})
			if !ok {
				return failResult(current, stages, "noise_reduction")
			}
		}

		if cfg.Flatten != nil {
			ok = run("flattening", func() (Frame, error) {
				return flatten(current, *cfg.Flatten), nil
			})
			if !ok {
				return failResult(current, stages, "flattening")
			}
		}
	}

	ok = run("window_level", func() (Frame, error) {
		if cfg.WindowLevel.Window <= 0 {
			return Frame{}, herrors.New("imaging.window_level", herrors.KindParam, nil)
		}
		return windowLevel(current, cfg.WindowLevel), nil
	})
	if !ok {
		return failResult(current, stages, "window_level")
	}

	return Result{Frame: current, Stages: stages}
}

func failResult(frame Frame, stages []StageResult, failed string) Result {
	return Result{
		Frame:       frame,
		Stages:      stages,
		FailedStage: failed,
		Err:         herrors.New("imaging.Run:"+failed, herrors.KindParam, nil),
	}
}
