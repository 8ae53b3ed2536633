package imaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatFrame(w, h int, value uint16) Frame {
	px := make([]uint16, w*h)
	for i := range px {
		px[i] = value
	}
	return Frame{Width: w, Height: h, Stride: w, Pixels: px}
}

func zeroDark(w, h int) *Calibration {
	return &Calibration{Type: CalDarkFrame, Width: w, Height: h, Values: make([]float64, w*h), Valid: true}
}

func unityGain(w, h int) *Calibration {
	vals := make([]float64, w*h)
	for i := range vals {
		vals[i] = 1
	}
	return &Calibration{Type: CalGainMap, Width: w, Height: h, Values: vals, Valid: true}
}

func noDefects(w, h int) *Calibration {
	return &Calibration{Type: CalDefectMap, Width: w, Height: h, Valid: true}
}

func baseConfig(w, h int) Config {
	return Config{
		Mode:        Preview,
		Dark:        zeroDark(w, h),
		Gain:        unityGain(w, h),
		Defect:      noDefects(w, h),
		WindowLevel: WindowLevel{Window: 65535, Level: 32768},
	}
}

func TestPreviewModeRunsOnlyThreeStages(t *testing.T) {
	f := flatFrame(4, 4, 1000)
	cfg := baseConfig(4, 4)

	result := New().Run(f, cfg)
	require.NoError(t, result.Err)
	assert.Equal(t, []string{"offset_correction", "gain_correction", "window_level"}, stageNames(result))
}

func TestFullPipelineRunsConfiguredConditionalStages(t *testing.T) {
	f := flatFrame(8, 8, 1000)
	cfg := baseConfig(8, 8)
	cfg.Mode = FullPipeline
	cfg.Scatter = &ScatterConfig{CutoffFrequency: 0.5, SuppressionRatio: 0.1}
	cfg.Noise = &NoiseConfig{Method: Median, KernelSize: 3}
	cfg.Flatten = &FlattenConfig{KernelSize: 3}

	result := New().Run(f, cfg)
	require.NoError(t, result.Err)
	assert.Equal(t, []string{
		"offset_correction", "gain_correction", "defect_pixel_map",
		"scatter_correction", "noise_reduction", "flattening", "window_level",
	}, stageNames(result))
}

func TestOffsetCorrectionSubtractsDarkFrameAndClampsAtZero(t *testing.T) {
	f := flatFrame(2, 2, 100)
	dark := &Calibration{Type: CalDarkFrame, Width: 2, Height: 2, Values: []float64{50, 150, 50, 50}, Valid: true}
	cfg := baseConfig(2, 2)
	cfg.Dark = dark
	cfg.WindowLevel = WindowLevel{Window: 65535, Level: 32767.5} // identity display map, so the output is the offset result

	result := New().Run(f, cfg)
	require.NoError(t, result.Err)
	assert.Equal(t, uint16(50), result.Frame.Pixels[0])
	assert.Equal(t, uint16(0), result.Frame.Pixels[1]) // clamped, would be negative
}

func TestCalibrationDimensionMismatchFailsStage(t *testing.T) {
	f := flatFrame(4, 4, 1000)
	cfg := baseConfig(4, 4)
	cfg.Dark = zeroDark(2, 2) // wrong dimensions

	result := New().Run(f, cfg)
	require.Error(t, result.Err)
	assert.Equal(t, "offset_correction", result.FailedStage)
}

func TestWindowLevelMapsMidpointLinearly(t *testing.T) {
	f := flatFrame(1, 1, 32768)
	cfg := baseConfig(1, 1)
	cfg.WindowLevel = WindowLevel{Window: 65535, Level: 32768}

	result := New().Run(f, cfg)
	require.NoError(t, result.Err)
	assert.InDelta(t, 32768, float64(result.Frame.Pixels[0]), 2)
}

func TestDefectCorrectionSkipsOutOfBoundsEntry(t *testing.T) {
	f := flatFrame(4, 4, 500)
	defects := &Calibration{Type: CalDefectMap, Width: 4, Height: 4, Valid: true, Defects: []DefectEntry{
		{X: 100, Y: 100, Method: NearestNeighbor}, // out of bounds, skipped
		{X: 1, Y: 1, Method: NearestNeighbor},
	}}
	cfg := baseConfig(4, 4)
	cfg.Mode = FullPipeline
	cfg.Defect = defects

	result := New().Run(f, cfg)
	require.NoError(t, result.Err)
}

func TestNoiseReductionRejectsEvenKernel(t *testing.T) {
	f := flatFrame(4, 4, 500)
	cfg := baseConfig(4, 4)
	cfg.Mode = FullPipeline
	cfg.Noise = &NoiseConfig{Method: Gaussian, KernelSize: 4}

	result := New().Run(f, cfg)
	require.Error(t, result.Err)
	assert.Equal(t, "noise_reduction", result.FailedStage)
}

func TestPerStageTimingRecordedForEveryStage(t *testing.T) {
	f := flatFrame(4, 4, 1000)
	result := New().Run(f, baseConfig(4, 4))
	require.NoError(t, result.Err)
	for _, s := range result.Stages {
		assert.GreaterOrEqual(t, s.ElapsedMicros, int64(0))
	}
}

func stageNames(r Result) []string {
	names := make([]string, len(r.Stages))
	for i, s := range r.Stages {
		names[i] = s.Name
	}
	return names
}
