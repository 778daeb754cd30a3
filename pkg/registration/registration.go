// Package registration orchestrates the full volume-to-volume alignment:
// it resolves the configured strategy into concrete components, runs the
// coarse-to-fine pyramid, and drives the optimizer over the metric at
// every level.
package registration

import (
	"errors"
	"fmt"
	"path/filepath"

	"volreg3d/internal/models"
	"volreg3d/pkg/config"
	"volreg3d/pkg/metric"
	"volreg3d/pkg/optimizer"
	"volreg3d/pkg/pyramid"
	"volreg3d/pkg/resample"
	"volreg3d/pkg/transform"
)

// ErrRegistrationFailed reports that the optimization could not complete,
// typically because the volumes drifted out of overlap and the metric ran
// out of valid samples.
var ErrRegistrationFailed = errors.New("registration failed")

// ProgressFunc receives per-iteration progress with the pyramid level it
// came from. The params slice is reused; copy to keep it.
type ProgressFunc func(level int, it optimizer.Iteration)

// IOAdapter persists intermediary volumes and transforms when
// SaveIntermediary is set. Implementations decide the on-disk format.
type IOAdapter interface {
	SaveVolume(path string, v *models.Volume) error
	SaveTransform(path string, t *transform.InplaneSimilarity) error
}

// Options selects the strategy and tuning of one registration run. The
// zero value runs the default strategy at full resolution.
type Options struct {
	// Strategy selectors; empty strings mean the defaults (BSpline
	// interpolation, Mattes mutual information, Jacobian scales, regular
	// step descent).
	Transform       string
	Interpolator    string
	Metric          string
	ScalesEstimator string
	Optimizer       string

	// Optional masks restricting the metric to regions of interest.
	FixedMask  *models.Mask
	MovingMask *models.Mask

	// Covariance (row-major 3x3, mm^2) and Alpha configure the
	// oriented-Gaussian interpolator.
	Covariance [9]float64
	Alpha      float64

	// ANTSRadius is the neighborhood radius in voxels for the ANTS
	// correlation metric.
	ANTSRadius int

	// MultiResolution enables the default three-level pyramid; Schedule,
	// when non-nil, overrides it entirely.
	MultiResolution bool
	Schedule        []pyramid.Level

	// MaxSamples caps the metric sample count per level (0 = full grid);
	// Seed makes the subset draw reproducible.
	MaxSamples int
	Seed       uint64

	// Verbose prints per-level progress; Progress receives every
	// optimizer iteration.
	Verbose  bool
	Progress ProgressFunc

	// SaveIntermediary persists the per-level resampled volume and
	// transform through IO into OutputDir.
	SaveIntermediary bool
	OutputDir        string
	IO               IOAdapter
}

// OptionsFromConfig maps a loaded configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Transform:        cfg.Strategy.Transform,
		Interpolator:     cfg.Strategy.Interpolator,
		Metric:           cfg.Strategy.Metric,
		ScalesEstimator:  cfg.Strategy.ScalesEstimator,
		Optimizer:        cfg.Strategy.Optimizer,
		ANTSRadius:       cfg.Registration.ANTSRadius,
		Alpha:            cfg.Registration.Alpha,
		MultiResolution:  cfg.Registration.MultiResolution,
		MaxSamples:       cfg.Registration.MaxSamples,
		Seed:             cfg.Registration.Seed,
		Verbose:          cfg.Output.Verbose,
		SaveIntermediary: cfg.Output.SaveIntermediaryResults,
		OutputDir:        cfg.Output.Directory,
	}
	if len(cfg.Registration.Covariance) == 9 {
		copy(opts.Covariance[:], cfg.Registration.Covariance)
	}
	return opts
}

// Result is the outcome of a registration run.
type Result struct {
	// Transform holds the final fixed-to-moving mapping.
	Transform *transform.InplaneSimilarity
	// Warped is the moving volume resampled onto the fixed grid through
	// the final transform.
	Warped *models.Volume
	// FinalValue is the metric value at the last accepted parameters.
	FinalValue float64
	// Iterations is the cumulative iteration count over all levels.
	Iterations int
	// Levels is the number of pyramid levels run.
	Levels int
	// Stop is the finest level's stop condition.
	Stop optimizer.StopCondition
}

// metricObjective adapts a metric binding to the optimizer's objective
// surface: every evaluation writes the candidate parameters into the
// shared transform before the metric pass.
type metricObjective struct {
	b *metric.Binding
	m metric.Metric
}

func (o *metricObjective) Evaluate(params []float64) (float64, []float64, error) {
	if err := o.b.Transform.SetParameters(params); err != nil {
		return 0, nil, err
	}
	return o.m.Evaluate(o.b)
}

// Register aligns the moving volume to the fixed volume and returns the
// recovered transform. The transform maps fixed-space points into moving
// space, so resampling the moving volume through it reproduces the fixed
// geometry.
func Register(fixed, moving *models.Volume, opts Options) (*Result, error) {
	if fixed == nil || moving == nil {
		return nil, fmt.Errorf("registration: fixed and moving volumes are required")
	}

	strat, err := resolveStrategy(&opts)
	if err != nil {
		return nil, err
	}

	schedule := opts.Schedule
	if schedule == nil {
		if opts.MultiResolution {
			schedule = pyramid.DefaultSchedule()
		} else {
			schedule = pyramid.SingleLevel()
		}
	}
	if err := pyramid.Validate(schedule); err != nil {
		return nil, err
	}

	tfm := transform.NewFromGeometry(fixed, moving)

	if opts.Verbose {
		fmt.Printf("Registering %dx%dx%d onto %dx%dx%d (%s metric, %s interpolation, %s optimizer)\n",
			moving.Width, moving.Height, moving.Depth,
			fixed.Width, fixed.Height, fixed.Depth,
			strat.metricName, strat.interpName, strat.optName)
	}

	result := &Result{Transform: tfm, Levels: len(schedule)}
	for level, lvl := range schedule {
		lvlFixed, lvlMoving := fixed, moving
		lvlFixedMask, lvlMovingMask := opts.FixedMask, opts.MovingMask
		if lvl.Shrink > 1 || lvl.Sigma > 0 {
			lvlFixed = resample.Shrink(resample.SmoothGaussian(fixed, lvl.Sigma), lvl.Shrink)
			lvlMoving = resample.Shrink(resample.SmoothGaussian(moving, lvl.Sigma), lvl.Shrink)
			lvlFixedMask = resample.ShrinkMask(opts.FixedMask, lvl.Shrink)
			lvlMovingMask = resample.ShrinkMask(opts.MovingMask, lvl.Shrink)
		}

		binding, err := metric.NewBinding(lvlFixed, lvlMoving, lvlFixedMask, lvlMovingMask,
			strat.interp, tfm, metric.SamplingOptions{
				MaxSamples: opts.MaxSamples,
				Seed:       opts.Seed + uint64(level),
			})
		if err != nil {
			return nil, err
		}

		if opts.Verbose {
			fmt.Printf("Level %d/%d: shrink %d, sigma %.1f mm, %d samples\n",
				level+1, len(schedule), lvl.Shrink, lvl.Sigma, binding.NumSamples())
		}

		paramScales, err := strat.estimator.Estimate(binding)
		if err != nil {
			return nil, fmt.Errorf("registration: scale estimation: %w", err)
		}

		var sink optimizer.IterationSink
		if opts.Progress != nil {
			progress := opts.Progress
			lv := level
			sink = func(it optimizer.Iteration) { progress(lv, it) }
		}

		search := strat.newSearcher(paramScales, sink)
		outcome, err := search.Minimize(&metricObjective{b: binding, m: strat.metric}, tfm.Parameters())
		if outcome != nil && outcome.Stop == optimizer.StopFailed {
			return nil, fmt.Errorf("%w: level %d: %v", ErrRegistrationFailed, level+1, err)
		}
		if err != nil {
			return nil, fmt.Errorf("registration: level %d: %w", level+1, err)
		}

		if err := tfm.SetParameters(outcome.Params); err != nil {
			return nil, err
		}
		result.Iterations += outcome.Iterations
		result.FinalValue = outcome.Value
		result.Stop = outcome.Stop

		if opts.Verbose {
			fmt.Printf("Level %d/%d: %s after %d iterations, metric %.6f\n",
				level+1, len(schedule), outcome.Stop, outcome.Iterations, outcome.Value)
		}

		if opts.SaveIntermediary && opts.IO != nil {
			warped := resample.Resample(lvlMoving, lvlFixed, tfm, strat.interp)
			volPath := filepath.Join(opts.OutputDir, fmt.Sprintf("level_%d_warped.vol", level+1))
			tfmPath := filepath.Join(opts.OutputDir, fmt.Sprintf("level_%d_transform.yaml", level+1))
			if err := opts.IO.SaveVolume(volPath, warped); err != nil {
				return nil, fmt.Errorf("registration: saving level %d volume: %w", level+1, err)
			}
			if err := opts.IO.SaveTransform(tfmPath, tfm); err != nil {
				return nil, fmt.Errorf("registration: saving level %d transform: %w", level+1, err)
			}
		}
	}

	result.Warped = resample.Resample(moving, fixed, tfm, strat.interp)
	return result, nil
}
