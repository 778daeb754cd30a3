package registration

import (
	"fmt"

	"volreg3d/pkg/interp"
	"volreg3d/pkg/metric"
	"volreg3d/pkg/optimizer"
	"volreg3d/pkg/scales"
)

// The strategy selectors accepted in configuration. Unknown names fall
// back to the defaults below with a logged warning rather than failing
// the run.
const (
	TransformInplaneSimilarity = "InplaneSimilarity"

	InterpolatorNearestNeighbor  = "NearestNeighbor"
	InterpolatorLinear           = "Linear"
	InterpolatorBSpline          = "BSpline"
	InterpolatorOrientedGaussian = "OrientedGaussian"

	MetricMeanSquares             = "MeanSquares"
	MetricCorrelation             = "Correlation"
	MetricANTSNeighborhood        = "ANTSNeighborhoodCorrelation"
	MetricMattesMutualInformation = "MattesMutualInformation"

	ScalesPhysicalShift = "PhysicalShift"
	ScalesIndexShift    = "IndexShift"
	ScalesJacobian      = "Jacobian"

	OptimizerRegularStep = "RegularStepGradientDescent"
	OptimizerLBFGSB      = "LBFGSB"
)

// interpFactories is keyed by selector name; each factory captures the
// option values the policy needs.
var interpFactories = map[string]func(opts *Options) (interp.Interpolator, error){
	InterpolatorNearestNeighbor: func(*Options) (interp.Interpolator, error) {
		return interp.NewNearestNeighbor(), nil
	},
	InterpolatorLinear: func(*Options) (interp.Interpolator, error) {
		return interp.NewLinear(), nil
	},
	InterpolatorBSpline: func(*Options) (interp.Interpolator, error) {
		return interp.NewBSpline(), nil
	},
	InterpolatorOrientedGaussian: func(opts *Options) (interp.Interpolator, error) {
		return interp.NewOrientedGaussian(opts.Covariance, opts.Alpha)
	},
}

var metricFactories = map[string]func(opts *Options) metric.Metric{
	MetricMeanSquares: func(*Options) metric.Metric { return metric.NewMeanSquares() },
	MetricCorrelation: func(*Options) metric.Metric { return metric.NewCorrelation() },
	MetricANTSNeighborhood: func(opts *Options) metric.Metric {
		return metric.NewANTSNeighborhoodCorrelation(opts.ANTSRadius)
	},
	MetricMattesMutualInformation: func(*Options) metric.Metric {
		return metric.NewMattesMutualInformation()
	},
}

var scalesFactories = map[string]func() scales.Estimator{
	ScalesPhysicalShift: func() scales.Estimator { return scales.NewPhysicalShift() },
	ScalesIndexShift:    func() scales.Estimator { return scales.NewIndexShift() },
	ScalesJacobian:      func() scales.Estimator { return scales.NewJacobian() },
}

// searcher is the minimization surface both optimizers share.
type searcher interface {
	Minimize(obj optimizer.Objective, start []float64) (*optimizer.Outcome, error)
}

// strategy is the fully resolved component set for one run.
type strategy struct {
	interpName string
	metricName string
	scalesName string
	optName    string

	interp    interp.Interpolator
	metric    metric.Metric
	estimator scales.Estimator
}

// resolveStrategy maps the option selectors onto concrete components,
// substituting defaults for unknown names. An empty selector means the
// default and is not warned about.
func resolveStrategy(opts *Options) (*strategy, error) {
	s := &strategy{}

	if opts.Transform != "" && opts.Transform != TransformInplaneSimilarity {
		warnFallback("transform", opts.Transform, TransformInplaneSimilarity)
	}

	s.interpName = pickName("interpolator", opts.Interpolator, InterpolatorBSpline, func(n string) bool {
		_, ok := interpFactories[n]
		return ok
	})
	itp, err := interpFactories[s.interpName](opts)
	if err != nil {
		// A factory can only fail on bad option values (e.g. a singular
		// covariance); fall back like an unknown name does.
		fmt.Printf("Warning: %s interpolator rejected its options (%v), falling back to %s\n",
			s.interpName, err, InterpolatorBSpline)
		s.interpName = InterpolatorBSpline
		if itp, err = interpFactories[s.interpName](opts); err != nil {
			return nil, err
		}
	}
	s.interp = itp

	s.metricName = pickName("metric", opts.Metric, MetricMattesMutualInformation, func(n string) bool {
		_, ok := metricFactories[n]
		return ok
	})
	s.metric = metricFactories[s.metricName](opts)

	s.scalesName = pickName("scales estimator", opts.ScalesEstimator, ScalesJacobian, func(n string) bool {
		_, ok := scalesFactories[n]
		return ok
	})
	s.estimator = scalesFactories[s.scalesName]()

	s.optName = pickName("optimizer", opts.Optimizer, OptimizerRegularStep, func(n string) bool {
		return n == OptimizerRegularStep || n == OptimizerLBFGSB
	})
	return s, nil
}

// newSearcher builds a fresh optimizer for one pyramid level.
func (s *strategy) newSearcher(paramScales []float64, sink optimizer.IterationSink) searcher {
	switch s.optName {
	case OptimizerLBFGSB:
		o := optimizer.NewLBFGSB()
		o.Sink = sink
		return o
	default:
		o := optimizer.NewRegularStep()
		o.Scales = paramScales
		o.Sink = sink
		return o
	}
}

func pickName(what, requested, fallback string, known func(string) bool) string {
	if requested == "" {
		return fallback
	}
	if known(requested) {
		return requested
	}
	warnFallback(what, requested, fallback)
	return fallback
}

func warnFallback(what, requested, used string) {
	fmt.Printf("Warning: unknown %s %q, falling back to %s\n", what, requested, used)
}
