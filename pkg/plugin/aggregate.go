package plugin

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/manytask/checker/pkg/pipeline"
)

// AggregateArgs is aggregate's declared argument shape.
type AggregateArgs struct {
	Scores   []float64 `mapstructure:"scores"`
	Weights  []float64 `mapstructure:"weights"`
	Strategy string    `mapstructure:"strategy"`
}

// AggregatePlugin combines the Percentage outputs of earlier stages
// (referenced via ${{ outputs.x.percentage }} in Scores) into one score
// using Strategy, optionally weighted.
type AggregatePlugin struct{}

// Schema implements pipeline.Plugin.
func (p *AggregatePlugin) Schema() any { return AggregateArgs{} }

// Run implements pipeline.Plugin.
func (p *AggregatePlugin) Run(_ context.Context, _ *pipeline.Context, rawArgs map[string]any, _ bool) (pipeline.PluginOutput, error) {
	var args AggregateArgs
	if err := mapstructure.Decode(rawArgs, &args); err != nil {
		return pipeline.PluginOutput{}, argError("aggregate", err)
	}

	if args.Strategy == "" {
		args.Strategy = "mean"
	}

	weights := args.Weights
	if weights == nil {
		weights = make([]float64, len(args.Scores))
		for i := range weights {
			weights[i] = 1.0
		}
	}

	if len(args.Scores) != len(weights) {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: length of scores (%d) and weights (%d) does not match",
			ErrPluginExecutionFailed, len(args.Scores), len(weights))
	}

	if len(args.Scores) == 0 {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: scores is empty", ErrPluginExecutionFailed)
	}

	weighted := make([]float64, len(args.Scores))
	for i, s := range args.Scores {
		weighted[i] = s * weights[i]
	}

	score, err := aggregateStrategy(args.Strategy, weighted)
	if err != nil {
		return pipeline.PluginOutput{}, fmt.Errorf("%w: %w", ErrPluginExecutionFailed, err)
	}

	return pipeline.PluginOutput{
		Stdout:     fmt.Sprintf("scores: %v, weights: %v, strategy: %s, aggregated: %.4f", args.Scores, weights, args.Strategy, score),
		Percentage: score,
	}, nil
}

func aggregateStrategy(strategy string, weighted []float64) (float64, error) {
	switch strategy {
	case "mean":
		sum := 0.0
		for _, v := range weighted {
			sum += v
		}

		return sum / float64(len(weighted)), nil
	case "sum":
		sum := 0.0
		for _, v := range weighted {
			sum += v
		}

		return sum, nil
	case "min":
		m := weighted[0]
		for _, v := range weighted[1:] {
			if v < m {
				m = v
			}
		}

		return m, nil
	case "max":
		m := weighted[0]
		for _, v := range weighted[1:] {
			if v > m {
				m = v
			}
		}

		return m, nil
	case "product":
		p := 1.0
		for _, v := range weighted {
			p *= v
		}

		return p, nil
	default:
		return 0, fmt.Errorf("unknown aggregate strategy %q", strategy)
	}
}
