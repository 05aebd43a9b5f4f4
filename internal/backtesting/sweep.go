package backtesting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/strategy"
)

// ParameterRange defines one axis of a sweep grid. Values run from Min to
// Max inclusive in Step increments; IsInt rounds each value to the nearest
// integer.
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// RuleFactory builds the rule for one parameter combination. Returning an
// error skips the combination.
type RuleFactory func(params map[string]float64) (strategy.Rule, error)

// SweepResult pairs one parameter combination with its replay outcome.
type SweepResult struct {
	Parameters map[string]float64
	Result     *Result
	Score      float64
}

// SweepConfig holds the parameters for a rule parameter sweep.
type SweepConfig struct {
	Logger ports.Logger
	// Replay is the base replay configuration shared by every combination.
	// Its Logger field is overwritten with the sweep's logger.
	Replay Config
	// Ranges span the grid, one entry per rule parameter.
	Ranges []ParameterRange
	// Score ranks a replay result, higher first. Nil selects DefaultScore.
	Score func(*Result) float64
}

// Sweeper replays the same ticks once per parameter combination and ranks
// the outcomes. Replays run concurrently; each one is itself deterministic,
// so a sweep over the same ticks always produces the same set of results.
type Sweeper struct {
	cfg   SweepConfig
	build RuleFactory
}

// NewSweeper validates the configuration and builds a sweeper.
func NewSweeper(cfg SweepConfig, build RuleFactory) (*Sweeper, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if build == nil {
		return nil, fmt.Errorf("rule factory is required")
	}
	if len(cfg.Ranges) == 0 {
		return nil, fmt.Errorf("at least one parameter range is required")
	}
	for _, pr := range cfg.Ranges {
		if pr.Name == "" {
			return nil, fmt.Errorf("parameter range name is required")
		}
		if pr.Step <= 0 {
			return nil, fmt.Errorf("parameter %s: step must be positive", pr.Name)
		}
		if pr.Max < pr.Min {
			return nil, fmt.Errorf("parameter %s: max cannot be below min", pr.Name)
		}
	}
	cfg.Replay.Logger = cfg.Logger
	if err := cfg.Replay.validate(); err != nil {
		return nil, fmt.Errorf("replay config: %w", err)
	}
	if cfg.Score == nil {
		cfg.Score = DefaultScore
	}
	return &Sweeper{cfg: cfg, build: build}, nil
}

// Run replays ticks once per parameter combination and returns the results
// sorted by score, best first. Combinations the factory rejects are skipped.
// Run returns the context error when ctx is canceled mid-sweep.
func (s *Sweeper) Run(ctx context.Context, ticks []domain.Tick) ([]SweepResult, error) {
	combinations := s.combinations()
	resultCh := make(chan SweepResult, len(combinations))

	var wg sync.WaitGroup
	for _, params := range combinations {
		wg.Add(1)
		go func(params map[string]float64) {
			defer wg.Done()

			rule, err := s.build(params)
			if err != nil {
				s.cfg.Logger.Debug(ctx, "Skipped parameter combination", map[string]interface{}{
					"params": params,
					"reason": err.Error(),
				})
				return
			}
			replayer, err := New(s.cfg.Replay, rule)
			if err != nil {
				s.cfg.Logger.Error(ctx, err, "Failed to build replayer for combination",
					map[string]interface{}{"params": params})
				return
			}
			res, err := replayer.Run(ctx, ticks)
			if err != nil {
				if ctx.Err() == nil {
					s.cfg.Logger.Error(ctx, err, "Replay failed for combination",
						map[string]interface{}{"params": params})
				}
				return
			}
			resultCh <- SweepResult{Parameters: params, Result: res, Score: s.cfg.Score(res)}
		}(params)
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]SweepResult, 0, len(combinations))
	for sr := range resultCh {
		results = append(results, sr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	s.cfg.Logger.Info(ctx, "Sweep complete", map[string]interface{}{
		"combinations": len(combinations),
		"replayed":     len(results),
	})
	return results, nil
}

// combinations expands the ranges into the full grid.
func (s *Sweeper) combinations() []map[string]float64 {
	var combinations []map[string]float64
	current := make(map[string]float64, len(s.cfg.Ranges))

	var generate func(int)
	generate = func(idx int) {
		if idx == len(s.cfg.Ranges) {
			combination := make(map[string]float64, len(current))
			for k, v := range current {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}
		pr := s.cfg.Ranges[idx]
		// Half a step of slack keeps Max in the grid despite float drift.
		for value := pr.Min; value <= pr.Max+pr.Step/2; value += pr.Step {
			v := value
			if pr.IsInt {
				v = math.Round(v)
			}
			current[pr.Name] = v
			generate(idx + 1)
		}
	}
	generate(0)
	return combinations
}

// DefaultScore ranks a result by a weighted blend of its headline
// statistics. Higher is better.
func DefaultScore(res *Result) float64 {
	score := res.WinRate * 0.3
	score += res.ProfitFactor * 0.2
	score += (1 - res.MaxDrawdown) * 0.2
	score += res.Return * 0.3
	return score
}
