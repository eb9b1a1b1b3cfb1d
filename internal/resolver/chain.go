package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"videograb/internal/model"
	"videograb/internal/observability"
	"videograb/internal/util"
)

var ErrNoStrategy = errors.New("no extraction strategy configured")

// Chain is the ordered strategy list for one platform: a primary and at most
// one fallback.
type Chain struct {
	platform   util.Platform
	strategies []Strategy
	logger     *slog.Logger
}

// NewChain builds a chain. It rejects empty chains and chains longer than
// MaxChainLen.
func NewChain(platform util.Platform, logger *slog.Logger, strategies ...Strategy) (*Chain, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoStrategy, platform)
	}
	if len(strategies) > MaxChainLen {
		return nil, fmt.Errorf("%s chain has %d strategies, at most %d allowed", platform, len(strategies), MaxChainLen)
	}
	return &Chain{platform: platform, strategies: strategies, logger: observability.OrDiscard(logger)}, nil
}

func (c *Chain) Platform() util.Platform { return c.platform }

// Names lists the strategies in order.
func (c *Chain) Names() []string {
	out := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		out[i] = s.Name()
	}
	return out
}

// Resolve tries each strategy in order and returns the first descriptor with
// at least one stream, along with the strategy that produced it. When every
// strategy fails the error names each attempt.
func (c *Chain) Resolve(ctx context.Context, rawURL string) (model.VideoDescriptor, Strategy, error) {
	var errs []error
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return model.VideoDescriptor{}, nil, err
		}
		v, err := s.Resolve(ctx, rawURL)
		if err == nil && len(v.Streams) == 0 {
			err = ErrNoStreams
		}
		if err == nil {
			v.Source = s.Name()
			return v, s, nil
		}
		var ee *ExtractionError
		if !errors.As(err, &ee) {
			err = &ExtractionError{Strategy: s.Name(), Platform: c.platform, Err: err}
		}
		errs = append(errs, err)
		if i+1 < len(c.strategies) {
			c.logger.Warn("strategy failed, trying fallback",
				"platform", c.platform,
				"strategy", s.Name(),
				"fallback", c.strategies[i+1].Name(),
				"error", err,
			)
		}
	}
	return model.VideoDescriptor{}, nil, &ChainError{Platform: c.platform, Attempts: errs}
}

// ChainError collects the failures of every strategy in a chain.
type ChainError struct {
	Platform util.Platform
	Attempts []error
}

func (e *ChainError) Error() string {
	var b strings.Builder
	for i, err := range e.Attempts {
		if i > 0 {
			b.WriteString("; fallback ")
		}
		b.WriteString(err.Error())
		if i > 0 {
			b.WriteString(" (also failed)")
		}
	}
	return b.String()
}

func (e *ChainError) Unwrap() []error { return e.Attempts }
