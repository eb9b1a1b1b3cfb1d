package resolver

import (
	"fmt"
	"log/slog"
	"sort"

	"videograb/internal/observability"
	"videograb/internal/util"
)

// DefaultChains is the strategy order used when configuration names none.
func DefaultChains() map[util.Platform][]string {
	return map[util.Platform][]string{
		util.PlatformYouTube:   {NameLibrary, NameSubprocess},
		util.PlatformFacebook:  {NameScrape, NameSubprocess},
		util.PlatformInstagram: {NameSubprocess, NameScrape},
		util.PlatformTikTok:    {NameAPI, NameScrape},
	}
}

// Registry maps strategy names to implementations and platforms to chains.
type Registry struct {
	strategies map[string]Strategy
	chains     map[util.Platform]*Chain
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		strategies: map[string]Strategy{},
		chains:     map[util.Platform]*Chain{},
		logger:     observability.OrDiscard(logger),
	}
}

// Register makes a strategy available to chains under its Name.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Registered lists the names of registered strategies, sorted.
func (r *Registry) Registered() []string {
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetChain builds the chain for platform from strategy names. Names that are
// not registered (e.g. api without a key) are skipped; if none remain the
// platform has no chain.
func (r *Registry) SetChain(platform util.Platform, names []string) error {
	var picked []Strategy
	for _, n := range names {
		s, ok := r.strategies[n]
		if !ok {
			r.logger.Debug("skipping unregistered strategy", "platform", platform, "strategy", n)
			continue
		}
		picked = append(picked, s)
	}
	if len(picked) == 0 {
		delete(r.chains, platform)
		return fmt.Errorf("%w for %s (wanted %v)", ErrNoStrategy, platform, names)
	}
	c, err := NewChain(platform, r.logger, picked...)
	if err != nil {
		return err
	}
	r.chains[platform] = c
	return nil
}

// Chain returns the chain for platform.
func (r *Registry) Chain(platform util.Platform) (*Chain, error) {
	c, ok := r.chains[platform]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoStrategy, platform)
	}
	return c, nil
}
