/*
configstore.go - Cached, versioned configuration with default fallback

PURPOSE:
  Supplies the active penalty, service-charge and loan parameters to every
  calculation. Reads go through an injected TTL cache (default 5 minutes);
  the first read after expiry goes back to the ConfigRepository.

AVAILABILITY OVER FRESHNESS:
  If the repository cannot be read, the compiled-in defaults are served and
  the failure is logged. The fallback is not cached, so the next read tries
  the store again. Only when no defaults are configured does a read fail,
  with a CalculationError.

WRITES:
  Update and UpdateBrackets validate the merged result, write through the
  repository, and invalidate the cache before returning, so a read that
  follows a write always sees it.

SEE ALSO:
  - params.go: Keys, validation and defaults
  - cache.go: Cache and Clock
*/
package pawn

import (
	"context"
	"fmt"
	"log"
)

// ConfigStore owns the cached view of configuration.
type ConfigStore struct {
	repo     ConfigRepository
	cache    *Cache[Config]
	clock    Clock
	observer Observer

	// Defaults is served when the repository fails. Nil disables the fallback.
	Defaults *Config
}

// NewConfigStore creates a store reading through cache. A nil cache gets
// the default TTL on the system clock.
func NewConfigStore(repo ConfigRepository, cache *Cache[Config], observer Observer) *ConfigStore {
	if cache == nil {
		cache = NewCache[Config](DefaultCacheTTL, nil)
	}
	if observer == nil {
		observer = NopObserver{}
	}
	defaults := DefaultConfig()
	return &ConfigStore{
		repo:     repo,
		cache:    cache,
		clock:    cache.clock,
		observer: observer,
		Defaults: &defaults,
	}
}

// Get returns the active configuration.
func (s *ConfigStore) Get(ctx context.Context) (Config, error) {
	if cfg, ok := s.cache.Get(); ok {
		return cfg, nil
	}

	cfg, err := s.load(ctx)
	if err != nil {
		if s.Defaults == nil {
			return Config{}, &CalculationError{Op: "config", Message: fmt.Sprintf("store unavailable and no default configuration: %v", err)}
		}
		log.Printf("[ConfigStore] Store read failed, serving defaults: %v", err)
		s.observer.ConfigFallback()
		fallback := *s.Defaults
		fallback.Source = SourceDefault
		fallback.LoadedAt = s.clock.Now()
		return fallback, nil
	}

	s.cache.Set(cfg)
	return cfg, nil
}

func (s *ConfigStore) PenaltyConfig(ctx context.Context) (PenaltyConfig, error) {
	cfg, err := s.Get(ctx)
	return cfg.Penalty, err
}

func (s *ConfigStore) ServiceChargeConfig(ctx context.Context) (ServiceChargeConfig, error) {
	cfg, err := s.Get(ctx)
	return cfg.ServiceCharge, err
}

func (s *ConfigStore) load(ctx context.Context) (Config, error) {
	params, err := s.repo.ActiveParameters(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("load parameters: %w", err)
	}
	brackets, err := s.repo.ActiveBrackets(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("load brackets: %w", err)
	}
	if len(ActiveBrackets(brackets)) == 0 {
		log.Printf("[ConfigStore] No active service charge brackets stored, using default table")
	}
	cfg, err := ConfigFromParameters(params, brackets)
	if err != nil {
		return Config{}, fmt.Errorf("stored configuration is invalid: %w", err)
	}
	cfg.LoadedAt = s.clock.Now()
	return cfg, nil
}

// Update writes a new version of key. Fails with *NotFoundError if the key
// is unknown or has no active row.
func (s *ConfigStore) Update(ctx context.Context, key, value, actor string) (ConfigParameter, error) {
	if err := ValidateParameter(key, value); err != nil {
		return ConfigParameter{}, err
	}

	current, err := s.load(ctx)
	if err != nil {
		return ConfigParameter{}, err
	}
	if err := applyParameter(&current, key, value); err != nil {
		return ConfigParameter{}, err
	}
	if err := current.Validate(); err != nil {
		return ConfigParameter{}, err
	}

	param, err := s.repo.UpdateParameter(ctx, key, value, actor, s.clock.Now())
	if err != nil {
		return ConfigParameter{}, err
	}
	s.cache.Invalidate()
	log.Printf("[ConfigStore] %s set to %s by %s (version %d)", key, value, actor, param.Version)
	return param, nil
}

// UpdateBrackets replaces the active bracket table.
func (s *ConfigStore) UpdateBrackets(ctx context.Context, brackets []ServiceChargeBracket, actor string) error {
	if err := ValidateBrackets(brackets); err != nil {
		return err
	}
	if err := s.repo.ReplaceBrackets(ctx, brackets, actor, s.clock.Now()); err != nil {
		return err
	}
	s.cache.Invalidate()
	log.Printf("[ConfigStore] Service charge brackets replaced by %s (%d active)", actor, len(ActiveBrackets(brackets)))
	return nil
}

// Seed inserts parameters that are missing and, if no bracket is active,
// the given bracket table.
func (s *ConfigStore) Seed(ctx context.Context, params []ConfigParameter, brackets []ServiceChargeBracket, actor string) error {
	for _, p := range params {
		if err := ValidateParameter(p.Key, p.Value); err != nil {
			return err
		}
	}
	now := s.clock.Now()
	if err := s.repo.SeedParameters(ctx, params, actor, now); err != nil {
		return err
	}
	if len(brackets) > 0 {
		existing, err := s.repo.ActiveBrackets(ctx)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			if err := ValidateBrackets(brackets); err != nil {
				return err
			}
			if err := s.repo.ReplaceBrackets(ctx, brackets, actor, now); err != nil {
				return err
			}
		}
	}
	s.cache.Invalidate()
	return nil
}

func (s *ConfigStore) History(ctx context.Context, key string) ([]ConfigParameter, error) {
	if _, known := paramKinds[key]; !known {
		return nil, &NotFoundError{Kind: "config key", ID: key}
	}
	return s.repo.ParameterHistory(ctx, key)
}

// Invalidate drops the cached configuration.
func (s *ConfigStore) Invalidate() {
	s.cache.Invalidate()
}
