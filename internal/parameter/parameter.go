// Package parameter serves runtime-tunable configuration stored in the database.
package parameter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tessera.org/internal/obs"
)

// ErrNotExist is returned when no parameter with the requested name is stored.
var ErrNotExist = errors.New("parameter: does not exist")

// Key names a parameter together with the value used when it is not stored.
type Key struct {
	Name    string
	Default string
}

var (
	AuthAccessTokenExpireMinute = Key{Name: "AUTH_ACCESS_TOKEN_EXPIRE_MINUTE", Default: "30"}
	AuthRefreshTokenExpireDay   = Key{Name: "AUTH_REFRESH_TOKEN_EXPIRE_DAY", Default: "1"}
	FrontendURL                 = Key{Name: "FE_URL", Default: "http://localhost:3000"}
)

type Parameter struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Definition string    `json:"definition"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Store interface {
	FindByName(ctx context.Context, name string) (Parameter, error)
	FindAllByPrefix(ctx context.Context, prefix string) ([]Parameter, error)
}

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parameter_cache_hits_total",
		Help: "Parameter lookups served from the LRU cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parameter_cache_misses_total",
		Help: "Parameter lookups that went to the store.",
	})
)

// Service reads parameters through a per-instance LRU cache with TTL.
type Service struct {
	store Store
	cache *expirable.LRU[string, Parameter]
}

func NewService(store Store, cacheSize int, ttl time.Duration) *Service {
	return &Service{
		store: store,
		cache: expirable.NewLRU[string, Parameter](cacheSize, nil, ttl),
	}
}

// FindByName returns the stored parameter or ErrNotExist.
func (s *Service) FindByName(ctx context.Context, name string) (Parameter, error) {
	name = strings.TrimSpace(name)
	if p, ok := s.cache.Get(name); ok {
		cacheHitsTotal.Inc()
		return p, nil
	}
	cacheMissesTotal.Inc()
	p, err := s.store.FindByName(ctx, name)
	if err != nil {
		return Parameter{}, err
	}
	s.cache.Add(name, p)
	return p, nil
}

// FindAll lists parameters whose name starts with prefix. Results are not cached.
func (s *Service) FindAll(ctx context.Context, prefix string) ([]Parameter, error) {
	return s.store.FindAllByPrefix(ctx, strings.TrimSpace(prefix))
}

// Definition returns the stored definition of key, or its default when the
// parameter is missing or the store fails.
func (s *Service) Definition(ctx context.Context, key Key) string {
	p, err := s.FindByName(ctx, key.Name)
	if err != nil {
		if !errors.Is(err, ErrNotExist) {
			obs.Logger().Warn("parameter_lookup_failed",
				slog.String("name", key.Name),
				slog.String("error", err.Error()),
			)
		}
		return key.Default
	}
	if strings.TrimSpace(p.Definition) == "" {
		return key.Default
	}
	return p.Definition
}

// Int parses Definition as an integer, falling back to the parsed default.
func (s *Service) Int(ctx context.Context, key Key) (int, error) {
	raw := s.Definition(ctx, key)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err == nil {
		return n, nil
	}
	def, derr := strconv.Atoi(key.Default)
	if derr != nil {
		return 0, fmt.Errorf("parameter %s: %w", key.Name, err)
	}
	obs.Logger().Warn("parameter_not_integer", slog.String("name", key.Name), slog.String("value", raw))
	return def, nil
}

// Invalidate drops a cached parameter.
func (s *Service) Invalidate(name string) {
	s.cache.Remove(name)
}
