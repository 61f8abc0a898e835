package parameter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type stubStore struct {
	params map[string]Parameter
	calls  int
	err    error
}

func (s *stubStore) FindByName(_ context.Context, name string) (Parameter, error) {
	s.calls++
	if s.err != nil {
		return Parameter{}, s.err
	}
	p, ok := s.params[name]
	if !ok {
		return Parameter{}, ErrNotExist
	}
	return p, nil
}

func (s *stubStore) FindAllByPrefix(_ context.Context, prefix string) ([]Parameter, error) {
	var out []Parameter
	for name, p := range s.params {
		if strings.HasPrefix(name, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestFindByNameIsCached(t *testing.T) {
	store := &stubStore{params: map[string]Parameter{
		"FE_URL": {Name: "FE_URL", Definition: "https://admin.example.com"},
	}}
	svc := NewService(store, 8, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := svc.FindByName(context.Background(), "FE_URL")
		if err != nil {
			t.Fatalf("FindByName: %v", err)
		}
		if p.Definition != "https://admin.example.com" {
			t.Fatalf("unexpected definition: %s", p.Definition)
		}
	}
	if store.calls != 1 {
		t.Fatalf("expected one store call, got %d", store.calls)
	}

	svc.Invalidate("FE_URL")
	if _, err := svc.FindByName(context.Background(), "FE_URL"); err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("expected store call after invalidate, got %d", store.calls)
	}
}

func TestFindByNameMissing(t *testing.T) {
	svc := NewService(&stubStore{params: map[string]Parameter{}}, 8, time.Minute)
	if _, err := svc.FindByName(context.Background(), "NOPE"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestDefinitionFallsBack(t *testing.T) {
	svc := NewService(&stubStore{params: map[string]Parameter{}}, 8, time.Minute)
	if got := svc.Definition(context.Background(), FrontendURL); got != FrontendURL.Default {
		t.Fatalf("expected default, got %s", got)
	}

	failing := NewService(&stubStore{err: errors.New("db down")}, 8, time.Minute)
	if got := failing.Definition(context.Background(), FrontendURL); got != FrontendURL.Default {
		t.Fatalf("expected default on store error, got %s", got)
	}
}

func TestInt(t *testing.T) {
	store := &stubStore{params: map[string]Parameter{
		AuthRefreshTokenExpireDay.Name: {Name: AuthRefreshTokenExpireDay.Name, Definition: "7"},
		"BROKEN":                       {Name: "BROKEN", Definition: "seven"},
	}}
	svc := NewService(store, 8, time.Minute)

	n, err := svc.Int(context.Background(), AuthRefreshTokenExpireDay)
	if err != nil || n != 7 {
		t.Fatalf("Int = %d, %v; want 7", n, err)
	}
	n, err = svc.Int(context.Background(), Key{Name: "BROKEN", Default: "3"})
	if err != nil || n != 3 {
		t.Fatalf("Int = %d, %v; want default 3", n, err)
	}
	if _, err := svc.Int(context.Background(), Key{Name: "BROKEN", Default: "x"}); err == nil {
		t.Fatal("expected error when neither value nor default parse")
	}
}

func TestFindAllByPrefix(t *testing.T) {
	store := &stubStore{params: map[string]Parameter{
		"AUTH_A": {Name: "AUTH_A"},
		"AUTH_B": {Name: "AUTH_B"},
		"FE_URL": {Name: "FE_URL"},
	}}
	svc := NewService(store, 8, time.Minute)
	list, err := svc.FindAll(context.Background(), "AUTH_")
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 parameters, got %d", len(list))
	}
}
