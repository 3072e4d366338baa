package strategy

import (
	"log/slog"
	"testing"
)

func TestDefaultRegistryHasReferenceStrategies(t *testing.T) {
	t.Parallel()

	names := DefaultRegistry.Names()
	want := map[string]bool{SmaCrossName: false, AtrRiskName: false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %q to be registered, got names %v", name, names)
		}
	}
}

func TestRegistryBuildUnknownStrategy(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Build("DoesNotExist", testLogger()); err == nil {
		t.Error("expected an error for an unregistered strategy name")
	}
}

func TestRegistryBuildReturnsFreshInstances(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("counter", func(logger *slog.Logger) Strategy { return NewSmaCross(logger) })

	a, err := r.Build("counter", testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := r.Build("counter", testLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a == b {
		t.Error("expected Build to return distinct instances per call")
	}
}
