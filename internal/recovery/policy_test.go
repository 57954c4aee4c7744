package recovery

import (
	"testing"

	"github.com/vietddude/sentinel/internal/core/domain"
)

func TestPolicyTable_CategoryDefaults(t *testing.T) {
	table := NewPolicyTable()

	cases := []struct {
		category    domain.ErrorCategory
		strategy    Strategy
		maxAttempts int
	}{
		{domain.CategoryTransient, StrategyRetry, 3},
		{domain.CategoryNetwork, StrategyRetry, 5},
		{domain.CategoryResource, StrategyRetry, 3},
		{domain.CategoryPermission, StrategySkip, 1},
		{domain.CategoryValidation, StrategySkip, 1},
		{domain.CategoryPermanent, StrategySkip, 1},
	}

	for _, tc := range cases {
		a := table.Lookup("", tc.category)
		if a.Strategy != tc.strategy {
			t.Errorf("%s: expected strategy %s, got %s", tc.category, tc.strategy, a.Strategy)
		}
		if a.MaxAttempts != tc.maxAttempts {
			t.Errorf("%s: expected %d attempts, got %d", tc.category, tc.maxAttempts, a.MaxAttempts)
		}
	}
}

func TestPolicyTable_KindOverridesCategory(t *testing.T) {
	table := NewPolicyTable()
	table.Register("SSH_CONNECTION_FAILED", Action{
		Strategy:      StrategyRetry,
		Category:      domain.CategoryNetwork,
		MaxAttempts:   10,
		BackoffFactor: 1.5,
	})

	a := table.Lookup("SSH_CONNECTION_FAILED", domain.CategoryPermanent)
	if a.MaxAttempts != 10 {
		t.Errorf("kind binding should win over category, got %d attempts", a.MaxAttempts)
	}

	// Unregistered kinds fall back to the category default.
	a = table.Lookup("UNKNOWN_KIND", domain.CategoryNetwork)
	if a.MaxAttempts != 5 {
		t.Errorf("expected network default, got %d attempts", a.MaxAttempts)
	}
}

func TestPolicyTable_UnknownCategoryFallsBackToPermanent(t *testing.T) {
	table := NewPolicyTable()

	a := table.Lookup("", domain.ErrorCategory("cosmic"))
	if a.Strategy != StrategySkip || a.Category != domain.CategoryPermanent {
		t.Errorf("expected permanent default, got %s/%s", a.Strategy, a.Category)
	}
}

func TestPolicyTable_Overlay(t *testing.T) {
	base := NewPolicyTable()
	base.Register("KIND_A", Action{Strategy: StrategyRetry, MaxAttempts: 2})

	overlaid := base.Overlay(map[string]Action{
		"KIND_A": {Strategy: StrategySkip, MaxAttempts: 1},
		"KIND_B": {Strategy: StrategyNotify, MaxAttempts: 1},
	})

	if a := overlaid.Lookup("KIND_A", ""); a.Strategy != StrategySkip {
		t.Errorf("overlay should override KIND_A, got %s", a.Strategy)
	}
	if a := overlaid.Lookup("KIND_B", ""); a.Strategy != StrategyNotify {
		t.Errorf("overlay should add KIND_B, got %s", a.Strategy)
	}

	// Base table is untouched.
	if a := base.Lookup("KIND_A", ""); a.Strategy != StrategyRetry {
		t.Errorf("base table must not be mutated, got %s", a.Strategy)
	}
	if a := base.Lookup("KIND_B", domain.CategoryNetwork); a.Strategy != StrategyRetry {
		t.Errorf("base table must not gain KIND_B")
	}
}

func TestPolicyTable_SetDefault(t *testing.T) {
	table := NewPolicyTable()
	table.SetDefault(domain.CategoryValidation, Action{
		Strategy:    StrategyNotify,
		MaxAttempts: 1,
	})

	a := table.Lookup("", domain.CategoryValidation)
	if a.Strategy != StrategyNotify {
		t.Errorf("expected notify, got %s", a.Strategy)
	}
	if a.Category != domain.CategoryValidation {
		t.Errorf("SetDefault should pin the category, got %s", a.Category)
	}
}

func TestPolicyTable_Retryable(t *testing.T) {
	table := NewPolicyTable()

	if !table.Retryable(domain.CategoryTransient) {
		t.Error("transient should be retryable")
	}
	if !table.Retryable(domain.CategoryNetwork) {
		t.Error("network should be retryable")
	}
	if table.Retryable(domain.CategoryPermanent) {
		t.Error("permanent should not be retryable")
	}
	if table.Retryable(domain.ErrorCategory("cosmic")) {
		t.Error("unknown categories should not be retryable")
	}
}
