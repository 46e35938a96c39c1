package plans

import "testing"

func TestNewCatalog(t *testing.T) {
	catalog, err := NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	tests := []struct {
		id       string
		tier     Tier
		duration int
	}{
		{"monthly", TierMonthly, 30},
		{"quarterly", TierQuarterly, 90},
		{"annual", TierAnnual, 365},
	}
	for _, tt := range tests {
		plan := catalog.Get(tt.id)
		if plan == nil {
			t.Errorf("plan %q missing from catalog", tt.id)
			continue
		}
		if plan.Tier != tt.tier {
			t.Errorf("plan %q tier = %s, want %s", tt.id, plan.Tier, tt.tier)
		}
		if plan.DurationDays != tt.duration {
			t.Errorf("plan %q duration = %d, want %d", tt.id, plan.DurationDays, tt.duration)
		}
		if plan.Price <= 0 {
			t.Errorf("plan %q price = %v, want positive", tt.id, plan.Price)
		}
		if plan.Currency == "" {
			t.Errorf("plan %q has no currency", tt.id)
		}
	}

	if got := catalog.Get("lifetime"); got != nil {
		t.Errorf("Get(lifetime) = %+v, want nil", got)
	}

	if got := len(catalog.List()); got != len(tests) {
		t.Errorf("List() returned %d plans, want %d", got, len(tests))
	}
}
