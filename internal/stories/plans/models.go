package plans

// Tier is the subscription level a plan grants.
type Tier string

const (
	TierNone      Tier = "none"
	TierTrial     Tier = "trial"
	TierMonthly   Tier = "monthly"
	TierQuarterly Tier = "quarterly"
	TierAnnual    Tier = "annual"
)

type Plan struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Tier         Tier    `yaml:"tier"`
	Price        float64 `yaml:"price"`
	Currency     string  `yaml:"currency"`
	DurationDays int     `yaml:"duration_days"`
}
