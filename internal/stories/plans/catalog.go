package plans

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogFS embed.FS

// Catalog is the static plan table. Plans are loaded once at startup and
// never change at runtime.
type Catalog struct {
	byID  map[string]Plan
	order []string
}

func NewCatalog() (*Catalog, error) {
	data, err := catalogFS.ReadFile("catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}

	var file struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}

	c := &Catalog{byID: make(map[string]Plan, len(file.Plans))}
	for _, p := range file.Plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan without id in catalog")
		}
		if p.DurationDays <= 0 {
			return nil, fmt.Errorf("plan %s: duration_days must be positive", p.ID)
		}
		if _, exists := c.byID[p.ID]; exists {
			return nil, fmt.Errorf("duplicate plan id: %s", p.ID)
		}
		c.byID[p.ID] = p
		c.order = append(c.order, p.ID)
	}

	return c, nil
}

// Get returns the plan by id, or nil if unknown.
func (c *Catalog) Get(planID string) *Plan {
	p, ok := c.byID[planID]
	if !ok {
		return nil
	}
	return &p
}

// List returns all plans in catalog order.
func (c *Catalog) List() []Plan {
	result := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.byID[id])
	}
	return result
}
