package domain

import (
	"fmt"
	"strings"
)

type PlanType string

const (
	PlanEssentiel PlanType = "essentiel"
	PlanPro       PlanType = "pro"
	PlanPremium   PlanType = "premium"
)

// DefaultPlan is assigned when a provider price is not in the catalog.
const DefaultPlan = PlanEssentiel

func (p PlanType) Valid() bool {
	switch p {
	case PlanEssentiel, PlanPro, PlanPremium:
		return true
	}
	return false
}

func (p PlanType) DisplayName() string {
	switch p {
	case PlanPro:
		return "Pro"
	case PlanPremium:
		return "Premium"
	default:
		return "Essentiel"
	}
}

// DefaultPriceTable holds the catalog price ids. Deployments extend or override it
// with STRIPE_PRICE_PLAN_MAP.
var DefaultPriceTable = map[string]PlanType{
	"price_essentiel_monthly": PlanEssentiel,
	"price_pro_monthly":       PlanPro,
	"price_premium_monthly":   PlanPremium,
}

// PlanCatalog maps provider price ids to plan tiers and back.
type PlanCatalog struct {
	byPrice map[string]PlanType
	byPlan  map[PlanType]string
}

func NewPlanCatalog(table map[string]PlanType) *PlanCatalog {
	c := &PlanCatalog{
		byPrice: make(map[string]PlanType, len(table)),
		byPlan:  make(map[PlanType]string, len(table)),
	}
	for price, plan := range table {
		c.byPrice[price] = plan
	}
	for price, plan := range c.byPrice {
		if existing, ok := c.byPlan[plan]; !ok || price < existing {
			c.byPlan[plan] = price
		}
	}
	return c
}

// Resolve returns the plan for priceID. Unmapped prices resolve to DefaultPlan
// with ok=false so callers can log the gap.
func (c *PlanCatalog) Resolve(priceID string) (PlanType, bool) {
	if c != nil {
		if plan, ok := c.byPrice[strings.TrimSpace(priceID)]; ok {
			return plan, true
		}
	}
	return DefaultPlan, false
}

// PriceFor returns the checkout price id for a plan.
func (c *PlanCatalog) PriceFor(plan PlanType) (string, bool) {
	if c == nil {
		return "", false
	}
	price, ok := c.byPlan[plan]
	return price, ok
}

// MergePriceTables layers overrides on top of base without mutating either.
func MergePriceTables(base, overrides map[string]PlanType) map[string]PlanType {
	merged := make(map[string]PlanType, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// ParsePriceTable parses "price_a:pro,price_b:premium".
func ParsePriceTable(raw string) (map[string]PlanType, error) {
	table := make(map[string]PlanType)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		price, plan, found := strings.Cut(entry, ":")
		price = strings.TrimSpace(price)
		planType := PlanType(strings.ToLower(strings.TrimSpace(plan)))
		if !found || price == "" {
			return nil, fmt.Errorf("invalid price mapping %q", entry)
		}
		if !planType.Valid() {
			return nil, fmt.Errorf("invalid plan %q for price %s", plan, price)
		}
		table[price] = planType
	}
	return table, nil
}
