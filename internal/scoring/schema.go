package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/banking/ewa-risk-service/internal/domain"
)

// SchemaVersion is stamped on every snapshot computed against these tables
const SchemaVersion = "2024-06.crs.v1"

// weightTolerance bounds how far a full factor set may drift from 1.0
const weightTolerance = 1e-6

// Factor is a single weighted scoring dimension
type Factor struct {
	Key         string  `json:"key"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Category groups factors, e.g. legal_compliance
type Category struct {
	Name    string   `json:"name"`
	Factors []Factor `json:"factors"`
}

// TotalWeight returns the sum of the category's factor weights
func (c Category) TotalWeight() float64 {
	total := 0.0
	for _, f := range c.Factors {
		total += f.Weight
	}
	return total
}

// Schema is the full factor set for one entity type
type Schema struct {
	EntityType domain.EntityType `json:"entity_type"`
	Version    string            `json:"version"`
	Categories []Category        `json:"categories"`
}

// Category looks up a category by name
func (s Schema) Category(name string) (Category, bool) {
	for _, c := range s.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// TotalWeight returns the sum of every factor weight in the schema
func (s Schema) TotalWeight() float64 {
	total := 0.0
	for _, c := range s.Categories {
		total += c.TotalWeight()
	}
	return total
}

// Validate checks the schema invariants: positive weights, unique keys per
// category and a total weight of 1.0.
func (s Schema) Validate() error {
	seenCategories := make(map[string]bool, len(s.Categories))
	for _, c := range s.Categories {
		if seenCategories[c.Name] {
			return fmt.Errorf("duplicate category %q", c.Name)
		}
		seenCategories[c.Name] = true

		seenKeys := make(map[string]bool, len(c.Factors))
		for _, f := range c.Factors {
			if seenKeys[f.Key] {
				return fmt.Errorf("duplicate factor %q in category %q", f.Key, c.Name)
			}
			seenKeys[f.Key] = true
			if f.Weight <= 0 {
				return fmt.Errorf("factor %s.%s has non-positive weight %v", c.Name, f.Key, f.Weight)
			}
		}
	}

	if total := s.TotalWeight(); math.Abs(total-1.0) > weightTolerance {
		return fmt.Errorf("%s weights sum to %.6f, must sum to 1.0", s.EntityType, total)
	}
	return nil
}

// Employer factors: 5 categories, 12 factors
var employerCategories = []Category{
	{Name: "legal_compliance", Factors: []Factor{
		{Key: "registration_status", Label: "Registration Status", Weight: 0.10, Description: "Company registration validity"},
		{Key: "tax_compliance", Label: "Tax Compliance", Weight: 0.07, Description: "Tax payment history"},
		{Key: "ewa_agreement", Label: "EWA Agreement", Weight: 0.03, Description: "Signed EWA contract"},
	}},
	{Name: "financial_health", Factors: []Factor{
		{Key: "audited_financials", Label: "Audited Financials", Weight: 0.15, Description: "Financial audit status"},
		{Key: "liquidity_ratio", Label: "Liquidity Ratio", Weight: 0.10, Description: "Ability to meet obligations"},
		{Key: "payroll_sustainability", Label: "Payroll Sustainability", Weight: 0.10, Description: "Payroll funding history"},
	}},
	{Name: "operational", Factors: []Factor{
		{Key: "employee_count", Label: "Employee Count", Weight: 0.05, Description: "Workforce size stability"},
		{Key: "churn_rate", Label: "Churn Rate", Weight: 0.05, Description: "Employee turnover"},
		{Key: "payroll_integration", Label: "Payroll Integration", Weight: 0.10, Description: "System integration level"},
	}},
	{Name: "sector_exposure", Factors: []Factor{
		{Key: "industry_risk", Label: "Industry Risk", Weight: 0.10, Description: "Sector-specific risks"},
		{Key: "regulatory_exposure", Label: "Regulatory Exposure", Weight: 0.05, Description: "Regulatory compliance risk"},
	}},
	{Name: "aml_transparency", Factors: []Factor{
		{Key: "beneficial_ownership", Label: "Beneficial Ownership", Weight: 0.05, Description: "Ownership transparency"},
		{Key: "pep_screening", Label: "PEP Screening", Weight: 0.05, Description: "Political exposure screening"},
	}},
}

// Employee factors: 3 categories, 8 factors
var employeeCategories = []Category{
	{Name: "legal_compliance", Factors: []Factor{
		{Key: "verification_status", Label: "ID Verification", Weight: 0.15, Description: "Identity document verification"},
		{Key: "tax_compliance", Label: "Tax Compliance", Weight: 0.10, Description: "Tax ID verification"},
		{Key: "consent_data_rights", Label: "Consent & Rights", Weight: 0.10, Description: "Data consent obtained"},
	}},
	{Name: "financial_health", Factors: []Factor{
		{Key: "account_verification", Label: "Account Verification", Weight: 0.45, Description: "Bank/mobile money verified"},
	}},
	{Name: "operational", Factors: []Factor{
		{Key: "employment_status", Label: "Employment Status", Weight: 0.075, Description: "Active employment"},
		{Key: "employment_contract", Label: "Employment Contract", Weight: 0.075, Description: "Contract on file"},
		{Key: "recent_payslips", Label: "Recent Payslips", Weight: 0.025, Description: "Payslip verification"},
		{Key: "bank_statements", Label: "Bank Statements", Weight: 0.025, Description: "Statement verification"},
	}},
}

// Factors returns the canonical factor schema for an entity type.
// The result is a copy; mutating it does not affect scoring.
func Factors(entityType domain.EntityType) (Schema, error) {
	var src []Category
	switch entityType {
	case domain.EntityTypeEmployer:
		src = employerCategories
	case domain.EntityTypeEmployee:
		src = employeeCategories
	default:
		return Schema{}, fmt.Errorf("%w: %q", domain.ErrInvalidEntityType, entityType)
	}

	categories := make([]Category, len(src))
	for i, c := range src {
		categories[i] = Category{Name: c.Name, Factors: append([]Factor(nil), c.Factors...)}
	}
	return Schema{EntityType: entityType, Version: SchemaVersion, Categories: categories}, nil
}

// Suggested industry_risk ratings by sector (Kenya classification)
var industryRisk = map[string]float64{
	"agriculture":           3,
	"manufacturing":         3,
	"construction":          3,
	"mining":                1,
	"retail":                3,
	"hospitality":           3,
	"healthcare":            5,
	"education":             5,
	"financial_services":    5,
	"technology":            5,
	"transport":             3,
	"utilities":             5,
	"real_estate":           3,
	"professional_services": 5,
	"government":            5,
	"ngo":                   3,
	"other":                 3,
}

// IndustryRiskScore returns the suggested industry_risk rating for a sector code
func IndustryRiskScore(industry string) (float64, bool) {
	score, ok := industryRisk[industry]
	return score, ok
}

// IndustryRating pairs a sector code with its suggested rating
type IndustryRating struct {
	Code  string  `json:"code"`
	Score float64 `json:"score"`
}

// Industries lists the industry table sorted by code
func Industries() []IndustryRating {
	out := make([]IndustryRating, 0, len(industryRisk))
	for code, score := range industryRisk {
		out = append(out, IndustryRating{Code: code, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
