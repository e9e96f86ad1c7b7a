package domains

import (
	"strconv"

	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/types"
)

// Domain bundles the system prompt and audit rules for one proposal domain.
type Domain struct {
	ID           string
	Description  string
	SystemPrompt string
	Audit        func(proposal map[string]interface{}) types.AuditResult
}

// defaultPrompt serves unknown domains.
const defaultPrompt = "あなたは分析エキスパートです。" +
	"データに基づいた具体的な提案をJSON形式で生成してください。" +
	`出力形式: {"recommendations": [{"type": str, "action": str, ` +
	`"reason": str, "expected_impact": str, "priority": "high|medium|low", ` +
	`"specific_values": {}}], "summary": str, "risk_assessment": str}`

const emptyProposalError = "提案が空です"

// Registry is the static table of available domains.
type Registry struct {
	domains map[string]Domain
	order   []string
	log     *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	r := &Registry{
		domains: map[string]Domain{},
		log:     log.With("registry", "Domains"),
	}
	for _, d := range []Domain{
		adOptimization(),
		musicProduction(),
		sales(),
		customerSupport(),
	} {
		r.domains[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	return r
}

// Prompt returns the system prompt for the domain, or the generic fallback
// for unknown domains.
func (r *Registry) Prompt(domain string) string {
	if d, ok := r.domains[domain]; ok {
		return d.SystemPrompt
	}
	return defaultPrompt
}

// Audit runs the domain's rules. Every domain (known or not) requires a
// non-empty recommendations list; unknown domains pass with no further
// checks.
func (r *Registry) Audit(proposal map[string]interface{}, domain string) types.AuditResult {
	if len(recommendations(proposal)) == 0 {
		return types.AuditResult{IsValid: false, Errors: []string{emptyProposalError}, Warnings: []string{}}
	}
	if d, ok := r.domains[domain]; ok {
		return d.Audit(proposal)
	}
	return types.AuditResult{IsValid: true, Errors: []string{}, Warnings: []string{}}
}

// List returns the known domains with descriptions, in registration order.
func (r *Registry) List() []types.DomainInfo {
	out := make([]types.DomainInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, types.DomainInfo{ID: id, Description: r.domains[id].Description})
	}
	return out
}

// ── shared audit helpers ──

func result(errors, warnings []string) types.AuditResult {
	if errors == nil {
		errors = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return types.AuditResult{IsValid: len(errors) == 0, Errors: errors, Warnings: warnings}
}

func recommendations(proposal map[string]interface{}) []map[string]interface{} {
	raw, _ := proposal["recommendations"].([]interface{})
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if rec, ok := item.(map[string]interface{}); ok {
			out = append(out, rec)
		}
	}
	return out
}

func mapField(obj map[string]interface{}, key string) map[string]interface{} {
	m, _ := obj[key].(map[string]interface{})
	return m
}

func listField(obj map[string]interface{}, key string) []interface{} {
	l, _ := obj[key].([]interface{})
	return l
}

func strField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

func floatField(obj map[string]interface{}, key string) (float64, bool) {
	if obj == nil {
		return 0, false
	}
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func specificValues(rec map[string]interface{}) map[string]interface{} {
	return mapField(rec, "specific_values")
}

// formatNumber renders a JSON number without a trailing ".0" for integral
// values, matching how the audit messages quote user input.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
