// Package payer identifies the health plan that issued a policy document.
package payer

import (
	"regexp"
	"strings"
)

// headerLines bounds how far into the document payer names are looked for
const headerLines = 40

// Adapter recognizes one payer's documents
type Adapter interface {
	// Name returns the adapter name
	Name() string

	// CanHandle checks if this adapter recognizes the source or text
	CanHandle(source string, text string) bool

	// Payer returns the payer name for a document the adapter handles
	Payer(text string) string
}

// Registry manages payer adapters
type Registry struct {
	adapters []Adapter
	generic  Adapter
}

// NewRegistry creates a registry with the built-in adapters
func NewRegistry() *Registry {
	registry := &Registry{}
	registry.Register(NewUnitedHealthcareAdapter())
	registry.generic = NewGenericAdapter()
	return registry
}

// Register registers a new adapter. Adapters are tried in registration order.
func (r *Registry) Register(adapter Adapter) {
	r.adapters = append(r.adapters, adapter)
}

// FindAdapter finds the first adapter that handles the document
func (r *Registry) FindAdapter(source string, text string) Adapter {
	for _, adapter := range r.adapters {
		if adapter.CanHandle(source, text) {
			return adapter
		}
	}
	return r.generic
}

// Identify returns the payer name, empty when none is recognized
func (r *Registry) Identify(source string, text string) string {
	return r.FindAdapter(source, text).Payer(text)
}

// header returns the leading lines of the document
func header(text string) string {
	lines := strings.SplitN(text, "\n", headerLines+1)
	if len(lines) > headerLines {
		lines = lines[:headerLines]
	}
	return strings.Join(lines, "\n")
}

// UnitedHealthcareAdapter recognizes UnitedHealthcare commercial and
// community plan documents
type UnitedHealthcareAdapter struct {
	domains []string
	marker  *regexp.Regexp
}

// NewUnitedHealthcareAdapter creates the UnitedHealthcare adapter
func NewUnitedHealthcareAdapter() *UnitedHealthcareAdapter {
	return &UnitedHealthcareAdapter{
		domains: []string{"uhc.com", "uhcprovider.com", "unitedhealthcareonline.com"},
		marker:  regexp.MustCompile(`(?i)\bunited\s*health\s*care\b|\bUHC\b`),
	}
}

// Name returns the adapter name
func (a *UnitedHealthcareAdapter) Name() string {
	return "unitedhealthcare"
}

// CanHandle matches UHC domains or a UnitedHealthcare mention in the header
func (a *UnitedHealthcareAdapter) CanHandle(source string, text string) bool {
	lower := strings.ToLower(source)
	for _, domain := range a.domains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return a.marker.MatchString(header(text))
}

// Payer returns the canonical payer name
func (a *UnitedHealthcareAdapter) Payer(text string) string {
	return "UnitedHealthcare"
}

// GenericAdapter is the fallback adapter for unknown payers
type GenericAdapter struct {
	name *regexp.Regexp
}

// NewGenericAdapter creates a new generic adapter
func NewGenericAdapter() *GenericAdapter {
	return &GenericAdapter{
		name: regexp.MustCompile(`\b((?:[A-Z][A-Za-z&.']*\s+){0,3}(?:Health\s+Plans?|Healthcare|Health\s+Insurance|Insurance\s+Company|Blue\s+Cross(?:\s+(?:and\s+)?Blue\s+Shield)?))\b`),
	}
}

// Name returns the adapter name
func (a *GenericAdapter) Name() string {
	return "generic"
}

// CanHandle always returns true (fallback adapter)
func (a *GenericAdapter) CanHandle(source string, text string) bool {
	return true
}

// Payer returns the first plan-like proper name in the document header
func (a *GenericAdapter) Payer(text string) string {
	m := a.name.FindStringSubmatch(header(text))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
