// Package knowledge holds the static reference data the assistant answers
// from: organization facts, the product catalog, the FAQ and the banned-term
// tables used by the escalation detector and the content filter.
//
// A Base is loaded once at startup and never modified afterwards, so a *Store
// may be shared by any number of goroutines without locking.
package knowledge

type Contact struct {
	Phone     string   `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email     string   `json:"email,omitempty" yaml:"email,omitempty"`
	Addresses []string `json:"addresses,omitempty" yaml:"addresses,omitempty"`
}

type CompanyInfo struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	Contact      *Contact `json:"contact,omitempty" yaml:"contact,omitempty"`
	WorkingHours string   `json:"workingHours,omitempty" yaml:"workingHours,omitempty"`
}

type Product struct {
	ID           string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category     string   `json:"category,omitempty" yaml:"category,omitempty"`
	Price        float64  `json:"price" yaml:"price"`
	Currency     string   `json:"currency,omitempty" yaml:"currency,omitempty"`
	Availability bool     `json:"availability" yaml:"availability"`
	Features     []string `json:"features,omitempty" yaml:"features,omitempty"`
}

type FAQEntry struct {
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// BannedTerms is the stop-word table.
type BannedTerms struct {
	Competitors        []string `json:"competitors" yaml:"competitors"`
	EscalationTriggers []string `json:"escalationTriggers" yaml:"escalationTriggers"`
	ForbiddenTopics    []string `json:"forbiddenTopics" yaml:"forbiddenTopics"`
}

type Base struct {
	Company  CompanyInfo
	Products []Product
	FAQ      []FAQEntry
	Banned   BannedTerms
}

// Context is the subset of the base relevant to one user message.
type Context struct {
	FAQ      []FAQEntry
	Products []Product
	Company  CompanyInfo
}
