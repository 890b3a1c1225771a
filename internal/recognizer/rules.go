package recognizer

import "regexp"

// DetectionRule represents a single PII detection rule. When the pattern has
// a group named "pii" only that group is reported.
type DetectionRule struct {
	Name       string
	EntityType string
	Pattern    *regexp.Regexp
	Score      float64
}

// GetDefaultRules returns the built-in rules, most specific first
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Name:       "email",
			EntityType: "EMAIL_ADDRESS",
			Pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			Score:      1.0,
		},
		{
			Name:       "url",
			EntityType: "URL",
			Pattern:    regexp.MustCompile(`\bhttps?://[^\s<>"']+[^\s<>"'.,;:!?)]`),
			Score:      0.9,
		},
		{
			Name:       "credit_card",
			EntityType: "CREDIT_CARD",
			Pattern:    regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`),
			Score:      0.9,
		},
		{
			Name:       "iban",
			EntityType: "IBAN_CODE",
			Pattern:    regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,4})?\b`),
			Score:      0.85,
		},
		{
			Name:       "ssn",
			EntityType: "US_SSN",
			Pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Score:      0.85,
		},
		{
			Name:       "phone",
			EntityType: "PHONE_NUMBER",
			Pattern:    regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?\(?\b\d{3}\)?[ .\-]?\d{3}[ .\-]\d{4}\b`),
			Score:      0.75,
		},
		{
			Name:       "ip_address",
			EntityType: "IP_ADDRESS",
			Pattern:    regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`),
			Score:      0.8,
		},
		{
			Name:       "person_title",
			EntityType: "PERSON",
			Pattern:    regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof|Sir)\.?\s+(?P<pii>[A-Z][a-z]+(?:[ \-][A-Z][a-z]+)*)`),
			Score:      0.85,
		},
		{
			Name:       "person_name",
			EntityType: "PERSON",
			Pattern:    regexp.MustCompile(`\b(?P<pii>[A-Z][a-z]+ [A-Z][a-z]+)\b`),
			Score:      0.6,
		},
	}
}

// honorifics introduce a name but are never part of one
var honorifics = map[string]bool{
	"Mr": true, "Mrs": true, "Ms": true, "Miss": true, "Dr": true, "Prof": true, "Sir": true,
}

// sentenceStarters are capitalised words that begin a name-shaped pair
// without being part of a name
var sentenceStarters = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"His": true, "Her": true, "Their": true, "Our": true, "My": true, "Your": true,
	"When": true, "Where": true, "What": true, "Why": true, "How": true, "Who": true,
	"Dear": true, "Hello": true, "Hi": true, "Thanks": true, "Please": true,
	"In": true, "On": true, "At": true, "For": true, "From": true, "To": true,
	"And": true, "But": true, "If": true, "It": true, "We": true, "They": true,
}
