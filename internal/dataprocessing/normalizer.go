package dataprocessing

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"clinicledger/pkg/contracts/domain"
)

// Separator is the canonical account separator in QuickBooks labels.
const Separator = "·"

// Corrupted renderings of the separator, longest first.
var separatorVariants = []string{
	"Ã‚Â·",
	"Ã‚·",
	"Â·",
	"�",
	"•",
	"⋅",
	"∙",
	"・",
}

// "60000 ? Salaries" style labels where the separator was lost to a question mark.
var questionSeparator = regexp.MustCompile(`^(\d+)\s*\?\s*(\S)`)

// Normalizer maps raw row labels onto canonical fields.
type Normalizer struct {
	labels map[string]domain.Field
}

// NewNormalizer builds a normalizer over the domain field catalog.
func NewNormalizer() *Normalizer {
	n := &Normalizer{labels: make(map[string]domain.Field)}
	for _, def := range domain.Fields() {
		for _, label := range def.Labels {
			n.labels[CleanLabel(label)] = def.Field
		}
	}
	return n
}

// Lookup returns the canonical field for a raw label.
func (n *Normalizer) Lookup(raw string) (domain.Field, bool) {
	label := CleanLabel(raw)
	if label == "" {
		return "", false
	}
	f, ok := n.labels[label]
	return f, ok
}

// Size is the number of distinct labels known.
func (n *Normalizer) Size() int {
	return len(n.labels)
}

// CleanLabel applies NFC normalization, trims indentation and rewrites
// separator variants to the canonical one. Case is preserved.
func CleanLabel(raw string) string {
	s := strings.TrimSpace(norm.NFC.String(raw))
	s = strings.Trim(s, "\"")
	for _, variant := range separatorVariants {
		s = strings.ReplaceAll(s, variant, Separator)
	}
	s = questionSeparator.ReplaceAllString(s, "$1 "+Separator+" $2")
	return strings.TrimSpace(s)
}
