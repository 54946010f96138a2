package extract

import (
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/zombor/parts-recon/internal/tally"
)

// Scanner turns the cleaned lines of one invoice into line items.
type Scanner func(lines []string, h *Header, t *tally.Result) []Item

// PostProcessor adjusts items after scanning.
type PostProcessor func(lines []string, h *Header, items []Item) []Item

// Fingerprint is letterhead text identifying a supplier. Exactly one of
// Keyword or Pattern is set. Both are matched against uppercased text.
type Fingerprint struct {
	Keyword  string
	Pattern  *regexp.Regexp
	Supplier string
}

// RuleSet is the extraction configuration for one supplier family.
type RuleSet struct {
	Name         string
	Fingerprints []Fingerprint
	// Header replaces the generic header locators when set.
	Header func(lines []string, h *Header, opts Options)
	Scan   Scanner
	Post   []PostProcessor
}

// GenericRules apply when no fingerprint matches.
var GenericRules = &RuleSet{Name: "generic", Scan: scanGeneric}

// RuleSets are checked in order; the first fingerprint hit wins.
var RuleSets = []*RuleSet{
	{
		Name: "fca",
		Fingerprints: []Fingerprint{
			{Keyword: "FCA CANADA", Supplier: "FCA Canada / Mopar"},
			{Keyword: "MOPAR CANADA", Supplier: "Mopar Canada"},
			{Keyword: "STELLANTIS", Supplier: "Stellantis / Mopar"},
		},
		Header: fcaHeader,
		Scan:   scanFCA,
	},
	{
		Name: "napa",
		Fingerprints: []Fingerprint{
			{Keyword: "NAPA PORT KELLS", Supplier: "NAPA Port Kells"},
			{Pattern: regexp.MustCompile(`\bNAPA\b`), Supplier: "NAPA"},
		},
		Scan: scanGeneric,
	},
	{
		Name: "lordco",
		Fingerprints: []Fingerprint{
			{Keyword: "LORDCO", Supplier: "Lordco Auto Parts"},
			{Keyword: "LORDGO", Supplier: "Lordco Auto Parts"},
			{Keyword: "= AUTO PA", Supplier: "Lordco Auto Parts"},
		},
		Scan: scanGeneric,
		Post: []PostProcessor{lordcoFallback, lordcoDescriptions},
	},
	{
		Name: "action",
		Fingerprints: []Fingerprint{
			{Pattern: regexp.MustCompile(`ACTION\s+CAR\s+AND\s+TRUCK`), Supplier: "Action Car & Truck"},
			{Keyword: "CAR AND TRUCK ACCESSORIES", Supplier: "Action Car & Truck"},
		},
		Scan: scanGeneric,
		Post: []PostProcessor{actionDescriptions},
	},
	{
		Name: "partsource",
		Fingerprints: []Fingerprint{
			{Keyword: "PARTSOURCE", Supplier: "PartSource"},
			{Pattern: regexp.MustCompile(`THE PARTS[., ]+THE PROS[., ]+THE PRICE`), Supplier: "PartSource"},
			{Pattern: regexp.MustCompile(`\bPARTS?\s*RCE\b`), Supplier: "PartSource"},
		},
		Scan: scanGeneric,
	},
	{
		Name: "tire",
		Fingerprints: []Fingerprint{
			{Pattern: regexp.MustCompile(`\bKAL[- ]?TIRE\b`), Supplier: "Kal Tire"},
			{Keyword: "OK TIRE", Supplier: "OK Tire"},
		},
		Scan: scanGeneric,
	},
	{
		Name: "dealer",
		Fingerprints: []Fingerprint{
			{Pattern: regexp.MustCompile(`LANGLEY\s+CHRYSLER`), Supplier: "Langley Chrysler"},
			{Keyword: "BESTCHRYS", Supplier: "Langley Chrysler"},
		},
		Scan: scanGeneric,
	},
}

// fuzzyAliases catch single-word letterheads mangled by one OCR error.
var fuzzyAliases = []struct {
	word     string
	supplier string
	rules    string
}{
	{"LORDCO", "Lordco Auto Parts", "lordco"},
	{"PARTSOURCE", "PartSource", "partsource"},
	{"STELLANTIS", "Stellantis / Mopar", "fca"},
}

type entry struct {
	rules *RuleSet
	fp    Fingerprint
}

// Matcher finds the rule set for a document from its fingerprints. Keywords
// go through one Aho-Corasick pass; patterns are only tried while they could
// still beat the best keyword hit.
type Matcher struct {
	entries    []entry
	keywordIdx []int
	ac         *ahocorasick.Matcher
}

// NewMatcher flattens the fingerprints of sets, keeping their order.
func NewMatcher(sets []*RuleSet) *Matcher {
	m := &Matcher{}
	var keywords [][]byte
	for _, rs := range sets {
		for _, fp := range rs.Fingerprints {
			if fp.Keyword != "" {
				keywords = append(keywords, []byte(strings.ToUpper(fp.Keyword)))
				m.keywordIdx = append(m.keywordIdx, len(m.entries))
			}
			m.entries = append(m.entries, entry{rules: rs, fp: fp})
		}
	}
	if len(keywords) > 0 {
		m.ac = ahocorasick.NewMatcher(keywords)
	}
	return m
}

// Match returns the rule set and supplier name of the earliest fingerprint
// present in text.
func (m *Matcher) Match(text string) (*RuleSet, string, bool) {
	upper := strings.ToUpper(text)
	best := -1
	if m.ac != nil {
		for _, hit := range m.ac.MatchThreadSafe([]byte(upper)) {
			if idx := m.keywordIdx[hit]; best == -1 || idx < best {
				best = idx
			}
		}
	}
	for i, e := range m.entries {
		if best != -1 && i >= best {
			break
		}
		if e.fp.Pattern != nil && e.fp.Pattern.MatchString(upper) {
			best = i
			break
		}
	}
	if best == -1 {
		return nil, "", false
	}
	return m.entries[best].rules, m.entries[best].fp.Supplier, true
}

// fuzzyMatch looks for a word one edit away from a known letterhead in the
// first lines of the document.
func fuzzyMatch(lines []string) (*RuleSet, string, bool) {
	if len(lines) > 15 {
		lines = lines[:15]
	}
	for _, line := range lines {
		for _, word := range strings.Fields(strings.ToUpper(line)) {
			word = strings.Trim(word, ".,:;*=-")
			if len(word) < 5 {
				continue
			}
			for _, alias := range fuzzyAliases {
				if fuzzy.LevenshteinDistance(word, alias.word) == 1 {
					return ruleSetNamed(alias.rules), alias.supplier, true
				}
			}
		}
	}
	return nil, "", false
}

func ruleSetNamed(name string) *RuleSet {
	for _, rs := range RuleSets {
		if rs.Name == name {
			return rs
		}
	}
	return GenericRules
}

var defaultMatcher = NewMatcher(RuleSets)

// SelectRules returns the rule set for text and the supplier name its
// fingerprint names. The name is empty when only the generic rules apply.
func SelectRules(text string) (*RuleSet, string) {
	if rs, supplier, ok := defaultMatcher.Match(text); ok {
		return rs, supplier
	}
	if rs, supplier, ok := fuzzyMatch(strings.Split(text, "\n")); ok {
		return rs, supplier
	}
	return GenericRules, ""
}
