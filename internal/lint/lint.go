// Package lint provides the quality checks applied to generated content
// panels. All evaluators are pure functions over panel content; they never
// mutate their input and are deterministic.
package lint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	api "github.com/panelforge/panelforge/api/v1alpha1"
)

// Issue codes. Severities are fixed per rule.
const (
	CodePlaceholderLeak    = "PLACEHOLDER_LEAK"
	CodeTitleNoGeo         = "TITLE_NO_GEO"
	CodeKeywordOverlapWarn = "KEYWORD_OVERLAP_WARN"
)

// An unresolved template token: curly braces around identifier characters only.
var placeholderPattern = regexp.MustCompile(`\{[A-Za-z0-9_]+\}`)

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// LintPanel checks a single panel against the rule set and returns the
// findings in rule order.
func LintPanel(p *api.Panel, city, region string) []api.Issue {
	issues := []api.Issue{}

	if token := placeholderPattern.FindString(serializeText(p)); token != "" {
		issues = append(issues, api.Issue{
			Code:     CodePlaceholderLeak,
			Severity: api.SeverityError,
			Message:  fmt.Sprintf("panel content contains an unresolved placeholder %q", token),
		})
	}

	// the geo rule only applies when the job has geographic context at all
	if (city != "" || region != "") && !titleMentionsGeo(p.Title, city, region) {
		issues = append(issues, api.Issue{
			Code:     CodeTitleNoGeo,
			Severity: api.SeverityWarn,
			Message:  "panel title does not mention the city or region",
		})
	}

	return issues
}

// LintKeywordDuplicates checks keyword usage across all panels of a set and
// emits a single warning listing every keyword used more than twice.
func LintKeywordDuplicates(panels []*api.Panel) []api.Issue {
	counts := map[string]int{}
	for _, p := range panels {
		if p == nil {
			continue
		}
		for _, kw := range p.Keywords {
			counts[Normalize(kw)]++
		}
	}

	overused := []string{}
	for kw, n := range counts {
		if kw != "" && n > 2 {
			overused = append(overused, kw)
		}
	}
	if len(overused) == 0 {
		return []api.Issue{}
	}
	sort.Strings(overused)

	return []api.Issue{{
		Code:     CodeKeywordOverlapWarn,
		Severity: api.SeverityWarn,
		Message:  fmt.Sprintf("keywords used more than twice across the set: %s", strings.Join(overused, ", ")),
	}}
}

// Result assembles a LintResult from the issues found for a panel, recording
// the content hash the issues were computed against.
func Result(p *api.Panel, issues []api.Issue) *api.LintResult {
	res := &api.LintResult{
		Passed: true,
		Issues: issues,
	}
	for _, issue := range issues {
		switch issue.Severity {
		case api.SeverityError:
			res.Passed = false
		case api.SeverityWarn:
			res.HasWarnings = true
		}
	}
	res.ContentHash = ContentHash(p)
	return res
}

// IsStale reports whether a slot's lint result no longer matches the panel's
// current content, i.e. the panel was edited after the last lint pass.
func IsStale(p *api.Panel, res *api.LintResult) bool {
	if p == nil || res == nil {
		return false
	}
	return ContentHash(p) != res.ContentHash
}

// Normalize lowercases, strips diacritics and trims the given string.
func Normalize(s string) string {
	stripped, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		stripped = s
	}
	return strings.TrimSpace(strings.ToLower(stripped))
}

// titleMentionsGeo reports whether the normalized title contains the
// normalized city or region as a whole word. Hyphens count as word
// separators, so "Bad-Homburg" matches "Bad Homburg".
func titleMentionsGeo(title, city, region string) bool {
	words := splitWords(Normalize(title))
	for _, geo := range []string{city, region} {
		if geo == "" {
			continue
		}
		if containsSequence(words, splitWords(Normalize(geo))) {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func containsSequence(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// serializeText flattens every text field of a panel into one string for
// content-wide pattern checks.
func serializeText(p *api.Panel) string {
	var b strings.Builder
	b.WriteString(p.Title)
	b.WriteByte('\n')
	b.WriteString(p.Summary)
	b.WriteByte('\n')
	for _, s := range p.Sections {
		b.WriteString(s.Heading)
		b.WriteByte('\n')
		for _, bullet := range s.Bullets {
			b.WriteString(bullet)
			b.WriteByte('\n')
		}
	}
	for _, f := range p.FAQs {
		b.WriteString(f.Question)
		b.WriteByte('\n')
		b.WriteString(f.Answer)
		b.WriteByte('\n')
	}
	b.WriteString(strings.Join(p.Keywords, "\n"))
	return b.String()
}
