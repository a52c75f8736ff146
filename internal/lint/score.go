package lint

import (
	"math"

	api "github.com/panelforge/panelforge/api/v1alpha1"
)

// Quality score categories and their weights. Weights sum to 1.0.
const (
	CategoryCompleteness   = "completeness"
	CategoryVariance       = "variance"
	CategoryGeoIntegration = "geo_integration"
	CategoryReadability    = "readability"
	CategoryKeywords       = "keywords"
)

var categoryWeights = map[string]float64{
	CategoryCompleteness:   0.25,
	CategoryVariance:       0.15,
	CategoryGeoIntegration: 0.20,
	CategoryReadability:    0.20,
	CategoryKeywords:       0.20,
}

const (
	geoScoreDefault   = 98
	geoScorePenalized = 70
)

// SubScore is one category contribution to the quality score.
type SubScore struct {
	Score  int
	Weight float64
}

// Score computes the 0-100 quality score for a panel as the weighted sum of
// the category sub-scores. A TITLE_NO_GEO finding penalizes the
// geo_integration category; the remaining categories are heuristic
// measurements of the panel content.
func Score(p *api.Panel, issues []api.Issue) int {
	breakdown := Breakdown(p, issues)
	var total float64
	for _, s := range breakdown {
		total += float64(s.Score) * s.Weight
	}
	return int(math.Round(total))
}

// Breakdown returns the per-category sub-scores for a panel.
func Breakdown(p *api.Panel, issues []api.Issue) map[string]SubScore {
	geo := geoScoreDefault
	for _, issue := range issues {
		if issue.Code == CodeTitleNoGeo {
			geo = geoScorePenalized
			break
		}
	}

	return map[string]SubScore{
		CategoryCompleteness:   {Score: completenessScore(p), Weight: categoryWeights[CategoryCompleteness]},
		CategoryVariance:       {Score: varianceScore(p), Weight: categoryWeights[CategoryVariance]},
		CategoryGeoIntegration: {Score: geo, Weight: categoryWeights[CategoryGeoIntegration]},
		CategoryReadability:    {Score: readabilityScore(p), Weight: categoryWeights[CategoryReadability]},
		CategoryKeywords:       {Score: keywordScore(p), Weight: categoryWeights[CategoryKeywords]},
	}
}

// completenessScore rewards panels that populate every content field.
func completenessScore(p *api.Panel) int {
	score := 0
	if p.Title != "" {
		score += 20
	}
	if p.Summary != "" {
		score += 20
	}
	if len(p.Sections) > 0 {
		score += 25
	}
	if len(p.FAQs) > 0 {
		score += 20
	}
	if len(p.Keywords) > 0 {
		score += 15
	}
	return score
}

// varianceScore rewards structural diversity across sections.
func varianceScore(p *api.Panel) int {
	if len(p.Sections) == 0 {
		return 40
	}
	headings := map[string]struct{}{}
	for _, s := range p.Sections {
		headings[Normalize(s.Heading)] = struct{}{}
	}
	distinct := float64(len(headings)) / float64(len(p.Sections))
	return 60 + int(distinct*40)
}

// readabilityScore penalizes summaries that are too short or run too long.
func readabilityScore(p *api.Panel) int {
	n := len([]rune(p.Summary))
	switch {
	case n == 0:
		return 30
	case n < 40:
		return 70
	case n <= 600:
		return 95
	default:
		return 75
	}
}

// keywordScore rewards a healthy number of distinct keywords.
func keywordScore(p *api.Panel) int {
	distinct := map[string]struct{}{}
	for _, kw := range p.Keywords {
		if norm := Normalize(kw); norm != "" {
			distinct[norm] = struct{}{}
		}
	}
	switch n := len(distinct); {
	case n == 0:
		return 30
	case n < 3:
		return 70
	case n <= 12:
		return 95
	default:
		return 80
	}
}
