package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"skincare-service/inference"
)

// RankingMode orders aggregated candidates.
type RankingMode string

const (
	// RankByScore orders by summed similarity, then review count, then name.
	RankByScore RankingMode = "score"
	// RankByRating orders by review count, then mean rating, then summed similarity.
	RankByRating RankingMode = "rating"
)

// ParseRankingMode accepts "" as RankByScore.
func ParseRankingMode(s string) (RankingMode, error) {
	switch RankingMode(s) {
	case "", RankByScore:
		return RankByScore, nil
	case RankByRating:
		return RankByRating, nil
	default:
		return "", fmt.Errorf("unknown ranking mode %q", s)
	}
}

// FilterByConcerns keeps matches whose review or skin type mentions any
// concern, in English or Korean. When nothing survives the unfiltered
// matches are returned.
func FilterByConcerns(matches []Match, concerns []string) []Match {
	keywords := concernKeywords(concerns)
	if len(keywords) == 0 {
		return matches
	}

	var kept []Match
	for _, m := range matches {
		if containsAny(m.Metadata.Review, keywords) || containsAny(m.Metadata.SkinType, keywords) {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return matches
	}
	return kept
}

func concernKeywords(concerns []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range concerns {
		for _, k := range []string{strings.TrimSpace(c), inference.TranslateToKorean(strings.TrimSpace(c))} {
			if k != "" && !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Aggregate groups matches by product and returns the best limit candidates.
// A candidate keeps the metadata of its highest scoring review.
func Aggregate(category string, matches []Match, mode RankingMode, limit int) []Candidate {
	type acc struct {
		cand      Candidate
		ratingSum float64
		rated     int
		best      float64
	}
	byName := make(map[string]*acc)
	var order []string

	for _, m := range matches {
		name := strings.TrimSpace(m.Metadata.ProductName)
		if name == "" {
			continue
		}
		a, ok := byName[name]
		if !ok {
			a = &acc{cand: Candidate{Category: category, ProductName: name, Metadata: m.Metadata}, best: m.Score}
			byName[name] = a
			order = append(order, name)
		}
		a.cand.Count++
		a.cand.Score += m.Score
		if m.Metadata.Rating > 0 {
			a.ratingSum += m.Metadata.Rating
			a.rated++
		}
		if m.Score > a.best {
			a.best = m.Score
			a.cand.Metadata = m.Metadata
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, name := range order {
		a := byName[name]
		if a.rated > 0 {
			a.cand.MeanRating = a.ratingSum / float64(a.rated)
		}
		out = append(out, a.cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if mode == RankByRating {
			if x.Count != y.Count {
				return x.Count > y.Count
			}
			if x.MeanRating != y.MeanRating {
				return x.MeanRating > y.MeanRating
			}
			return x.Score > y.Score
		}
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if x.Count != y.Count {
			return x.Count > y.Count
		}
		return x.ProductName < y.ProductName
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
