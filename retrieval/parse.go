package retrieval

import (
	"regexp"
	"strings"
)

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)

var procedureKeywords = []string{KindProcedure, "토닝", "필링", "레이저"}

// ParseRecommendations maps generated lines back onto the candidates of each
// category. A line led by a "카테고리:" label belongs to that category. An
// unlabeled line matches the candidate whose full product name it contains,
// or whose first word it contains when no other candidate shares that word.
// The reason is the text after the first "-". Categories never matched keep
// their top candidate with Matched false. Ointment and procedure lines become
// Suggestions.
func ParseRecommendations(text string, categories []Category, candidates []Candidate) ([]Recommendation, []Suggestion) {
	lines := splitLines(text)

	byCategory := make(map[string][]Candidate)
	for _, c := range candidates {
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}
	known := make(map[string]bool, len(categories))
	var pool []Candidate
	for _, cat := range categories {
		known[cat.Name] = true
		pool = append(pool, byCategory[cat.Name]...)
	}
	words := make(map[string]int)
	for _, c := range pool {
		if w := firstWord(c.ProductName); w != "" {
			words[w]++
		}
	}

	var suggestions []Suggestion
	picked := make(map[string]Recommendation)
	pick := func(c Candidate, line string) {
		rec := recommendationFor(c)
		rec.Reason = reasonOf(line)
		rec.Matched = true
		picked[c.Category] = rec
	}

	for _, line := range lines {
		// lines led by 연고/시술 are suggestions even if they name a product
		if s, ok := parseSuggestions(line, false); ok {
			suggestions = append(suggestions, s...)
			continue
		}
		if label := leadingLabel(line); known[label] {
			if _, done := picked[label]; !done && len(byCategory[label]) > 0 {
				pick(matchWithin(line, byCategory[label]), line)
			}
			continue
		}
		if c, ok := matchAcross(line, pool, words, picked); ok {
			pick(c, line)
			continue
		}
		if s, ok := parseSuggestions(line, true); ok {
			suggestions = append(suggestions, s...)
		}
	}

	var recs []Recommendation
	for _, cat := range categories {
		if rec, ok := picked[cat.Name]; ok {
			recs = append(recs, rec)
			continue
		}
		if cands := byCategory[cat.Name]; len(cands) > 0 {
			recs = append(recs, recommendationFor(cands[0]))
		}
	}
	return recs, suggestions
}

// Unmatched returns the top candidate of every category without reasons.
func Unmatched(categories []Category, candidates []Candidate) []Recommendation {
	recs, _ := ParseRecommendations("", categories, candidates)
	return recs
}

func splitLines(text string) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(listMarker.ReplaceAllString(raw, ""))
		line = strings.Trim(line, "*'\" ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// leadingLabel returns the text before the first ':' without emphasis marks.
func leadingLabel(line string) string {
	label, _, ok := strings.Cut(line, ":")
	if !ok {
		return ""
	}
	return strings.Trim(label, "*'\" ")
}

// matchWithin picks a candidate of an already labeled category, falling back
// to the top one.
func matchWithin(line string, cands []Candidate) Candidate {
	for _, c := range cands {
		if strings.Contains(line, c.ProductName) {
			return c
		}
	}
	for _, c := range cands {
		if first := firstWord(c.ProductName); first != "" && strings.Contains(line, first) {
			return c
		}
	}
	return cands[0]
}

func matchAcross(line string, pool []Candidate, words map[string]int, picked map[string]Recommendation) (Candidate, bool) {
	for _, c := range pool {
		if _, done := picked[c.Category]; done {
			continue
		}
		if strings.Contains(line, c.ProductName) {
			return c, true
		}
	}
	for _, c := range pool {
		if _, done := picked[c.Category]; done {
			continue
		}
		first := firstWord(c.ProductName)
		if first != "" && words[first] == 1 && strings.Contains(line, first) {
			return c, true
		}
	}
	return Candidate{}, false
}

func recommendationFor(c Candidate) Recommendation {
	return Recommendation{
		Category:    c.Category,
		ProductName: c.ProductName,
		SkinType:    c.Metadata.SkinType,
		ImageURL:    c.Metadata.ImageURL,
		Link:        c.Metadata.Link,
	}
}

func reasonOf(line string) string {
	if _, after, ok := strings.Cut(line, " - "); ok {
		return strings.TrimSpace(after)
	}
	if _, after, ok := strings.Cut(line, "-"); ok {
		return strings.TrimSpace(after)
	}
	return line
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// parseSuggestions recognizes "연고: 이름 - 이유" and procedure lines, which
// may carry several entries separated by " / ". Without anywhere only lines
// that start with the kind are accepted.
func parseSuggestions(line string, anywhere bool) ([]Suggestion, bool) {
	kind := ""
	switch {
	case strings.HasPrefix(line, KindOintment):
		kind = KindOintment
	case strings.HasPrefix(line, KindProcedure):
		kind = KindProcedure
	case anywhere && strings.Contains(line, KindOintment):
		kind = KindOintment
	case anywhere && containsAny(line, procedureKeywords):
		kind = KindProcedure
	default:
		return nil, false
	}

	body := line
	if _, after, ok := strings.Cut(line, ":"); ok {
		body = after
	}

	var out []Suggestion
	for _, part := range strings.Split(body, " / ") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, reason, _ := strings.Cut(part, " - ")
		out = append(out, Suggestion{Kind: kind, Name: strings.TrimSpace(name), Reason: strings.TrimSpace(reason)})
	}
	return out, len(out) > 0
}
