package retrieval

import (
	"fmt"
	"strings"

	"skincare-service/embedding"
)

const (
	summarySystem   = "너는 피부과 전문가야. 이모지나 구어체 없이 전문가처럼 간결하게 답해."
	recommendSystem = "너는 피부과 추천 전문가야. 요청한 형식 그대로, 아주 간단하고 깔끔하게 추천해."

	// reviews longer than this are cut in prompts
	maxReviewRunes = 120
)

// BuildQueryText renders the embedding query.
func BuildQueryText(q DiagnosisQuery) string {
	text := fmt.Sprintf("%s 피부 / 민감도: %s / 상태: %s", q.SkinType, q.Sensitivity, strings.Join(q.Concerns, ", "))
	return embedding.NormalizeText(text)
}

func profileLine(q DiagnosisQuery) string {
	return fmt.Sprintf("피부 타입: %s, 민감도: %s, 피부 고민: %s", q.SkinType, q.Sensitivity, strings.Join(q.Concerns, ", "))
}

// BuildSummaryPrompt asks for a three to four line analysis of the profile.
func BuildSummaryPrompt(q DiagnosisQuery) string {
	return profileLine(q) + "\n" +
		"위 정보를 바탕으로 사용자의 피부 상태를 간단하게 분석한 결과를 3~4줄 이내로 요약해줘."
}

// BuildPrompt lists the candidates per category and asks for exactly one
// product per category, one line each, formatted "카테고리: 제품명 - 이유".
// When ointment is non-nil it also asks for one ointment and two procedures.
func BuildPrompt(q DiagnosisQuery, categories []Category, candidates []Candidate, ointment *Candidate) string {
	var b strings.Builder
	b.WriteString(profileLine(q))
	b.WriteString("\n추천 제품 및 리뷰:\n")

	var names []string
	for _, c := range categories {
		found := false
		for _, cand := range candidates {
			if cand.Category != c.Name {
				continue
			}
			found = true
			fmt.Fprintf(&b, "- %s: %s - %s\n", cand.Category, cand.ProductName, truncateRunes(cand.Metadata.Review, maxReviewRunes))
		}
		if found {
			names = append(names, c.Name)
		}
	}

	if ointment != nil {
		fmt.Fprintf(&b, "\n연고 후보: %s\n", ointment.ProductName)
	}

	fmt.Fprintf(&b, "\n위 후보 중 카테고리(%s)별로 딱 1개씩 골라, 각 제품의 리뷰를 바탕으로 추천 이유를 한 줄로 정리해줘.\n", strings.Join(names, ", "))
	b.WriteString("형식: '카테고리: 제품명 - 추천 이유'\n")
	if ointment != nil {
		b.WriteString("그리고 연고 1개와 피부과 시술 2개도 각각 한 줄로 추천해줘.\n")
		b.WriteString("형식: '연고: 제품명 - 추천 이유', '시술: 시술명 - 추천 이유'\n")
	}
	b.WriteString("이모지나 장난스러운 말투는 금지.")
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
