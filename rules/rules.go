// Package rules maps analysis labels to care recommendations.
package rules

var skinTypeAdvice = map[string][]string{
	"건성": {
		"보습제를 충분히 사용하세요",
		"세안 후 즉시 보습 관리를 하세요",
		"수분 공급이 풍부한 제품을 선택하세요",
	},
	"지성": {
		"유분 제거에 도움이 되는 클렌저를 사용하세요",
		"모공 관리에 집중하세요",
		"논코메도제닉 제품을 선택하세요",
	},
	"복합성": {
		"T존과 U존을 구분하여 관리하세요",
		"부위별로 다른 제품을 사용하는 것을 고려하세요",
	},
	"민감성": {
		"자극이 적은 순한 제품을 사용하세요",
		"패치 테스트를 진행한 후 제품을 사용하세요",
		"향료나 알코올이 들어간 제품은 피하세요",
	},
}

var diseaseAdvice = map[string][]string{
	"여드름": {
		"피부과 전문의 상담을 받으시기 바랍니다",
		"트러블 케어 제품 사용을 고려하세요",
		"손으로 만지지 마세요",
	},
	"아토피": {
		"즉시 피부과 진료를 받으시기 바랍니다",
		"보습 관리를 철저히 하세요",
		"자극적인 성분을 피하세요",
	},
}

const seeSpecialist = "피부과 전문의 상담을 받으시기 바랍니다"

var stateAdvice = map[string][]string{
	"건조":   {"수분 공급을 늘리세요"},
	"유분과다": {"유분 조절 제품을 사용하세요"},
	"색소침착": {
		"자외선 차단제를 꼭 사용하세요",
		"비타민C 제품 사용을 고려하세요",
	},
}

// AllClear is returned when no rule fires.
var AllClear = []string{
	"현재 피부 상태가 양호합니다",
	"꾸준한 기초 관리를 유지하세요",
	"자외선 차단제 사용을 잊지 마세요",
}

// labels that never trigger the specialist rule
var benignDisease = map[string]bool{
	"정상":     true,
	"알 수 없음": true,
}

// NeedsMedicalAttention reports whether a disease label warrants a specialist.
func NeedsMedicalAttention(disease string) bool {
	return disease != "" && !benignDisease[disease]
}

// Recommend returns the de-duplicated union of the skin type, disease and
// state rules, or AllClear when none apply. Order follows rule evaluation
// but is not part of the contract.
func Recommend(skinType, disease, state string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(items ...string) {
		for _, it := range items {
			if !seen[it] {
				seen[it] = true
				out = append(out, it)
			}
		}
	}

	add(skinTypeAdvice[skinType]...)
	if items, ok := diseaseAdvice[disease]; ok {
		add(items...)
	} else if NeedsMedicalAttention(disease) {
		add(seeSpecialist)
	}
	add(stateAdvice[state]...)

	if len(out) == 0 {
		return append([]string(nil), AllClear...)
	}
	return out
}
