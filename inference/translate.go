package inference

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Translation is one English to Korean pair.
type Translation struct {
	English string
	Korean  string
}

// TranslationTable is ordered; the first matching entry wins.
type TranslationTable []Translation

// DefaultTranslations covers the class names exported by the skin models.
// More specific terms precede the terms they contain.
var DefaultTranslations = TranslationTable{
	{"unknown", Unknown},
	{"normal", "정상"},
	{"healthy", "정상"},
	{"good", "양호"},
	{"dryness", "건조"},
	{"dehydrated", "건조"},
	{"excess_oil", "유분과다"},
	{"oiliness", "유분과다"},
	{"combination", "복합성"},
	{"sensitivity", "민감"},
	{"sensitive", "민감성"},
	{"dry", "건성"},
	{"oily", "지성"},
	{"acne", "여드름"},
	{"pimple", "여드름"},
	{"atopic", "아토피"},
	{"eczema", "습진"},
	{"psoriasis", "건선"},
	{"rosacea", "주사"},
	{"hyperpigmentation", "색소침착"},
	{"pigmentation", "색소침착"},
	{"melasma", "기미"},
	{"freckle", "주근깨"},
	{"redness", "홍조"},
	{"wrinkle", "주름"},
	{"aging", "노화"},
	{"trouble", "트러블"},
	{"pore", "모공"},
	{"other", "기타"},
}

// Translate maps an English label to Korean: exact case-insensitive match
// first, then substring containment in either direction in table order.
// Unmatched input is returned unchanged.
func (t TranslationTable) Translate(label string) string {
	key := normalizeKey(label)
	if key == "" {
		return label
	}
	for _, tr := range t {
		if key == tr.English {
			return tr.Korean
		}
	}
	for _, tr := range t {
		if strings.Contains(key, tr.English) || strings.Contains(tr.English, key) {
			return tr.Korean
		}
	}
	return label
}

// TranslateToKorean uses DefaultTranslations.
func TranslateToKorean(label string) string {
	return DefaultTranslations.Translate(label)
}

func normalizeKey(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	s = strings.ToLower(s)
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
