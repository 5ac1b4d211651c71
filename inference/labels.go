// Package inference normalizes classifier and detector outputs into a common
// confidence-scored result with Korean display labels.
package inference

// LabelSet maps a class index to a label.
type LabelSet []string

// Lookup returns the label at i, or false when i is out of range.
func (l LabelSet) Lookup(i int) (string, bool) {
	if i < 0 || i >= len(l) {
		return "", false
	}
	return l[i], true
}

const (
	// Unknown is shown when a model is unavailable or predicts an unmapped class.
	Unknown = "알 수 없음"
	// HealthyDisease and HealthyState are reported when a detector finds nothing.
	HealthyDisease = "정상"
	HealthyState   = "양호"

	// NoDetectionConfidence is the fixed confidence of the healthy default.
	NoDetectionConfidence = 0.8
)

var (
	SkinTypeLabels = LabelSet{"건성", "지성", "복합성", "민감성", "정상"}
	DiseaseLabels  = LabelSet{"정상", "여드름", "아토피", "습진", "건선", "주사", "색소침착", "기타"}
	StateLabels    = LabelSet{"양호", "건조", "유분과다", "트러블", "색소침착", "민감", "노화"}
)

// WithModelNames prefers names embedded in the model over the defaults.
func WithModelNames(defaults LabelSet, names []string) LabelSet {
	if len(names) == 0 {
		return defaults
	}
	return LabelSet(names)
}
