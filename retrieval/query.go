package retrieval

import (
	"skincare-service/inference"
	"skincare-service/service"
)

// QueryFromLabels builds a query from the three analysis labels. Healthy and
// unknown labels are not concerns.
func QueryFromLabels(skinType, disease, state string) DiagnosisQuery {
	q := DiagnosisQuery{SkinType: skinType, Sensitivity: "보통", Concerns: []string{}}
	if skinType == "민감성" || state == "민감" {
		q.Sensitivity = "높음"
	}
	if skinType == "" || skinType == inference.Unknown {
		q.SkinType = "정상"
	}
	if disease != "" && disease != inference.HealthyDisease && disease != inference.Unknown {
		q.Concerns = append(q.Concerns, disease)
	}
	if state != "" && state != inference.HealthyState && state != inference.Unknown && state != disease {
		q.Concerns = append(q.Concerns, state)
	}
	return q
}

// QueryFromAnalysis derives a query from a successful analysis.
func QueryFromAnalysis(a *service.Analysis) (DiagnosisQuery, bool) {
	if a == nil || !a.Success || a.Summary == nil {
		return DiagnosisQuery{}, false
	}
	return QueryFromLabels(a.Summary.SkinType, a.Summary.Disease, a.Summary.State), true
}
