package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skincare-service/data"
	"skincare-service/inference"
	"skincare-service/model"
	"skincare-service/retrieval"
	"skincare-service/service"
)

func successfulAnalysis() service.Analysis {
	return service.Analysis{
		Success:         true,
		SkinType:        &inference.Result{Label: "지성", Confidence: 0.8},
		SkinDisease:     &inference.Result{Label: "여드름", Confidence: 0.6},
		SkinState:       &inference.Result{Label: "양호", Confidence: 0.8},
		Recommendations: []string{"세안을 꼼꼼히 하세요."},
		Summary:         &service.Summary{SkinType: "지성", Disease: "여드름", State: "양호", NeedsMedicalAttention: true},
		AnalyzedAt:      time.Now(),
	}
}

func uploadRequest(t *testing.T, contentType string, payload []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if payload != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="face.png"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ai/analyze-skin", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func jsonRequest(method, path string, body any) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAnalyzeSkinPersistsForUser(t *testing.T) {
	deps, analyzer, _, analyses, _ := testDeps()
	analyzer.analysis = successfulAnalysis()
	app := NewRouter(deps)

	resp, err := app.Test(uploadRequest(t, "image/png", []byte("fake-png"), map[string]string{"user_id": "user-1"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "지성", body["skin_type"].(map[string]any)["label"])
	assert.Equal(t, []byte("fake-png"), analyzer.got)
	assert.Len(t, analyses.recs, 1)
}

func TestAnalyzeSkinWithoutUserIsNotStored(t *testing.T) {
	deps, analyzer, _, analyses, _ := testDeps()
	analyzer.analysis = successfulAnalysis()

	resp, err := NewRouter(deps).Test(uploadRequest(t, "image/jpeg", []byte("jpeg"), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, hasID := decode(t, resp)["id"]
	assert.False(t, hasID)
	assert.Empty(t, analyses.recs)
}

func TestAnalyzeSkinRejectsBadUploads(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	deps.MaxUploadBytes = 8
	app := NewRouter(deps)

	resp, err := app.Test(uploadRequest(t, "text/plain", []byte("hello"), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, err = app.Test(uploadRequest(t, "image/png", bytes.Repeat([]byte{1}, 16), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err = app.Test(uploadRequest(t, "", nil, map[string]string{"user_id": "u"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeSkinFailures(t *testing.T) {
	deps, analyzer, _, _, _ := testDeps()
	app := NewRouter(deps)

	analyzer.analysis = service.Analysis{Error: "models unavailable", Failure: service.FailureModelsUnavailable}
	resp, err := app.Test(uploadRequest(t, "image/png", []byte("x"), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	analyzer.analysis = service.Analysis{Error: "image decode failed: unknown format", Failure: service.FailureInvalidImage}
	resp, err = app.Test(uploadRequest(t, "image/png", []byte("x"), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "image decode failed: unknown format", body["error"])
	assert.NotContains(t, body, "failure")

	analyzer.analysis = service.Analysis{Error: "analysis failed: boom", Failure: service.FailureInternal}
	resp, err = app.Test(uploadRequest(t, "image/png", []byte("x"), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestModelStatusAndReload(t *testing.T) {
	deps, analyzer, _, _, _ := testDeps()
	analyzer.status = service.Status{
		State:           "loaded",
		AvailableModels: map[model.Kind]bool{model.KindType: true},
		ModelPaths:      map[model.Kind]string{model.KindType: "models/skintype.onnx"},
	}
	app := NewRouter(deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/ai/models/status", nil))
	require.NoError(t, err)
	body := decode(t, resp)
	st := body["status"].(map[string]any)
	assert.Equal(t, "loaded", st["state"])
	assert.Equal(t, true, st["available_models"].(map[string]any)["type"])

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/ai/models/reload", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, analyzer.reloads)

	analyzer.reloadErr = service.ErrModelsUnavailable
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/ai/models/reload", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRecommend(t *testing.T) {
	deps, _, rec, _, history := testDeps()
	rec.result = &retrieval.Result{
		Summary:   "요약",
		Narrative: "토너: A - 진정",
		Recommendations: []retrieval.Recommendation{
			{Category: "토너", ProductName: "A", Reason: "진정", Matched: true},
		},
	}
	app := NewRouter(deps)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/recommend/ai", map[string]any{
		"skin_type": "지성",
		"concerns":  []string{"여드름"},
		"user_id":   "user-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["id"])
	assert.Len(t, body["recommendations"], 1)

	assert.Equal(t, "보통", rec.got.Sensitivity)
	assert.Equal(t, []string{"여드름"}, rec.got.Concerns)
	assert.Len(t, history.recs, 1)
}

func TestRecommendValidation(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	app := NewRouter(deps)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/recommend/ai", map[string]any{"concerns": []string{"여드름"}}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/recommend/ai", map[string]any{"skin_type": strings.Repeat("가", 51)}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/api/recommend/ai", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecommendFromStoredAnalysis(t *testing.T) {
	deps, _, rec, analyses, _ := testDeps()
	rec.result = &retrieval.Result{}
	a := successfulAnalysis()
	stored, err := data.NewAnalysisRecord("user-1", &a)
	require.NoError(t, err)
	require.NoError(t, analyses.Create(t.Context(), stored))
	app := NewRouter(deps)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/recommend/ai", map[string]any{"analysis_id": stored.ID.String()}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "지성", rec.got.SkinType)
	assert.Equal(t, []string{"여드름"}, rec.got.Concerns)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/api/recommend/ai", map[string]any{"analysis_id": "5f0c6c8e-0000-4000-8000-000000000000"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecommendUnavailable(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	deps.Recommender = nil
	resp, err := NewRouter(deps).Test(jsonRequest(http.MethodPost, "/api/recommend/ai", map[string]any{"skin_type": "건성"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	deps, _, rec, _, _ := testDeps()
	rec.err = retrieval.ErrRetrievalUnavailable
	resp, err = NewRouter(deps).Test(jsonRequest(http.MethodPost, "/api/recommend/ai", map[string]any{"skin_type": "건성"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAnalysisHistory(t *testing.T) {
	deps, _, _, analyses, _ := testDeps()
	a := successfulAnalysis()
	stored, err := data.NewAnalysisRecord("user-1", &a)
	require.NoError(t, err)
	require.NoError(t, analyses.Create(t.Context(), stored))
	app := NewRouter(deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/skin-analysis/history/user-1?page=1&page_size=5", nil))
	require.NoError(t, err)
	items := decode(t, resp)["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "여드름", item["disease"])
	assert.Equal(t, []any{"여드름"}, item["concerns"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/skin-analysis/"+stored.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode(t, resp)
	assert.Equal(t, true, detail["analysis"].(map[string]any)["success"])

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/skin-analysis/"+stored.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/skin-analysis/"+stored.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/skin-analysis/"+stored.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalysisHistoryCorruptRecord(t *testing.T) {
	deps, _, _, analyses, _ := testDeps()
	a := successfulAnalysis()
	stored, err := data.NewAnalysisRecord("user-2", &a)
	require.NoError(t, err)
	stored.Concerns = "not json"
	require.NoError(t, analyses.Create(t.Context(), stored))
	app := NewRouter(deps)

	for _, path := range []string{"/api/skin-analysis/history/user-2", "/api/skin-analysis/" + stored.ID.String()} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, path)
		assert.Equal(t, "Stored analysis is corrupt", decode(t, resp)["error"], path)
	}
}

func TestRecommendationHistory(t *testing.T) {
	deps, _, _, _, history := testDeps()
	stored, err := data.NewRecommendationRecord("user-9", retrieval.DiagnosisQuery{SkinType: "건성"}, &retrieval.Result{
		Recommendations: []retrieval.Recommendation{{Category: "크림", ProductName: "B"}},
	})
	require.NoError(t, err)
	require.NoError(t, history.Create(t.Context(), stored))
	app := NewRouter(deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/recommendations/history/user-9", nil))
	require.NoError(t, err)
	items := decode(t, resp)["items"].([]any)
	require.Len(t, items, 1)
	products := items[0].(map[string]any)["products"].([]any)
	assert.Equal(t, "B", products[0].(map[string]any)["product_name"])

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/recommendations/"+stored.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHistoryDisabled(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	deps.Analyses, deps.Recommendations = nil, nil
	app := NewRouter(deps)

	for _, path := range []string{"/api/skin-analysis/history/u", "/api/recommendations/history/u"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}
}

func TestStaticEndpoints(t *testing.T) {
	deps, _, _, _, _ := testDeps()
	app := NewRouter(deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/skin-options", nil))
	require.NoError(t, err)
	opts := decode(t, resp)
	assert.Contains(t, opts["concerns"], "여드름")
	assert.Contains(t, opts["skin_types"], "민감성")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, resp)["models_ready"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "api_requests_total")
}
