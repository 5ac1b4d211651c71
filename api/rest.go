package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"skincare-service/data"
	"skincare-service/inference"
	"skincare-service/retrieval"
	"skincare-service/service"
)

// Analyzer is the part of *service.AnalysisService used by the transports.
type Analyzer interface {
	Analyze(ctx context.Context, raw []byte) service.Analysis
	Status() service.Status
	Reload(ctx context.Context) error
	IsReady() bool
}

type Recommender interface {
	Recommend(ctx context.Context, q retrieval.DiagnosisQuery) (*retrieval.Result, error)
}

type AnalysisStore interface {
	Create(ctx context.Context, rec *data.AnalysisRecord) error
	FindByID(ctx context.Context, id string) (*data.AnalysisRecord, error)
	FindByUser(ctx context.Context, userID string, p data.Pagination) ([]data.AnalysisRecord, error)
	Delete(ctx context.Context, id string) error
}

type RecommendationStore interface {
	Create(ctx context.Context, rec *data.RecommendationRecord) error
	FindByUser(ctx context.Context, userID string, p data.Pagination) ([]data.RecommendationRecord, error)
	Delete(ctx context.Context, id string) error
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}

type AnalyzeResponse struct {
	ID string `json:"id,omitempty"`
	service.Analysis
}

func HandleAnalyzeSkin(analyzer Analyzer, store AnalysisStore, maxBytes int64, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		file, err := c.FormFile("image")
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Failed to get image")
		}
		if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
			return errorJSON(c, fiber.StatusUnsupportedMediaType, "Uploaded file is not an image")
		}
		if file.Size > maxBytes {
			return errorJSON(c, fiber.StatusRequestEntityTooLarge, "Image exceeds the upload limit")
		}

		fileContent, err := file.Open()
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, "Failed to open file")
		}
		defer fileContent.Close()

		buffer := make([]byte, file.Size)
		if _, err := io.ReadFull(fileContent, buffer); err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, "Failed to read file")
		}

		analysis := analyzer.Analyze(c.UserContext(), buffer)
		if !analysis.Success {
			return c.Status(failureStatus(analysis.Failure)).JSON(AnalyzeResponse{Analysis: analysis})
		}

		resp := AnalyzeResponse{Analysis: analysis}
		if userID := c.FormValue("user_id"); userID != "" && store != nil {
			rec, err := data.NewAnalysisRecord(userID, &analysis)
			if err == nil {
				err = store.Create(c.UserContext(), rec)
			}
			if err != nil {
				// the analysis is still returned
				logger.Error().Err(err).Str("user_id", userID).Msg("failed to save analysis")
			} else {
				resp.ID = rec.ID.String()
			}
		}
		return c.JSON(resp)
	}
}

func HandleModelStatus(analyzer Analyzer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"success": true,
			"status":  analyzer.Status(),
		})
	}
}

func failureStatus(f service.Failure) int {
	switch f {
	case service.FailureModelsUnavailable:
		return fiber.StatusServiceUnavailable
	case service.FailureInvalidImage:
		return fiber.StatusUnprocessableEntity
	case service.FailureCanceled, service.FailureDeadline:
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func HandleModelReload(analyzer Analyzer, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := analyzer.Reload(c.UserContext()); err != nil {
			logger.Warn().Err(err).Msg("model reload left no handles")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
				"status":  analyzer.Status(),
			})
		}
		return c.JSON(fiber.Map{
			"success": true,
			"status":  analyzer.Status(),
		})
	}
}

type RecommendRequest struct {
	SkinType    string   `json:"skin_type" validate:"required_without=AnalysisID,max=50"`
	Sensitivity string   `json:"sensitivity" validate:"max=50"`
	Concerns    []string `json:"concerns" validate:"max=20,dive,max=50"`
	AnalysisID  string   `json:"analysis_id" validate:"omitempty,uuid"`
	UserID      string   `json:"user_id" validate:"omitempty,max=64"`
}

type RecommendResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	*retrieval.Result
}

func HandleRecommend(recommender Recommender, analyses AnalysisStore, store RecommendationStore, validate *validator.Validate, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if recommender == nil {
			return errorJSON(c, fiber.StatusServiceUnavailable, retrieval.ErrRetrievalUnavailable.Error())
		}

		var req RecommendRequest
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}

		q, err := queryFor(c.UserContext(), req, analyses)
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return errorJSON(c, fiber.StatusNotFound, "Analysis not found")
			}
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}

		res, err := recommender.Recommend(c.UserContext(), q)
		if err != nil {
			if errors.Is(err, retrieval.ErrRetrievalUnavailable) {
				return errorJSON(c, fiber.StatusServiceUnavailable, err.Error())
			}
			return errorJSON(c, fiber.StatusGatewayTimeout, err.Error())
		}

		resp := RecommendResponse{Success: true, Result: res}
		if req.UserID != "" && store != nil {
			rec, err := data.NewRecommendationRecord(req.UserID, q, res)
			if err == nil {
				err = store.Create(c.UserContext(), rec)
			}
			if err != nil {
				logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to save recommendation")
			} else {
				resp.ID = rec.ID.String()
			}
		}
		return c.JSON(resp)
	}
}

func queryFor(ctx context.Context, req RecommendRequest, analyses AnalysisStore) (retrieval.DiagnosisQuery, error) {
	if req.SkinType != "" {
		q := retrieval.DiagnosisQuery{SkinType: req.SkinType, Sensitivity: req.Sensitivity, Concerns: req.Concerns}
		if q.Sensitivity == "" {
			q.Sensitivity = "보통"
		}
		if q.Concerns == nil {
			q.Concerns = []string{}
		}
		return q, nil
	}
	if analyses == nil {
		return retrieval.DiagnosisQuery{}, errors.New("analysis history is disabled")
	}
	rec, err := analyses.FindByID(ctx, req.AnalysisID)
	if err != nil {
		return retrieval.DiagnosisQuery{}, err
	}
	a, err := rec.Analysis()
	if err != nil {
		return retrieval.DiagnosisQuery{}, err
	}
	q, ok := retrieval.QueryFromAnalysis(a)
	if !ok {
		return retrieval.DiagnosisQuery{}, errors.New("analysis did not succeed")
	}
	return q, nil
}

type AnalysisView struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	SkinType           string    `json:"skin_type"`
	SkinTypeConfidence float64   `json:"skin_type_confidence"`
	Disease            string    `json:"disease"`
	DiseaseConfidence  float64   `json:"disease_confidence"`
	State              string    `json:"state"`
	StateConfidence    float64   `json:"state_confidence"`
	Concerns           []string  `json:"concerns"`
	Recommendations    []string  `json:"recommendations"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

func analysisView(r data.AnalysisRecord) (AnalysisView, error) {
	v := AnalysisView{
		ID:                 r.ID.String(),
		UserID:             r.UserID,
		SkinType:           r.SkinType,
		SkinTypeConfidence: r.SkinTypeConfidence,
		Disease:            r.Disease,
		DiseaseConfidence:  r.DiseaseConfidence,
		State:              r.State,
		StateConfidence:    r.StateConfidence,
		Status:             r.Status,
		CreatedAt:          r.CreatedAt,
	}
	if err := unmarshalList(r.Concerns, &v.Concerns); err != nil {
		return v, fmt.Errorf("concerns: %w", err)
	}
	if err := unmarshalList(r.Recommendations, &v.Recommendations); err != nil {
		return v, fmt.Errorf("recommendations: %w", err)
	}
	return v, nil
}

// unmarshalList decodes a json string array column; an empty column is an
// empty list.
func unmarshalList(raw string, dst *[]string) error {
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return err
		}
	}
	if *dst == nil {
		*dst = []string{}
	}
	return nil
}

func pagination(c *fiber.Ctx) (data.Pagination, error) {
	var p data.Pagination
	if err := c.QueryParser(&p); err != nil {
		return p, err
	}
	return p, nil
}

func HandleAnalysisHistory(store AnalysisStore, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if store == nil {
			return errorJSON(c, fiber.StatusServiceUnavailable, "Analysis history is disabled")
		}
		p, err := pagination(c)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid pagination")
		}
		recs, err := store.FindByUser(c.UserContext(), c.Params("user_id"), p)
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, "Failed to load history")
		}
		views := make([]AnalysisView, 0, len(recs))
		for _, r := range recs {
			v, err := analysisView(r)
			if err != nil {
				logger.Error().Err(err).Str("analysis_id", r.ID.String()).Msg("corrupt analysis record")
				return errorJSON(c, fiber.StatusInternalServerError, "Stored analysis is corrupt")
			}
			views = append(views, v)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"items":   views,
		})
	}
}

func HandleAnalysisDetail(store AnalysisStore, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if store == nil {
			return errorJSON(c, fiber.StatusServiceUnavailable, "Analysis history is disabled")
		}
		rec, err := store.FindByID(c.UserContext(), c.Params("id"))
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return errorJSON(c, fiber.StatusNotFound, "Analysis not found")
			}
			return errorJSON(c, fiber.StatusInternalServerError, "Failed to load analysis")
		}
		analysis, err := rec.Analysis()
		if err != nil {
			logger.Error().Err(err).Str("analysis_id", c.Params("id")).Msg("corrupt analysis record")
			return errorJSON(c, fiber.StatusInternalServerError, "Stored analysis is corrupt")
		}
		view, err := analysisView(*rec)
		if err != nil {
			logger.Error().Err(err).Str("analysis_id", c.Params("id")).Msg("corrupt analysis record")
			return errorJSON(c, fiber.StatusInternalServerError, "Stored analysis is corrupt")
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"record":   view,
			"analysis": analysis,
		})
	}
}

func HandleAnalysisDelete(store AnalysisStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if store == nil {
			return errorJSON(c, fiber.StatusServiceUnavailable, "Analysis history is disabled")
		}
		return deleteResult(c, store.Delete(c.UserContext(), c.Params("id")))
	}
}

type RecommendationView struct {
	ID          string                     `json:"id"`
	UserID      string                     `json:"user_id"`
	SkinType    string                     `json:"skin_type"`
	Sensitivity string                     `json:"sensitivity"`
	Summary     string                     `json:"summary"`
	Narrative   string                     `json:"narrative"`
	Products    []retrieval.Recommendation `json:"products"`
	Degraded    bool                       `json:"degraded"`
	CreatedAt   time.Time                  `json:"created_at"`
}

func HandleRecommendationHistory(store RecommendationStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if store == nil {
			return errorJSON(c, fiber.StatusServiceUnavailable, "Recommendation history is disabled")
		}
		p, err := pagination(c)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid pagination")
		}
		recs, err := store.FindByUser(c.UserContext(), c.Params("user_id"), p)
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, "Failed to load history")
		}
		views := make([]RecommendationView, 0, len(recs))
		for _, r := range recs {
			products, err := r.Recommendations()
			if err != nil {
				products = nil
			}
			if products == nil {
				products = []retrieval.Recommendation{}
			}
			views = append(views, RecommendationView{
				ID:          r.ID.String(),
				UserID:      r.UserID,
				SkinType:    r.SkinType,
				Sensitivity: r.Sensitivity,
				Summary:     r.Summary,
				Narrative:   r.Narrative,
				Products:    products,
				Degraded:    r.Degraded,
				CreatedAt:   r.CreatedAt,
			})
		}
		return c.JSON(fiber.Map{
			"success": true,
			"items":   views,
		})
	}
}

func HandleRecommendationDelete(store RecommendationStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if store == nil {
			return errorJSON(c, fiber.StatusServiceUnavailable, "Recommendation history is disabled")
		}
		return deleteResult(c, store.Delete(c.UserContext(), c.Params("id")))
	}
}

func deleteResult(c *fiber.Ctx, err error) error {
	if errors.Is(err, data.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Not found")
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to delete")
	}
	return c.JSON(fiber.Map{"success": true})
}

var skinConcerns = []string{"여드름", "홍조", "각질", "주름", "미백", "모공", "탄력"}

func HandleSkinOptions() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"skin_types":    inference.SkinTypeLabels,
			"sensitivities": []string{"낮음", "보통", "높음"},
			"concerns":      skinConcerns,
		})
	}
}

func HandleHealth(analyzer Analyzer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":       "ok",
			"models_ready": analyzer.IsReady(),
		})
	}
}
