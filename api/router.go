package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"skincare-service/metrics"
)

// multipart framing on top of the image itself
const uploadOverhead = 1 << 20

// Deps are the collaborators of the REST and gRPC surfaces. Recommender and
// the stores may be nil; their endpoints then answer 503.
type Deps struct {
	Analyzer        Analyzer
	Recommender     Recommender
	Analyses        AnalysisStore
	Recommendations RecommendationStore
	MaxUploadBytes  int64
	Logger          zerolog.Logger
}

func NewRouter(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "skincare-service",
		BodyLimit:             int(d.MaxUploadBytes) + uploadOverhead,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return errorJSON(c, code, err.Error())
		},
	})
	validate := validator.New()

	app.Use(recover.New())
	app.Use(RequestMetrics())

	app.Get("/healthz", HandleHealth(d.Analyzer))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	ai := app.Group("/api/ai")
	ai.Post("/analyze-skin", HandleAnalyzeSkin(d.Analyzer, d.Analyses, d.MaxUploadBytes, d.Logger))
	ai.Get("/models/status", HandleModelStatus(d.Analyzer))
	ai.Post("/models/reload", HandleModelReload(d.Analyzer, d.Logger))

	app.Post("/api/recommend/ai", HandleRecommend(d.Recommender, d.Analyses, d.Recommendations, validate, d.Logger))

	app.Get("/api/skin-analysis/history/:user_id", HandleAnalysisHistory(d.Analyses, d.Logger))
	app.Get("/api/skin-analysis/:id", HandleAnalysisDetail(d.Analyses, d.Logger))
	app.Delete("/api/skin-analysis/:id", HandleAnalysisDelete(d.Analyses))

	app.Get("/api/recommendations/history/:user_id", HandleRecommendationHistory(d.Recommendations))
	app.Delete("/api/recommendations/:id", HandleRecommendationDelete(d.Recommendations))

	app.Get("/api/skin-options", HandleSkinOptions())

	return app
}

// RequestMetrics records count and latency per route pattern.
func RequestMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		metrics.RecordAPIRequest("rest", c.Route().Path, strconv.Itoa(status), time.Since(start))
		return err
	}
}
