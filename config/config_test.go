package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.Server.RESTAddr)
	assert.Equal(t, 224, cfg.Models.InputSize)
	assert.Equal(t, 20*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "score", cfg.Recommend.RankingMode)

	cats, err := cfg.Recommend.ParseCategories()
	require.NoError(t, err)
	assert.Equal(t, []Category{{"토너", "toner"}, {"앰플", "ampoule"}, {"크림", "cream"}}, cats)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SKINCARE_MODELS__DISEASE_PATH", "/srv/disease.onnx")
	t.Setenv("SKINCARE_RECOMMEND__TOP_K", "12")
	t.Setenv("SKINCARE_RECOMMEND__CATEGORIES", "토너=toner, 크림=cream")
	t.Setenv("SKINCARE_GENERATION__TIMEOUT", "5s")
	t.Setenv("GEMINI_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/disease.onnx", cfg.Models.DiseasePath)
	assert.Equal(t, 12, cfg.Recommend.TopK)
	assert.Equal(t, 5*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, "secret", cfg.Generation.APIKey)
	assert.Equal(t, []string{"토너=toner", "크림=cream"}, cfg.Recommend.Categories)
}

func TestLoadYAMLFile(t *testing.T) {
	chdirTemp(t)
	yml := "recommend:\n  ranking_mode: rating\n  per_category: 2\nlogging:\n  format: console\n"
	require.NoError(t, os.WriteFile(filepath.Join(".", "config.yaml"), []byte(yml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "rating", cfg.Recommend.RankingMode)
	assert.Equal(t, 2, cfg.Recommend.PerCategory)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Recommend.RankingMode = "popularity"
	cfg.Recommend.PerCategory = 3
	cfg.Models.ConfThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ranking_mode")
	assert.Contains(t, err.Error(), "per_category")
	assert.Contains(t, err.Error(), "conf_threshold")
}

func TestParseCategoriesInvalid(t *testing.T) {
	_, err := RecommendConfig{Categories: []string{"toner"}}.ParseCategories()
	assert.Error(t, err)
}

func TestEnvTransformFunc(t *testing.T) {
	assert.Equal(t, "models.type_path", envTransformFunc("SKINCARE_MODELS__TYPE_PATH"))
	assert.Equal(t, "database.dsn", envTransformFunc("DATABASE_URL"))
	assert.Equal(t, "", envTransformFunc("HOME"))
}
