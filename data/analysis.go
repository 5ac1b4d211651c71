package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"skincare-service/inference"
	"skincare-service/service"
)

type AnalysisRecord struct {
	ID                 uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	UserID             string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	SkinType           string    `gorm:"type:varchar(50)" json:"skin_type"`
	SkinTypeConfidence float64   `json:"skin_type_confidence"`
	Disease            string    `gorm:"type:varchar(50)" json:"disease"`
	DiseaseConfidence  float64   `json:"disease_confidence"`
	State              string    `gorm:"type:varchar(50)" json:"state"`
	StateConfidence    float64   `json:"state_confidence"`
	Concerns           string    `gorm:"type:json" json:"concerns"`
	Recommendations    string    `gorm:"type:json" json:"recommendations"`
	Detail             string    `gorm:"type:json" json:"detail"`
	Status             string    `gorm:"type:varchar(10);check:status IN ('success','fail')" json:"status"`
	CreatedAt          time.Time `gorm:"type:timestamp;not null;index" json:"created_at"`
}

// NewAnalysisRecord flattens an analysis for storage. Detail keeps the full
// JSON so history lookups return what the client originally saw.
func NewAnalysisRecord(userID string, a *service.Analysis) (*AnalysisRecord, error) {
	detail, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	recs, err := json.Marshal(nonNil(a.Recommendations))
	if err != nil {
		return nil, err
	}

	rec := &AnalysisRecord{
		UserID:          userID,
		Recommendations: string(recs),
		Detail:          string(detail),
		Status:          "fail",
		CreatedAt:       a.AnalyzedAt,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var concerns []string
	if a.Success {
		rec.Status = "success"
		rec.SkinType, rec.SkinTypeConfidence = labelOf(a.SkinType)
		rec.Disease, rec.DiseaseConfidence = labelOf(a.SkinDisease)
		rec.State, rec.StateConfidence = labelOf(a.SkinState)
		if rec.Disease != inference.HealthyDisease && rec.Disease != inference.Unknown && rec.Disease != "" {
			concerns = append(concerns, rec.Disease)
		}
		if rec.State != inference.HealthyState && rec.State != inference.Unknown && rec.State != "" {
			concerns = append(concerns, rec.State)
		}
	}
	raw, err := json.Marshal(nonNil(concerns))
	if err != nil {
		return nil, err
	}
	rec.Concerns = string(raw)
	return rec, nil
}

// Analysis decodes the stored detail.
func (r *AnalysisRecord) Analysis() (*service.Analysis, error) {
	var a service.Analysis
	if err := json.Unmarshal([]byte(r.Detail), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func labelOf(r *inference.Result) (string, float64) {
	if r == nil {
		return "", 0
	}
	return r.Label, r.Confidence
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{
		db: db,
	}
}

func (r *AnalysisRepository) Create(ctx context.Context, rec *AnalysisRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *AnalysisRepository) FindByID(ctx context.Context, id string) (*AnalysisRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var rec AnalysisRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// FindByUser lists a user's analyses, newest first.
func (r *AnalysisRepository) FindByUser(ctx context.Context, userID string, pagination Pagination) ([]AnalysisRecord, error) {
	p := pagination.normalize()
	var recs []AnalysisRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(p.offset()).
		Limit(p.PageSize).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *AnalysisRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res := r.db.WithContext(ctx).Delete(&AnalysisRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
