package data

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"skincare-service/retrieval"
)

type RecommendationRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	UserID      string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	SkinType    string    `gorm:"type:varchar(50)" json:"skin_type"`
	Sensitivity string    `gorm:"type:varchar(50)" json:"sensitivity"`
	Concerns    string    `gorm:"type:json" json:"concerns"`
	Summary     string    `gorm:"type:text" json:"summary"`
	Narrative   string    `gorm:"type:text" json:"narrative"`
	Products    string    `gorm:"type:json" json:"products"`
	Suggestions string    `gorm:"type:json" json:"suggestions"`
	Degraded    bool      `json:"degraded"`
	CreatedAt   time.Time `gorm:"type:timestamp;not null;index" json:"created_at"`
}

func NewRecommendationRecord(userID string, q retrieval.DiagnosisQuery, res *retrieval.Result) (*RecommendationRecord, error) {
	concerns, err := json.Marshal(nonNil(q.Concerns))
	if err != nil {
		return nil, err
	}
	products, err := json.Marshal(res.Recommendations)
	if err != nil {
		return nil, err
	}
	suggestions, err := json.Marshal(res.Suggestions)
	if err != nil {
		return nil, err
	}
	return &RecommendationRecord{
		UserID:      userID,
		SkinType:    q.SkinType,
		Sensitivity: q.Sensitivity,
		Concerns:    string(concerns),
		Summary:     res.Summary,
		Narrative:   res.Narrative,
		Products:    string(products),
		Suggestions: string(suggestions),
		Degraded:    res.Degraded,
		CreatedAt:   time.Now(),
	}, nil
}

// Recommendations decodes the stored products.
func (r *RecommendationRecord) Recommendations() ([]retrieval.Recommendation, error) {
	var recs []retrieval.Recommendation
	if r.Products == "" {
		return recs, nil
	}
	if err := json.Unmarshal([]byte(r.Products), &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

type RecommendationRepository struct {
	db *gorm.DB
}

func NewRecommendationRepository(db *gorm.DB) *RecommendationRepository {
	return &RecommendationRepository{
		db: db,
	}
}

func (r *RecommendationRepository) Create(ctx context.Context, rec *RecommendationRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *RecommendationRepository) FindByUser(ctx context.Context, userID string, pagination Pagination) ([]RecommendationRecord, error) {
	p := pagination.normalize()
	var recs []RecommendationRecord
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

func (r *RecommendationRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res := r.db.WithContext(ctx).Delete(&RecommendationRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
