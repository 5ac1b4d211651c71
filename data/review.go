package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"skincare-service/embedding"
	"skincare-service/retrieval"
)

// ReviewEmbedding is one embedded product review. Vector holds the
// embedding.EncodeVector encoding.
type ReviewEmbedding struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	IndexName   string    `gorm:"type:varchar(50);index:idx_review_index_model;not null" json:"index_name"`
	Model       string    `gorm:"type:varchar(100);index:idx_review_index_model;not null" json:"model"`
	ProductName string    `gorm:"type:varchar(255);not null" json:"product_name"`
	Review      string    `gorm:"type:text" json:"review"`
	SkinType    string    `gorm:"type:varchar(50)" json:"skin_type"`
	Rating      float64   `json:"rating"`
	ImageURL    string    `gorm:"type:text" json:"image_url"`
	Link        string    `gorm:"type:text" json:"link"`
	Dim         int       `json:"dim"`
	Vector      []byte    `gorm:"type:bytea;not null" json:"-"`
	CreatedAt   time.Time `gorm:"type:timestamp;not null" json:"created_at"`
}

// NewReviewEmbedding pairs review metadata with its vector.
func NewReviewEmbedding(index, model string, meta retrieval.Metadata, vec []float32) ReviewEmbedding {
	return ReviewEmbedding{
		ID:          uuid.New(),
		IndexName:   index,
		Model:       model,
		ProductName: meta.ProductName,
		Review:      meta.Review,
		SkinType:    meta.SkinType,
		Rating:      meta.Rating,
		ImageURL:    meta.ImageURL,
		Link:        meta.Link,
		Dim:         len(vec),
		Vector:      embedding.EncodeVector(vec),
		CreatedAt:   time.Now(),
	}
}

func (r ReviewEmbedding) toStored() (retrieval.StoredVector, error) {
	vec, err := embedding.DecodeVector(r.Vector)
	if err != nil {
		return retrieval.StoredVector{}, fmt.Errorf("review %s: %w", r.ID, err)
	}
	return retrieval.StoredVector{
		ID:     r.ID.String(),
		Vector: vec,
		Metadata: retrieval.Metadata{
			ProductName: r.ProductName,
			Review:      r.Review,
			SkinType:    r.SkinType,
			Rating:      r.Rating,
			ImageURL:    r.ImageURL,
			Link:        r.Link,
		},
	}, nil
}

// ReviewRepository stores review vectors of a single embedding model.
// Vectors from other models live in the same table but are never returned.
type ReviewRepository struct {
	db    *gorm.DB
	model string
}

func NewReviewRepository(db *gorm.DB, model string) *ReviewRepository {
	return &ReviewRepository{
		db:    db,
		model: model,
	}
}

func (r *ReviewRepository) CreateBatch(ctx context.Context, rows []ReviewEmbedding) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// Vectors implements retrieval.VectorSource.
func (r *ReviewRepository) Vectors(ctx context.Context, index string) ([]retrieval.StoredVector, error) {
	var rows []ReviewEmbedding
	err := r.db.WithContext(ctx).
		Where("index_name = ? AND model = ?", index, r.model).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]retrieval.StoredVector, 0, len(rows))
	for _, row := range rows {
		sv, err := row.toStored()
		if err != nil {
			return nil, err
		}
		out = append(out, sv)
	}
	return out, nil
}

// DeleteIndex removes every vector of one index for this model. It backs
// ingestion with --replace.
func (r *ReviewRepository) DeleteIndex(ctx context.Context, index string) (int64, error) {
	res := r.db.WithContext(ctx).Where("index_name = ? AND model = ?", index, r.model).Delete(&ReviewEmbedding{})
	return res.RowsAffected, res.Error
}

func (r *ReviewRepository) Count(ctx context.Context, index string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ReviewEmbedding{}).
		Where("index_name = ? AND model = ?", index, r.model).
		Count(&n).Error
	return n, err
}
