package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"skincare-service/embedding"
	"skincare-service/retrieval"
)

var requiredColumns = []string{"product_name", "review"}

// readReviews parses a review CSV with a header row. Known columns are
// product_name, review, skin_type, star, image_url and link; only the first
// two are required. Rows without a product or review, and exact duplicates,
// are dropped.
func readReviews(r io.Reader) ([]retrieval.Metadata, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", c)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []retrieval.Metadata
	seen := make(map[string]bool)
	skipped := 0
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read row: %w", err)
		}
		meta := retrieval.Metadata{
			ProductName: field(rec, "product_name"),
			Review:      embedding.NormalizeText(field(rec, "review")),
			SkinType:    field(rec, "skin_type"),
			Rating:      parseStar(field(rec, "star")),
			ImageURL:    field(rec, "image_url"),
			Link:        field(rec, "link"),
		}
		key := meta.ProductName + "\x00" + meta.Review
		if meta.ProductName == "" || meta.Review == "" || seen[key] {
			skipped++
			continue
		}
		seen[key] = true
		out = append(out, meta)
	}
	return out, skipped, nil
}

// parseStar accepts "5", "4.5" and "5점"; anything else is unrated.
func parseStar(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "점"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 5 {
		return 0
	}
	return v
}

// embedText is what gets embedded for a review; the skin type leads so that
// profile queries land near reviews from the same skin type.
func embedText(m retrieval.Metadata) string {
	if m.SkinType == "" {
		return m.Review
	}
	return m.SkinType + " | " + m.Review
}

func batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
