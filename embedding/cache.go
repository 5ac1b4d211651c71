package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"skincare-service/metrics"
)

const cacheKeyPrefix = "emb:"

// CachedEmbedder memoizes vectors in memory and, when a badger handle is
// given, on disk. Cache write failures are logged and otherwise ignored.
type CachedEmbedder struct {
	next   Embedder
	db     *badger.DB
	logger zerolog.Logger

	mu  sync.RWMutex
	mem map[string][]float32
}

// NewCachedEmbedder wraps next. db may be nil for a memory-only cache.
func NewCachedEmbedder(next Embedder, db *badger.DB, logger zerolog.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		next:   next,
		db:     db,
		logger: logger.With().Str("component", "embedding_cache").Logger(),
		mem:    make(map[string][]float32),
	}
}

func (c *CachedEmbedder) ModelID() string { return c.next.ModelID() }

func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(NormalizeText(text))

	if vec := c.fromMemory(key); vec != nil {
		metrics.EmbeddingCacheHits.WithLabelValues("memory").Inc()
		return vec, nil
	}
	if vec, err := c.fromDisk(key); err == nil {
		metrics.EmbeddingCacheHits.WithLabelValues("disk").Inc()
		c.storeInMemory(key, vec)
		return cloneVector(vec), nil
	}
	metrics.EmbeddingCacheMisses.Inc()

	vec, err := c.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.storeInMemory(key, vec)
	if err := c.saveToDisk(key, vec); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist embedding")
	}
	return cloneVector(vec), nil
}

// EmbedTexts embeds a slice of strings sequentially through the cache.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := c.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Close closes the wrapped embedder. The badger handle belongs to the caller.
func (c *CachedEmbedder) Close() error {
	c.mu.Lock()
	c.mem = make(map[string][]float32)
	c.mu.Unlock()
	return c.next.Close()
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.next.ModelID())
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEmbedder) fromMemory(key string) []float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if vec, ok := c.mem[key]; ok {
		return cloneVector(vec)
	}
	return nil
}

func (c *CachedEmbedder) storeInMemory(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[key] = cloneVector(vec)
}

var errNoDiskCache = errors.New("disk cache disabled")

func (c *CachedEmbedder) fromDisk(key string) ([]float32, error) {
	if c.db == nil {
		return nil, errNoDiskCache
	}
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := DecodeVector(val)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	return vec, err
}

func (c *CachedEmbedder) saveToDisk(key string, vec []float32) error {
	if c.db == nil {
		return nil
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cacheKeyPrefix+key), EncodeVector(vec))
	})
}

// EncodeVector stores a length prefix followed by little-endian float32s.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector reverses EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vector blob too small: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+4*n {
		return nil, fmt.Errorf("vector blob length %d does not match %d dims", len(data), n)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vec, nil
}
