package impl

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aigroupchat/backend/config"
	"github.com/aigroupchat/backend/services"
)

type embedderImpl struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	batchSize  int
	retries    int
	timeout    time.Duration
}

func NewEmbedder(cfg *config.Config) services.Embedder {
	clientCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAI.BaseURL
	}

	return &embedderImpl{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.OpenAI.EmbeddingModel),
		dimensions: cfg.OpenAI.Dimensions,
		batchSize:  cfg.OpenAI.MaxBatchSize,
		retries:    cfg.Ingest.EmbedRetries,
		timeout:    time.Duration(cfg.OpenAI.Timeout) * time.Second,
	}
}

func (e *embedderImpl) Dimensions() int {
	return e.dimensions
}

func (e *embedderImpl) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *embedderImpl) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		copy(vectors[start:end], batch)
	}

	return vectors, nil
}

func (e *embedderImpl) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			log.Printf("embedder: retrying batch of %d after %v (attempt %d/%d): %v",
				len(texts), backoff, attempt, e.retries, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", services.ErrBackendTimeout, ctx.Err())
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
			Input: texts,
			Model: e.model,
		})
		cancel()

		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Data) != len(texts) {
			lastErr = fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
			continue
		}

		vectors := make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || data.Index >= len(vectors) {
				return nil, fmt.Errorf("embedding index %d out of range", data.Index)
			}
			vectors[data.Index] = normalize(data.Embedding)
		}
		for i, v := range vectors {
			if len(v) != e.dimensions {
				return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), e.dimensions)
			}
		}
		return vectors, nil
	}

	return nil, fmt.Errorf("embedding failed after %d retries: %w", e.retries, lastErr)
}

// normalize scales the vector to unit length so cosine similarity
// reduces to a dot product and stays in [0,1] after the 1-distance
// transform.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
