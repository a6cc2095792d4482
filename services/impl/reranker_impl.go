package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/aigroupchat/backend/config"
	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

// rerankerImpl talks to a TEI-style cross-encoder sidecar over HTTP.
// A fixed-size slot pool bounds concurrent requests so a slow sidecar
// cannot pile up goroutines under load.
type rerankerImpl struct {
	baseURL string
	client  *http.Client
	slots   chan struct{}
}

func NewReranker(cfg *config.Config) services.Reranker {
	workers := cfg.Reranker.Workers
	if workers <= 0 {
		workers = 1
	}

	return &rerankerImpl{
		baseURL: cfg.Reranker.BaseURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.Reranker.Timeout) * time.Second,
		},
		slots: make(chan struct{}, workers),
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (r *rerankerImpl) Rerank(ctx context.Context, query string, candidates []models.RetrievedChunk) ([]models.RetrievedChunk, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	select {
	case r.slots <- struct{}{}:
		defer func() { <-r.slots }()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", services.ErrBackendTimeout, ctx.Err())
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank backend returned %d", resp.StatusCode)
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make(map[int]float64, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank index %d out of range", res.Index)
		}
		scores[res.Index] = res.Score
	}

	// Assemble in candidate order, whatever order the sidecar answered
	// in, so the stable sort keeps the incoming ranking between ties.
	reranked := make([]models.RetrievedChunk, 0, len(scores))
	for i, chunk := range candidates {
		score, ok := scores[i]
		if !ok {
			continue
		}
		chunk.Score = score
		reranked = append(reranked, chunk)
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})

	return reranked, nil
}
