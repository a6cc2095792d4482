package impl

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aigroupchat/backend/config"
	"github.com/aigroupchat/backend/metrics"
	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
	"github.com/aigroupchat/backend/services/index"
)

const (
	// rrfK is the standard RRF constant that balances rank positions.
	rrfK = 60
	// rerankCap bounds the candidates handed to the cross-encoder.
	rerankCap = 20
	maxTopK   = 50
)

type retrieverImpl struct {
	store    services.DocumentStore
	embedder services.Embedder
	agents   services.AgentService
	registry *index.Registry
	reranker services.Reranker

	useHybrid        bool
	useRerank        bool
	defaultTopK      int
	defaultThreshold float64
	searchDeadline   time.Duration
}

func NewRetriever(
	cfg *config.Config,
	store services.DocumentStore,
	embedder services.Embedder,
	agents services.AgentService,
	registry *index.Registry,
	reranker services.Reranker,
) services.Retriever {
	return &retrieverImpl{
		store:            store,
		embedder:         embedder,
		agents:           agents,
		registry:         registry,
		reranker:         reranker,
		useHybrid:        cfg.Retrieval.UseHybridSearch,
		useRerank:        cfg.Retrieval.UseRerank && reranker != nil,
		defaultTopK:      cfg.Retrieval.DefaultTopK,
		defaultThreshold: cfg.Retrieval.SimilarityThreshold,
		searchDeadline:   time.Duration(cfg.Retrieval.SearchDeadlineMs) * time.Millisecond,
	}
}

// Search runs the hybrid pipeline. Backend failures degrade the result
// instead of erroring: a dead vector store with a live keyword index
// still answers, and vice versa. The only errors returned are invalid
// input and scope resolution failures.
func (r *retrieverImpl) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", services.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Query) == "" {
		return &models.SearchResponse{Results: []models.RetrievedChunk{}}, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = r.defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	threshold := r.defaultThreshold
	if req.SimilarityThreshold != nil {
		threshold = clamp01(*req.SimilarityThreshold)
	}

	var allowedDocs []uuid.UUID
	if req.AgentID != "" {
		agentID, err := uuid.Parse(req.AgentID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid agent_id", services.ErrInvalidInput)
		}
		ids, restricted, err := r.agents.AllowedDocumentIDs(ctx, agentID, req.OwnerID)
		if err != nil {
			return nil, err
		}
		if restricted && len(ids) == 0 {
			// An agent with no linked documents retrieves nothing.
			return &models.SearchResponse{Results: []models.RetrievedChunk{}}, nil
		}
		allowedDocs = ids
	}

	candidateLimit := 3 * topK

	queryVec, embedErr := r.embedder.EmbedQuery(ctx, req.Query)

	// Vector and keyword search run in parallel under a shared stage
	// deadline. Branch failures are collected, not propagated, so one
	// backend going down degrades rather than fails the search.
	searchCtx, cancel := context.WithTimeout(ctx, r.searchDeadline)
	defer cancel()

	var vectorResults []models.RetrievedChunk
	var keywordHits []index.Hit
	var vectorErr error

	var g errgroup.Group

	if embedErr == nil {
		g.Go(func() error {
			vectorResults, vectorErr = r.store.VectorSearch(searchCtx, req.OwnerID, allowedDocs, queryVec, candidateLimit, threshold)
			return nil
		})
	}

	if r.useHybrid {
		g.Go(func() error {
			// Snapshot reads are in-memory and cannot fail; a missing
			// snapshot just means nothing ingested yet.
			if snapshot := r.registry.Get(req.OwnerID); snapshot != nil {
				keywordHits = snapshot.Search(req.Query, candidateLimit, allowedDocs)
			}
			return nil
		})
	}

	_ = g.Wait()

	degraded := false
	if embedErr != nil {
		log.Printf("retriever: query embedding failed, vector search skipped: %v", embedErr)
		degraded = true
	}
	if vectorErr != nil {
		log.Printf("retriever: vector search failed: %v", vectorErr)
		metrics.SearchBranchFailures.WithLabelValues("vector").Inc()
		vectorResults = nil
		degraded = true
	}

	fused := r.fuse(ctx, req.OwnerID, vectorResults, keywordHits)

	if len(fused) == 0 {
		return &models.SearchResponse{Results: []models.RetrievedChunk{}, Degraded: degraded}, nil
	}

	if r.useRerank {
		cap := candidateLimit
		if cap > rerankCap {
			cap = rerankCap
		}
		if cap > len(fused) {
			cap = len(fused)
		}

		reranked, err := r.reranker.Rerank(ctx, req.Query, fused[:cap])
		if err != nil {
			log.Printf("retriever: rerank failed, keeping fused order: %v", err)
			metrics.SearchBranchFailures.WithLabelValues("rerank").Inc()
			degraded = true
		} else {
			fused = append(reranked, fused[cap:]...)
		}
	}

	if len(fused) > topK {
		fused = fused[:topK]
	}

	return &models.SearchResponse{Results: fused, Degraded: degraded}, nil
}

// fuse combines the two candidate lists with Reciprocal Rank Fusion:
// score = sum over lists of 1/(k + rank + 1). Keyword-only hits are
// materialized from the store afterwards; if that load fails they are
// dropped (the vector hits still stand).
func (r *retrieverImpl) fuse(ctx context.Context, ownerID string, vectorResults []models.RetrievedChunk, keywordHits []index.Hit) []models.RetrievedChunk {
	scores := make(map[uuid.UUID]float64)
	chunks := make(map[uuid.UUID]models.RetrievedChunk)

	for rank, chunk := range vectorResults {
		scores[chunk.SectionID] += 1.0 / float64(rrfK+rank+1)
		if _, exists := chunks[chunk.SectionID]; !exists {
			chunks[chunk.SectionID] = chunk
		}
	}

	var missing []uuid.UUID
	for rank, hit := range keywordHits {
		scores[hit.SectionID] += 1.0 / float64(rrfK+rank+1)
		if _, exists := chunks[hit.SectionID]; !exists {
			missing = append(missing, hit.SectionID)
		}
	}

	if len(missing) > 0 {
		loaded, err := r.store.GetSectionsByIDs(ctx, missing, ownerID)
		if err != nil {
			log.Printf("retriever: failed to materialize %d keyword hits: %v", len(missing), err)
			for _, id := range missing {
				delete(scores, id)
			}
		} else {
			for _, chunk := range loaded {
				chunks[chunk.SectionID] = chunk
			}
			// The index can briefly reference sections deleted from the
			// store; drop hits that did not materialize.
			loadedSet := make(map[uuid.UUID]struct{}, len(loaded))
			for _, chunk := range loaded {
				loadedSet[chunk.SectionID] = struct{}{}
			}
			for _, id := range missing {
				if _, ok := loadedSet[id]; !ok {
					delete(scores, id)
				}
			}
		}
	}

	fused := make([]models.RetrievedChunk, 0, len(scores))
	for id, score := range scores {
		chunk := chunks[id]
		chunk.Score = score
		fused = append(fused, chunk)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].SectionID.String() < fused[j].SectionID.String()
	})

	return fused
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
