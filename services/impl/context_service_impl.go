package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/aigroupchat/backend/config"
	"github.com/aigroupchat/backend/metrics"
	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

// contextServiceImpl is the per-turn front door for the voice agent.
// Its contract is strict: backend trouble degrades to has_context=false,
// never to an error, so a broken retrieval stack cannot break a
// conversation.
type contextServiceImpl struct {
	retriever services.Retriever
	store     services.DocumentStore
	cache     services.MetadataCache

	defaultTopK int
	charLimit   int
	softBudget  time.Duration
}

func NewContextService(
	cfg *config.Config,
	retriever services.Retriever,
	store services.DocumentStore,
	cache services.MetadataCache,
) services.ContextService {
	return &contextServiceImpl{
		retriever:   retriever,
		store:       store,
		cache:       cache,
		defaultTopK: cfg.Retrieval.DefaultTopK,
		charLimit:   cfg.Retrieval.ContextCharLimit,
		softBudget:  time.Duration(cfg.Retrieval.ContextBudgetMs) * time.Millisecond,
	}
}

func (s *contextServiceImpl) GetContext(ctx context.Context, req models.ContextRequest) (*models.ContextResponse, error) {
	start := time.Now()

	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", services.ErrInvalidInput)
	}

	// Empty query short-circuits with no backend calls at all.
	if strings.TrimSpace(req.Query) == "" {
		metrics.ContextRequests.WithLabelValues("empty").Inc()
		return &models.ContextResponse{
			Context:    "",
			HasContext: false,
			Sources:    []string{},
			LatencyMs:  time.Since(start).Milliseconds(),
		}, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.defaultTopK
	}

	searchResp, err := s.retriever.Search(ctx, models.SearchRequest{
		OwnerID: req.OwnerID,
		AgentID: req.AgentID,
		Query:   req.Query,
		TopK:    topK,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			return nil, err
		}
		// Anything else degrades per contract.
		log.Printf("context: search failed for owner %s: %v", req.OwnerID, err)
		metrics.ContextRequests.WithLabelValues("degraded").Inc()
		return s.finish(&models.ContextResponse{
			Context:    "",
			HasContext: false,
			Sources:    []string{},
			Degraded:   true,
		}, start), nil
	}

	if len(searchResp.Results) == 0 {
		outcome := "empty"
		if searchResp.Degraded {
			outcome = "degraded"
		}
		metrics.ContextRequests.WithLabelValues(outcome).Inc()
		return s.finish(&models.ContextResponse{
			Context:    "",
			HasContext: false,
			Sources:    []string{},
			Degraded:   searchResp.Degraded,
		}, start), nil
	}

	titles := s.resolveTitles(ctx, req.OwnerID, searchResp.Results)
	contextBlock, sources := s.formatContext(searchResp.Results, titles)

	metrics.ContextRequests.WithLabelValues("hit").Inc()
	return s.finish(&models.ContextResponse{
		Context:    contextBlock,
		HasContext: true,
		Sources:    sources,
		Degraded:   searchResp.Degraded,
	}, start), nil
}

func (s *contextServiceImpl) finish(resp *models.ContextResponse, start time.Time) *models.ContextResponse {
	elapsed := time.Since(start)
	resp.LatencyMs = elapsed.Milliseconds()
	metrics.ContextLatency.Observe(elapsed.Seconds())

	if elapsed > s.softBudget {
		metrics.ContextBudgetOverruns.Inc()
		log.Printf("context: turn exceeded soft budget: %v > %v", elapsed, s.softBudget)
	}

	return resp
}

// resolveTitles serves document titles from the metadata cache, loading
// from the store on a miss. On store failure it falls back to the
// titles the search results already carry.
func (s *contextServiceImpl) resolveTitles(ctx context.Context, ownerID string, results []models.RetrievedChunk) map[uuid.UUID]string {
	titles, ok := s.cache.GetTitles(ctx, ownerID)
	if ok {
		return titles
	}

	docs, err := s.store.ListDocuments(ctx, ownerID)
	if err != nil {
		log.Printf("context: title load failed for owner %s, using result titles: %v", ownerID, err)
		titles = make(map[uuid.UUID]string, len(results))
		for _, r := range results {
			titles[r.DocumentID] = r.DocumentTitle
		}
		return titles
	}

	titles = make(map[uuid.UUID]string, len(docs))
	for _, d := range docs {
		titles[d.ID] = d.Title
	}
	s.cache.SetTitles(ctx, ownerID, titles)

	return titles
}

// formatContext renders one block per result:
//
//	From '<title>':
//	<chunk content>
//
// separated by blank lines and truncated to the character budget.
func (s *contextServiceImpl) formatContext(results []models.RetrievedChunk, titles map[uuid.UUID]string) (string, []string) {
	var b strings.Builder
	var sources []string
	seen := make(map[uuid.UUID]struct{})

	for _, r := range results {
		title := titles[r.DocumentID]
		if title == "" {
			title = r.DocumentTitle
		}

		block := fmt.Sprintf("From '%s':\n%s", title, r.DisplayText())
		if b.Len() > 0 {
			block = "\n\n" + block
		}

		remaining := s.charLimit - b.Len()
		if remaining <= 0 {
			break
		}
		if len(block) > remaining {
			// Back off to a rune boundary so the cut never emits
			// invalid UTF-8.
			cut := remaining
			for cut > 0 && !utf8.RuneStart(block[cut]) {
				cut--
			}
			b.WriteString(block[:cut])
			if _, ok := seen[r.DocumentID]; !ok {
				seen[r.DocumentID] = struct{}{}
				sources = append(sources, title)
			}
			break
		}

		b.WriteString(block)
		if _, ok := seen[r.DocumentID]; !ok {
			seen[r.DocumentID] = struct{}{}
			sources = append(sources, title)
		}
	}

	return b.String(), sources
}
