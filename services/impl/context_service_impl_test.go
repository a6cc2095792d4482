package impl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

type fakeRetriever struct {
	searchFn func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	calls    int
}

func (f *fakeRetriever) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	f.calls++
	return f.searchFn(ctx, req)
}

type fakeCache struct {
	titles map[string]map[uuid.UUID]string
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{titles: make(map[string]map[uuid.UUID]string)}
}

func (f *fakeCache) GetTitles(ctx context.Context, ownerID string) (map[uuid.UUID]string, bool) {
	titles, ok := f.titles[ownerID]
	return titles, ok
}

func (f *fakeCache) SetTitles(ctx context.Context, ownerID string, titles map[uuid.UUID]string) {
	f.sets++
	f.titles[ownerID] = titles
}

func (f *fakeCache) Invalidate(ctx context.Context, ownerID string) {
	delete(f.titles, ownerID)
}

func contextService(retriever services.Retriever, store services.DocumentStore, cache services.MetadataCache) services.ContextService {
	return NewContextService(retrievalConfig(), retriever, store, cache)
}

func TestGetContextValidation(t *testing.T) {
	svc := contextService(&fakeRetriever{}, &fakeStore{}, newFakeCache())

	_, err := svc.GetContext(context.Background(), models.ContextRequest{Query: "q"})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestGetContextEmptyQuery(t *testing.T) {
	retriever := &fakeRetriever{}
	svc := contextService(retriever, &fakeStore{}, newFakeCache())

	resp, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "  \t "})
	require.NoError(t, err)
	assert.False(t, resp.HasContext)
	assert.Empty(t, resp.Context)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, retriever.calls, "empty query must not reach the retriever")
}

func TestGetContextFormatsBlocks(t *testing.T) {
	docA := uuid.New()
	docB := uuid.New()

	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return &models.SearchResponse{Results: []models.RetrievedChunk{
				{SectionID: uuid.New(), DocumentID: docA, Content: "Chunk one body."},
				{SectionID: uuid.New(), DocumentID: docB, Content: "Chunk two body."},
				{SectionID: uuid.New(), DocumentID: docA, Content: "Chunk three body."},
			}}, nil
		},
	}

	cache := newFakeCache()
	cache.titles["u1"] = map[uuid.UUID]string{
		docA: "Biology Notes",
		docB: "Chemistry Notes",
	}

	svc := contextService(retriever, &fakeStore{}, cache)

	resp, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "cells"})
	require.NoError(t, err)
	assert.True(t, resp.HasContext)

	expected := "From 'Biology Notes':\nChunk one body.\n\n" +
		"From 'Chemistry Notes':\nChunk two body.\n\n" +
		"From 'Biology Notes':\nChunk three body."
	assert.Equal(t, expected, resp.Context)

	// Sources are unique document titles in first-seen order.
	assert.Equal(t, []string{"Biology Notes", "Chemistry Notes"}, resp.Sources)
}

func TestGetContextCharLimit(t *testing.T) {
	docID := uuid.New()
	big := strings.Repeat("x", 3000)

	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return &models.SearchResponse{Results: []models.RetrievedChunk{
				{SectionID: uuid.New(), DocumentID: docID, Content: big},
				{SectionID: uuid.New(), DocumentID: docID, Content: big},
				{SectionID: uuid.New(), DocumentID: docID, Content: big},
			}}, nil
		},
	}

	cache := newFakeCache()
	cache.titles["u1"] = map[uuid.UUID]string{docID: "Big Doc"}

	svc := contextService(retriever, &fakeStore{}, cache)

	resp, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "x"})
	require.NoError(t, err)
	assert.True(t, resp.HasContext)
	assert.LessOrEqual(t, len(resp.Context), 4000)
	// The second block was cut mid-way, not dropped entirely.
	assert.Greater(t, len(resp.Context), 3000)
}

func TestGetContextCharLimitRuneBoundary(t *testing.T) {
	docID := uuid.New()
	// Two-byte runes starting at an odd byte offset, so a raw byte cut
	// at the limit would land mid-rune.
	accents := strings.Repeat("é", 2500)

	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return &models.SearchResponse{Results: []models.RetrievedChunk{
				{SectionID: uuid.New(), DocumentID: docID, Content: accents},
			}}, nil
		},
	}

	cache := newFakeCache()
	cache.titles["u1"] = map[uuid.UUID]string{docID: "Docs"}

	svc := contextService(retriever, &fakeStore{}, cache)

	resp, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "accents"})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(resp.Context), "truncation must not split a rune")
	assert.LessOrEqual(t, len(resp.Context), 4000)
	assert.True(t, strings.HasSuffix(resp.Context, "é"))
}

func TestGetContextDegradesOnSearchFailure(t *testing.T) {
	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return nil, errors.New("store is on fire")
		},
	}

	svc := contextService(retriever, &fakeStore{}, newFakeCache())

	resp, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "q"})
	require.NoError(t, err, "backend failure must degrade, not error")
	assert.False(t, resp.HasContext)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Context)
}

func TestGetContextPropagatesInvalidInput(t *testing.T) {
	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return nil, fmt.Errorf("%w: bad agent", services.ErrInvalidInput)
		},
	}

	svc := contextService(retriever, &fakeStore{}, newFakeCache())

	_, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "q", AgentID: "junk"})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestGetContextNoResults(t *testing.T) {
	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return &models.SearchResponse{Results: []models.RetrievedChunk{}}, nil
		},
	}

	svc := contextService(retriever, &fakeStore{}, newFakeCache())

	resp, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "nothing matches"})
	require.NoError(t, err)
	assert.False(t, resp.HasContext)
	assert.Empty(t, resp.Context)
	assert.Empty(t, resp.Sources)
}

func TestGetContextTitleCacheMiss(t *testing.T) {
	docID := uuid.New()

	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return &models.SearchResponse{Results: []models.RetrievedChunk{
				{SectionID: uuid.New(), DocumentID: docID, Content: "body"},
			}}, nil
		},
	}

	store := &fakeStore{
		listDocumentsFn: func(ctx context.Context, ownerID string) ([]models.Document, error) {
			return []models.Document{{ID: docID, Title: "Loaded From Store"}}, nil
		},
	}

	cache := newFakeCache()
	svc := contextService(retriever, store, cache)

	resp, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "From 'Loaded From Store':")
	assert.Equal(t, 1, cache.sets, "a miss populates the cache")
}

func TestGetContextTitleFallbackOnStoreFailure(t *testing.T) {
	docID := uuid.New()

	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			return &models.SearchResponse{Results: []models.RetrievedChunk{
				{SectionID: uuid.New(), DocumentID: docID, Content: "body", DocumentTitle: "Carried Title"},
			}}, nil
		},
	}

	store := &fakeStore{
		listDocumentsFn: func(ctx context.Context, ownerID string) ([]models.Document, error) {
			return nil, errors.New("db down")
		},
	}

	svc := contextService(retriever, store, newFakeCache())

	resp, err := svc.GetContext(context.Background(), models.ContextRequest{OwnerID: "u1", Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "From 'Carried Title':")
}

func TestGetContextForwardsAgentAndTopK(t *testing.T) {
	var got models.SearchRequest
	retriever := &fakeRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			got = req
			return &models.SearchResponse{Results: []models.RetrievedChunk{}}, nil
		},
	}

	svc := contextService(retriever, &fakeStore{}, newFakeCache())

	agentID := uuid.New().String()
	_, err := svc.GetContext(context.Background(), models.ContextRequest{
		OwnerID: "u1", Query: "q", AgentID: agentID, TopK: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", got.OwnerID)
	assert.Equal(t, agentID, got.AgentID)
	assert.Equal(t, 7, got.TopK)
}
