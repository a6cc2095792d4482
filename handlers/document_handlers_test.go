package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

type stubRetriever struct {
	searchFn func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	calls    int
}

func (s *stubRetriever) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	s.calls++
	return s.searchFn(ctx, req)
}

type stubContextService struct {
	getContextFn func(ctx context.Context, req models.ContextRequest) (*models.ContextResponse, error)
	calls        int
}

func (s *stubContextService) GetContext(ctx context.Context, req models.ContextRequest) (*models.ContextResponse, error) {
	s.calls++
	return s.getContextFn(ctx, req)
}

func queryRouter(retriever services.Retriever, contextSvc services.ContextService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewDocumentHandlers(nil, nil, retriever, contextSvc, 1<<20)
	r := gin.New()
	r.POST("/api/documents/search", h.SearchDocuments)
	r.POST("/api/documents/context", h.GetContext)
	return r
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// An empty query is a valid request that answers with zero results. It
// must pass binding and reach the service layer, never 400.
func TestSearchDocumentsEmptyQuery(t *testing.T) {
	retriever := &stubRetriever{
		searchFn: func(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
			assert.Equal(t, "u1", req.OwnerID)
			assert.Empty(t, req.Query)
			return &models.SearchResponse{Results: []models.RetrievedChunk{}}, nil
		},
	}
	router := queryRouter(retriever, &stubContextService{})

	w := postJSON(t, router, "/api/documents/search", `{"owner_id":"u1","query":""}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, retriever.calls)

	var results []searchResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	assert.Empty(t, results)
}

func TestGetContextEmptyQuery(t *testing.T) {
	contextSvc := &stubContextService{
		getContextFn: func(ctx context.Context, req models.ContextRequest) (*models.ContextResponse, error) {
			assert.Equal(t, "u1", req.OwnerID)
			assert.Empty(t, req.Query)
			return &models.ContextResponse{HasContext: false, Sources: []string{}}, nil
		},
	}
	router := queryRouter(&stubRetriever{}, contextSvc)

	w := postJSON(t, router, "/api/documents/context", `{"owner_id":"u1","query":""}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, contextSvc.calls)

	var resp models.ContextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.HasContext)
}

// owner_id keeps its binding: omitting it is still a 400.
func TestQueryEndpointsRequireOwner(t *testing.T) {
	router := queryRouter(&stubRetriever{}, &stubContextService{})

	w := postJSON(t, router, "/api/documents/search", `{"query":"q"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, router, "/api/documents/context", `{"query":"q"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
