package impl

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/aigroupchat/backend/config"
	"github.com/aigroupchat/backend/models"
	"github.com/aigroupchat/backend/services"
)

// contextualizerImpl implements Anthropic's contextual-retrieval method:
// each chunk is situated within its whole document by a short generated
// context. The full document rides in a cached system block so repeated
// calls for the same document hit the prompt cache.
type contextualizerImpl struct {
	client         anthropic.Client
	enabled        bool
	model          anthropic.Model
	maxDocTokens   int
	batchThreshold int
	batchTimeout   time.Duration
	concurrency    int64
	requestTimeout time.Duration
}

func NewContextualizer(cfg *config.Config) services.Contextualizer {
	return &contextualizerImpl{
		client:         anthropic.NewClient(option.WithAPIKey(cfg.Anthropic.APIKey)),
		enabled:        cfg.Contextual.Enabled && cfg.Anthropic.APIKey != "",
		model:          anthropic.Model(cfg.Anthropic.Model),
		maxDocTokens:   cfg.Contextual.MaxTokensPerDocument,
		batchThreshold: cfg.Contextual.BatchThreshold,
		batchTimeout:   time.Duration(cfg.Contextual.BatchTimeout) * time.Second,
		concurrency:    int64(cfg.Contextual.Concurrency),
		requestTimeout: time.Duration(cfg.Contextual.RequestTimeout) * time.Second,
	}
}

func (c *contextualizerImpl) Enabled() bool {
	return c.enabled
}

func (c *contextualizerImpl) ContextualizeDocument(ctx context.Context, doc *models.Document, fullText string, sections []models.DocumentSection) (*services.ContextualResult, error) {
	if !c.enabled || len(sections) == 0 {
		return &services.ContextualResult{Contexts: make([]string, len(sections))}, nil
	}

	if doc.TokenCount > c.maxDocTokens {
		log.Printf("contextual: document %s too large (%d tokens > %d), skipping",
			doc.ID, doc.TokenCount, c.maxDocTokens)
		return &services.ContextualResult{
			Contexts: make([]string, len(sections)),
			Mode:     "skipped",
			Skipped:  len(sections),
		}, nil
	}

	if len(sections) >= c.batchThreshold {
		log.Printf("contextual: document %s using batch mode (%d chunks >= %d threshold)",
			doc.ID, len(sections), c.batchThreshold)
		return c.processBatch(ctx, fullText, sections)
	}

	log.Printf("contextual: document %s using streaming mode (%d chunks)", doc.ID, len(sections))
	return c.processStreaming(ctx, fullText, sections)
}

// buildParams assembles the prompt. The whole document goes into a
// system block marked ephemeral so the prompt cache amortizes it across
// all chunks of the same document.
func (c *contextualizerImpl) buildParams(chunk, document string) anthropic.MessageNewParams {
	userMessage := fmt.Sprintf(`Here is the chunk we want to situate within the whole document:

<chunk>
%s
</chunk>

Please give a short succinct context to situate this chunk within the overall document for the purposes of improving search retrieval of the chunk. Answer only with the succinct context and nothing else.`, chunk)

	return anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   1024,
		Temperature: anthropic.Float(0.0),
		System: []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: "You are an AI assistant that helps create contextual information for document chunks to improve search retrieval.",
			},
			{
				Type:         "text",
				Text:         fmt.Sprintf("<document>\n%s\n</document>", document),
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	}
}

func (c *contextualizerImpl) processStreaming(ctx context.Context, fullText string, sections []models.DocumentSection) (*services.ContextualResult, error) {
	result := &services.ContextualResult{
		Contexts: make([]string, len(sections)),
		Mode:     "streaming",
	}

	sem := semaphore.NewWeighted(c.concurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := range sections {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %v", services.ErrBackendTimeout, err)
		}

		wg.Add(1)
		go func(idx int, content string) {
			defer wg.Done()
			defer sem.Release(1)

			reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()

			msg, err := c.client.Messages.New(reqCtx, c.buildParams(content, fullText))

			mu.Lock()
			defer mu.Unlock()

			// Per-chunk failures degrade to an uncontextualized chunk
			// instead of failing the document.
			if err != nil {
				log.Printf("contextual: chunk %d failed: %v", idx, err)
				result.Skipped++
				return
			}

			result.Usage.Add(usageFromMessage(msg))

			text := messageText(msg)
			if text == "" {
				result.Skipped++
				return
			}
			result.Contexts[idx] = text
		}(i, sections[i].Content)
	}

	wg.Wait()
	return result, nil
}

func (c *contextualizerImpl) processBatch(ctx context.Context, fullText string, sections []models.DocumentSection) (*services.ContextualResult, error) {
	requests := make([]anthropic.MessageBatchNewParamsRequest, len(sections))
	for i := range sections {
		params := c.buildParams(sections[i].Content, fullText)
		requests[i] = anthropic.MessageBatchNewParamsRequest{
			CustomID: fmt.Sprintf("chunk_%d", i),
			Params: anthropic.MessageBatchNewParamsRequestParams{
				Model:       params.Model,
				MaxTokens:   params.MaxTokens,
				Temperature: params.Temperature,
				System:      params.System,
				Messages:    params.Messages,
			},
		}
	}

	batch, err := c.client.Messages.Batches.New(ctx, anthropic.MessageBatchNewParams{
		Requests: requests,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit contextual batch: %w", err)
	}

	log.Printf("contextual: batch %s submitted with %d requests", batch.ID, len(requests))

	if err := c.waitForBatch(ctx, batch.ID); err != nil {
		return nil, err
	}

	result := &services.ContextualResult{
		Contexts: make([]string, len(sections)),
		Mode:     "batch",
	}

	stream := c.client.Messages.Batches.ResultsStreaming(ctx, batch.ID)
	for stream.Next() {
		item := stream.Current()
		if item.Result.Type != "succeeded" {
			log.Printf("contextual: batch item %s: %s", item.CustomID, item.Result.Type)
			continue
		}

		var idx int
		if _, err := fmt.Sscanf(item.CustomID, "chunk_%d", &idx); err != nil || idx < 0 || idx >= len(sections) {
			continue
		}

		msg := item.Result.Message
		result.Usage.Add(usageFromMessage(&msg))
		result.Contexts[idx] = messageText(&msg)
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch results: %w", err)
	}

	for _, text := range result.Contexts {
		if text == "" {
			result.Skipped++
		}
	}

	return result, nil
}

func (c *contextualizerImpl) waitForBatch(ctx context.Context, batchID string) error {
	deadline := time.Now().Add(c.batchTimeout)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		batch, err := c.client.Messages.Batches.Get(ctx, batchID)
		if err != nil {
			return fmt.Errorf("failed to poll batch %s: %w", batchID, err)
		}

		if batch.ProcessingStatus == "ended" {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: batch %s still %s after %v",
				services.ErrBackendTimeout, batchID, batch.ProcessingStatus, c.batchTimeout)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", services.ErrBackendTimeout, ctx.Err())
		}
	}
}

func usageFromMessage(msg *anthropic.Message) models.TokenUsage {
	return models.TokenUsage{
		InputTokens:         msg.Usage.InputTokens,
		OutputTokens:        msg.Usage.OutputTokens,
		CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
		CacheReadTokens:     msg.Usage.CacheReadInputTokens,
	}
}

func messageText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		b.WriteString(block.Text)
	}
	return strings.TrimSpace(b.String())
}
