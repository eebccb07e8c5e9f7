package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/poiesic/docsim/ai"
	"github.com/poiesic/docsim/core"
	"github.com/poiesic/docsim/similarity"
	sdk "github.com/sashabaranov/go-openai"
)

// Embedder implements ai.Embedder against an OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client     *sdk.Client
	httpClient *http.Client
	model      sdk.EmbeddingModel
	maxBatch   int
	normalize  bool
	logger     *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: ai config is nil", core.ErrConfiguration)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: config.RequestTimeout}
	clientConfig := sdk.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.EmbeddingHost
	clientConfig.HTTPClient = httpClient

	return &Embedder{
		client:     sdk.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
		model:      sdk.EmbeddingModel(config.EmbeddingModel),
		maxBatch:   config.MaxBatchSize,
		normalize:  config.NormalizeVectors,
		logger:     slog.Default().With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedBatch embeds texts, splitting them into requests of at most
// MaxBatchSize inputs. Results are returned in input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) (*ai.BatchResult, error) {
	result := &ai.BatchResult{
		Vectors:     make([][]float32, 0, len(texts)),
		TotalLength: ai.TextLength(texts...),
	}
	if len(texts) == 0 {
		return result, nil
	}

	e.logger.Debug("generating embeddings", "count", len(texts))
	start := time.Now()

	for i := 0; i < len(texts); i += e.maxBatch {
		end := min(i+e.maxBatch, len(texts))

		vectors, tokens, err := e.embedRequest(ctx, texts[i:end])
		if err != nil {
			e.logger.Error("failed to generate embeddings", "count", end-i, "err", err)
			return nil, err
		}
		result.Vectors = append(result.Vectors, vectors...)
		result.TotalTokens += tokens
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// embedRequest performs a single API call and reorders the response by index.
func (e *Embedder) embedRequest(ctx context.Context, texts []string) ([][]float32, int, error) {
	resp, err := e.client.CreateEmbeddings(ctx, sdk.EmbeddingRequestStrings{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: %w", core.ErrEmbeddingAPI, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("%w: got %d embeddings for %d inputs", core.ErrEmbeddingAPI, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, 0, fmt.Errorf("%w: embedding index %d out of range", core.ErrEmbeddingAPI, data.Index)
		}
		if vectors[data.Index] != nil {
			return nil, 0, fmt.Errorf("%w: duplicate embedding index %d", core.ErrEmbeddingAPI, data.Index)
		}
		if len(data.Embedding) == 0 {
			return nil, 0, fmt.Errorf("%w: empty embedding at index %d", core.ErrEmbeddingAPI, data.Index)
		}
		vec := data.Embedding
		if e.normalize {
			vec = similarity.Normalize(vec)
		}
		vectors[data.Index] = vec
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens
	}
	return vectors, tokens, nil
}
