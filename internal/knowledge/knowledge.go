package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

// Store wraps chromem-go with per-business collections and disk persistence.
// Search degrades to an empty context on any failure: a poor answer beats no
// answer, so retrieval errors never fail the pipeline.
type Store struct {
	mu           sync.RWMutex
	db           *chromem.DB
	embedFn      chromem.EmbeddingFunc
	embedTimeout time.Duration
	queryTimeout time.Duration
	logger       zerolog.Logger
}

// New opens (or creates) the persistent vector store at dataDir/vectorstore.
// embedFn is typically chromem.NewEmbeddingFuncOpenAICompat pointed at an
// embeddings endpoint.
func New(dataDir string, embedFn chromem.EmbeddingFunc, embedTimeout, queryTimeout time.Duration, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Join(dataDir, "vectorstore")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create vectorstore dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vectorstore: %w", err)
	}
	return &Store{
		db:           db,
		embedFn:      embedFn,
		embedTimeout: embedTimeout,
		queryTimeout: queryTimeout,
		logger:       logger.With().Str("component", "knowledge").Logger(),
	}, nil
}

func collectionName(businessID string) string {
	return "business_" + businessID
}

func (s *Store) getOrCreateCollection(businessID string) (*chromem.Collection, error) {
	name := collectionName(businessID)
	if col := s.db.GetCollection(name, s.embedFn); col != nil {
		return col, nil
	}
	return s.db.CreateCollection(name, nil, s.embedFn)
}

// Search returns the top-k snippets for the query joined into one context
// block, or "" when the index is empty or retrieval fails. The embedding step
// and the similarity query carry independent timeouts.
func (s *Store) Search(ctx context.Context, businessID, query string, topK int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, err := s.getOrCreateCollection(businessID)
	if err != nil {
		s.logger.Warn().Err(err).Str("business_id", businessID).Msg("collection unavailable, continuing without knowledge")
		return ""
	}
	count := col.Count()
	if count == 0 {
		return ""
	}
	if topK > count {
		topK = count
	}

	embedCtx, cancelEmbed := context.WithTimeout(ctx, s.embedTimeout)
	defer cancelEmbed()
	embedding, err := s.embedFn(embedCtx, query)
	if err != nil {
		s.logger.Warn().Err(err).Msg("query embedding failed, continuing without knowledge")
		return ""
	}

	queryCtx, cancelQuery := context.WithTimeout(ctx, s.queryTimeout)
	defer cancelQuery()
	results, err := col.QueryEmbedding(queryCtx, embedding, topK, nil, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("similarity search failed, continuing without knowledge")
		return ""
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Content != "" {
			parts = append(parts, r.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// IndexDocument chunks the document and upserts one vector per chunk into the
// business collection. Returns the vector ids so the caller can store them for
// later deletion.
func (s *Store) IndexDocument(ctx context.Context, businessID, docID, content string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.getOrCreateCollection(businessID)
	if err != nil {
		return nil, err
	}

	chunks := chunkText(content, chunkSize, chunkOverlap)
	ids := make([]string, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, chunk := range chunks {
		id := fmt.Sprintf("%s_%d", docID, i)
		ids[i] = id
		doc := chromem.Document{
			ID:      id,
			Content: chunk,
			Metadata: map[string]string{
				"docId":      docID,
				"businessId": businessID,
			},
		}
		g.Go(func() error {
			return col.AddDocument(gctx, doc)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("index document %s: %w", docID, err)
	}
	return ids, nil
}

// DeleteDocument removes all vectors belonging to a document.
func (s *Store) DeleteDocument(ctx context.Context, businessID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(collectionName(businessID), s.embedFn)
	if col == nil {
		return nil
	}
	return col.Delete(ctx, map[string]string{"docId": docID}, nil)
}

func chunkText(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start += size - overlap
	}
	return chunks
}
