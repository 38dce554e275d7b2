package vector

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	recallerrors "github.com/pepperjavis/recall/internal/errors"
	"github.com/pepperjavis/recall/internal/store"
	"github.com/pepperjavis/recall/internal/telemetry"
)

// Recall scopes: whether similarity search runs over a single session
// or across all of a user's sessions. A product-level choice, so it is
// configuration rather than a hardwired default.
const (
	ScopeSession = "session"
	ScopeUser    = "user"
)

// Result is one similarity hit, ranked by descending cosine similarity.
type Result struct {
	Content   string
	Score     float32
	SessionID string
}

// Index persists embeddings and answers approximate nearest-neighbor
// queries. The relational store holds the rows of record; chromem
// keeps the in-process similarity index, rebuilt from those rows at
// startup. Embedding computation is the caller's concern.
type Index struct {
	mu          sync.RWMutex
	db          *chromem.DB
	collections map[string]*chromem.Collection
	store       *store.Store
	logger      *telemetry.Logger
	dimension   int
	scope       string
	closed      bool
}

// New creates an index with the fixed system-wide dimensionality.
func New(s *store.Store, logger *telemetry.Logger, dimension int, scope string) (*Index, error) {
	if dimension < 1 {
		return nil, recallerrors.New(recallerrors.CodeConfigInvalid, "embedding dimension must be positive")
	}
	if scope != ScopeSession && scope != ScopeUser {
		return nil, recallerrors.New(recallerrors.CodeConfigInvalid, "unknown recall scope: "+scope)
	}
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		store:       s,
		logger:      logger,
		dimension:   dimension,
		scope:       scope,
	}, nil
}

// scopeKey selects the collection an embedding belongs to.
func (x *Index) scopeKey(sessionID, userID string) string {
	if x.scope == ScopeUser && userID != "" {
		return "user_" + userID
	}
	return "session_" + sessionID
}

func (x *Index) getOrCreateCollection(key string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, exists := x.collections[key]
	x.mu.RUnlock()
	if exists {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if col, exists := x.collections[key]; exists {
		return col, nil
	}

	// No embedding func: we always supply vectors ourselves. The
	// default distance is cosine.
	col, err := x.db.CreateCollection(key, nil, nil)
	if err != nil {
		return nil, recallerrors.Wrap(recallerrors.CodeIndexUnavailable, "create collection", err)
	}
	x.collections[key] = col
	return col, nil
}

func (x *Index) unavailable() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.closed
}

// Available reports whether the index accepts operations.
func (x *Index) Available() bool {
	return !x.unavailable()
}

// Index stores content with its vector, keyed to the session. The
// vector must match the configured dimensionality. The relational row
// is written first; the similarity index is derived state.
func (x *Index) Index(ctx context.Context, id, sessionID, userID, content string, vec []float32, metadata map[string]interface{}) (string, error) {
	if len(vec) != x.dimension {
		return "", recallerrors.New(recallerrors.CodeDimensionMismatch,
			fmt.Sprintf("vector has %d dimensions, index requires %d", len(vec), x.dimension))
	}
	if x.unavailable() {
		return "", recallerrors.New(recallerrors.CodeIndexUnavailable, "index is closed")
	}

	emb := &store.Embedding{
		ID:        id,
		SessionID: sessionID,
		UserID:    userID,
		Content:   content,
		Vector:    vec,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := x.store.SaveEmbedding(ctx, emb); err != nil {
		return "", err
	}

	if err := x.add(ctx, emb); err != nil {
		// The row of record is durable; the index can be rebuilt.
		x.logger.Warn("embedding persisted but not indexed", "embedding_id", id, "error", err)
		return id, nil
	}
	return id, nil
}

func (x *Index) add(ctx context.Context, emb *store.Embedding) error {
	col, err := x.getOrCreateCollection(x.scopeKey(emb.SessionID, emb.UserID))
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        emb.ID,
		Content:   emb.Content,
		Embedding: emb.Vector,
		Metadata:  map[string]string{"session_id": emb.SessionID},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return recallerrors.Wrap(recallerrors.CodeIndexUnavailable, "add document", err)
	}
	return nil
}

// Search returns up to topK hits ranked by descending cosine
// similarity. Approximate: increasing topK never removes previously
// returned higher-ranked results.
func (x *Index) Search(ctx context.Context, sessionID, userID string, query []float32, topK int) ([]Result, error) {
	if len(query) != x.dimension {
		return nil, recallerrors.New(recallerrors.CodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, index requires %d", len(query), x.dimension))
	}
	if x.unavailable() {
		return nil, recallerrors.New(recallerrors.CodeIndexUnavailable, "index is closed")
	}
	if topK < 1 {
		topK = 10
	}

	key := x.scopeKey(sessionID, userID)
	x.mu.RLock()
	col, exists := x.collections[key]
	x.mu.RUnlock()
	if !exists {
		return nil, nil
	}

	// chromem rejects nResults beyond the collection size.
	if n := col.Count(); topK > n {
		if n == 0 {
			return nil, nil
		}
		topK = n
	}

	hits, err := col.QueryEmbedding(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, recallerrors.Wrap(recallerrors.CodeIndexUnavailable, "query index", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			Content:   h.Content,
			Score:     h.Similarity,
			SessionID: h.Metadata["session_id"],
		})
	}
	return results, nil
}

// Rebuild repopulates the similarity index from the relational rows of
// record, typically at startup.
func (x *Index) Rebuild(ctx context.Context) error {
	embeddings, err := x.store.ListEmbeddings(ctx)
	if err != nil {
		return err
	}

	for _, emb := range embeddings {
		if len(emb.Vector) != x.dimension {
			x.logger.Warn("skipping embedding with stale dimensionality",
				"embedding_id", emb.ID, "dimensions", len(emb.Vector))
			continue
		}
		if err := x.add(ctx, emb); err != nil {
			return err
		}
	}
	x.logger.Info("similarity index rebuilt", "embeddings", len(embeddings))
	return nil
}

// Close marks the index unavailable. Subsequent operations fail with
// a typed error so callers can degrade to recency-ordered retrieval.
func (x *Index) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
}
