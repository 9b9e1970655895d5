package cache

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentic-work/chatcore/embed"
)

const (
	defaultSemanticCollection = "tool_semantic_cache"
	defaultOpTimeout          = 5 * time.Second
	defaultScanLimit          = 500
)

// SemanticEntry is one semantic-cache record, shared across users within a
// tenant. ResourceScope carries whatever tenant-sensitive identifier (cloud
// subscription id, account id, …) the cached call's arguments exposed, so a
// lookup can be RBAC-checked before reuse.
type SemanticEntry struct {
	ID              string
	TenantID        string
	OriginalUserID  string
	ToolName        string
	ArgumentsSketch string
	ResourceScope   string
	QueryEmbedding  []float32
	Result          []byte
	HitCount        int
	CachedAt        time.Time
}

// SemanticCache is the layer-2, cross-user, embedding-keyed tool-result
// cache. Lookup returns the closest match above a similarity threshold
// without applying any access check; callers are responsible for running
// the mandatory RBAC check against the match's ResourceScope (Q6) before
// treating the lookup as a hit.
type SemanticCache interface {
	// Lookup returns the highest-similarity entry for (tenantID, toolName,
	// queryEmbedding) with similarity >= threshold, or ok=false when no
	// entry qualifies.
	Lookup(ctx context.Context, tenantID, toolName string, queryEmbedding []float32, threshold float64) (entry SemanticEntry, similarity float64, ok bool, err error)

	// Store records a fresh result after a successful live execution of a
	// cacheable tool. Writes happen asynchronously from the caller's
	// perspective; Store itself is synchronous but callers typically invoke
	// it from a background goroutine.
	Store(ctx context.Context, entry SemanticEntry) error

	// RecordHit increments the hit counter for id, best-effort.
	RecordHit(ctx context.Context, id string) error
}

// MongoSemanticCache is a SemanticCache backed by a MongoDB collection.
// Nearest-neighbor search is computed in-process via cosine similarity over
// a tenant+tool-filtered scan: the core needs only the search/store
// interface, not a vector-index implementation, so this avoids requiring
// Atlas Search or a dedicated vector database.
type MongoSemanticCache struct {
	coll    *mongodriver.Collection
	timeout time.Duration
	scanCap int64
}

// NewMongoSemanticCache constructs a MongoSemanticCache over an existing
// *mongo.Collection. timeout <= 0 uses a 5s default; scanCap <= 0 uses 500.
func NewMongoSemanticCache(coll *mongodriver.Collection, timeout time.Duration, scanCap int64) *MongoSemanticCache {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	if scanCap <= 0 {
		scanCap = defaultScanLimit
	}
	return &MongoSemanticCache{coll: coll, timeout: timeout, scanCap: scanCap}
}

type semanticDocument struct {
	ID              bson.ObjectID      `bson:"_id,omitempty"`
	TenantID        string             `bson:"tenant_id"`
	OriginalUserID  string             `bson:"original_user_id"`
	ToolName        string             `bson:"tool_name"`
	ArgumentsSketch string             `bson:"arguments_sketch"`
	ResourceScope   string             `bson:"resource_scope"`
	QueryEmbedding  []float32          `bson:"query_embedding"`
	Result          []byte             `bson:"result"`
	HitCount        int                `bson:"hit_count"`
	CachedAt        time.Time          `bson:"cached_at"`
}

func (d semanticDocument) toEntry() SemanticEntry {
	return SemanticEntry{
		ID:              d.ID.Hex(),
		TenantID:        d.TenantID,
		OriginalUserID:  d.OriginalUserID,
		ToolName:        d.ToolName,
		ArgumentsSketch: d.ArgumentsSketch,
		ResourceScope:   d.ResourceScope,
		QueryEmbedding:  d.QueryEmbedding,
		Result:          d.Result,
		HitCount:        d.HitCount,
		CachedAt:        d.CachedAt,
	}
}

// Lookup implements SemanticCache.
func (c *MongoSemanticCache) Lookup(ctx context.Context, tenantID, toolName string, queryEmbedding []float32, threshold float64) (SemanticEntry, float64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	filter := bson.M{"tenant_id": tenantID, "tool_name": toolName}
	cur, err := c.coll.Find(ctx, filter, options.Find().SetLimit(c.scanCap))
	if err != nil {
		return SemanticEntry{}, 0, false, err
	}
	defer cur.Close(ctx)

	var best semanticDocument
	var bestScore float64
	found := false
	for cur.Next(ctx) {
		var doc semanticDocument
		if err := cur.Decode(&doc); err != nil {
			return SemanticEntry{}, 0, false, err
		}
		score := embed.CosineSimilarity(queryEmbedding, doc.QueryEmbedding)
		if score >= threshold && (!found || score > bestScore) {
			best, bestScore, found = doc, score, true
		}
	}
	if err := cur.Err(); err != nil {
		return SemanticEntry{}, 0, false, err
	}
	if !found {
		return SemanticEntry{}, 0, false, nil
	}
	return best.toEntry(), bestScore, true, nil
}

// Store implements SemanticCache.
func (c *MongoSemanticCache) Store(ctx context.Context, entry SemanticEntry) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	doc := semanticDocument{
		TenantID:        entry.TenantID,
		OriginalUserID:  entry.OriginalUserID,
		ToolName:        entry.ToolName,
		ArgumentsSketch: entry.ArgumentsSketch,
		ResourceScope:   entry.ResourceScope,
		QueryEmbedding:  entry.QueryEmbedding,
		Result:          entry.Result,
		HitCount:        0,
		CachedAt:        entry.CachedAt,
	}
	if doc.CachedAt.IsZero() {
		doc.CachedAt = time.Now().UTC()
	}
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

// RecordHit implements SemanticCache.
func (c *MongoSemanticCache) RecordHit(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return errors.New("cache: invalid semantic entry id")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err = c.coll.UpdateByID(ctx, oid, bson.M{"$inc": bson.M{"hit_count": 1}})
	return err
}

// EnsureIndexes creates the indexes MongoSemanticCache relies on for scan
// filtering. Callers invoke this once at startup.
func EnsureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "tool_name", Value: 1}},
	})
	return err
}
