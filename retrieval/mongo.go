package retrieval

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentic-work/chatcore/embed"
)

// MongoDocs is a DocBackend over a Mongo collection of embedded document
// chunks. Nearest-neighbor search is computed in-process via cosine
// similarity, matching the approach used by the semantic tool cache: the
// core needs a search interface, not a vector-index implementation.
type MongoDocs struct {
	coll     *mongodriver.Collection
	embedder embed.Embedder
	timeout  time.Duration
	scanCap  int64
}

// NewMongoDocs constructs a MongoDocs backend.
func NewMongoDocs(coll *mongodriver.Collection, embedder embed.Embedder, timeout time.Duration, scanCap int64) *MongoDocs {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if scanCap <= 0 {
		scanCap = 1000
	}
	return &MongoDocs{coll: coll, embedder: embedder, timeout: timeout, scanCap: scanCap}
}

type docChunk struct {
	Content    string         `bson:"content"`
	Metadata   map[string]any `bson:"metadata"`
	Collection string         `bson:"collection"`
	Embedding  []float32      `bson:"embedding"`
}

// SearchDocs implements DocBackend.
func (m *MongoDocs) SearchDocs(ctx context.Context, query string, limit int, collections []string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	queryEmbedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := bson.M{}
	if len(collections) > 0 {
		filter["collection"] = bson.M{"$in": collections}
	}
	cur, err := m.coll.Find(ctx, filter, options.Find().SetLimit(m.scanCap))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var items []Item
	for cur.Next(ctx) {
		var chunk docChunk
		if err := cur.Decode(&chunk); err != nil {
			return nil, err
		}
		score := embed.CosineSimilarity(queryEmbedding, chunk.Embedding)
		items = append(items, Item{Content: chunk.Content, Metadata: chunk.Metadata, Score: score})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return rank(items, limit, 0), nil
}

// MongoChatHistory is a ChatHistoryBackend over a Mongo collection of prior
// turns, filtered by userID unless the caller is an admin.
type MongoChatHistory struct {
	coll     *mongodriver.Collection
	embedder embed.Embedder
	timeout  time.Duration
	scanCap  int64
}

// NewMongoChatHistory constructs a MongoChatHistory backend.
func NewMongoChatHistory(coll *mongodriver.Collection, embedder embed.Embedder, timeout time.Duration, scanCap int64) *MongoChatHistory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if scanCap <= 0 {
		scanCap = 1000
	}
	return &MongoChatHistory{coll: coll, embedder: embedder, timeout: timeout, scanCap: scanCap}
}

type chatTurn struct {
	UserID    string         `bson:"user_id"`
	Content   string         `bson:"content"`
	Metadata  map[string]any `bson:"metadata"`
	Embedding []float32      `bson:"embedding"`
}

// SearchChats implements ChatHistoryBackend.
func (m *MongoChatHistory) SearchChats(ctx context.Context, query, userID string, isAdmin bool, limit int) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	queryEmbedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := bson.M{}
	if !isAdmin {
		filter["user_id"] = userID
	}
	cur, err := m.coll.Find(ctx, filter, options.Find().SetLimit(m.scanCap))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var items []Item
	for cur.Next(ctx) {
		var turn chatTurn
		if err := cur.Decode(&turn); err != nil {
			return nil, err
		}
		score := embed.CosineSimilarity(queryEmbedding, turn.Embedding)
		items = append(items, Item{Content: turn.Content, Metadata: turn.Metadata, Score: score})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return rank(items, limit, 0), nil
}
