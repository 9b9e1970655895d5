package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoMessageStore is a MessageStore backed by a Mongo collection, one
// document per message, matching the runlog/session packages' idiom of a
// thin collection wrapper plus BSON document structs.
type MongoMessageStore struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// NewMongoMessageStore constructs a MongoMessageStore.
func NewMongoMessageStore(coll *mongodriver.Collection, timeout time.Duration) *MongoMessageStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoMessageStore{coll: coll, timeout: timeout}
}

type messageDocument struct {
	ID              bson.ObjectID      `bson:"_id,omitempty"`
	SessionID       string             `bson:"session_id"`
	Role            string             `bson:"role"`
	Content         string             `bson:"content"`
	ToolCalls       any                `bson:"tool_calls,omitempty"`
	TokenUsage      any                `bson:"token_usage,omitempty"`
	Model           string             `bson:"model,omitempty"`
	ThinkingContent string             `bson:"thinking_content,omitempty"`
	Status          string             `bson:"status,omitempty"`
	Timestamp       time.Time          `bson:"timestamp"`
}

func (d messageDocument) toMessage() Message {
	return Message{
		ID:              d.ID.Hex(),
		SessionID:       d.SessionID,
		Role:            d.Role,
		Content:         d.Content,
		ToolCalls:       d.ToolCalls,
		TokenUsage:      d.TokenUsage,
		Model:           d.Model,
		ThinkingContent: d.ThinkingContent,
		Status:          d.Status,
		Timestamp:       d.Timestamp,
	}
}

// AddMessage implements MessageStore.
func (m *MongoMessageStore) AddMessage(ctx context.Context, sessionID string, msg Message) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	doc := messageDocument{
		SessionID:       sessionID,
		Role:            msg.Role,
		Content:         msg.Content,
		ToolCalls:       msg.ToolCalls,
		TokenUsage:      msg.TokenUsage,
		Model:           msg.Model,
		ThinkingContent: msg.ThinkingContent,
		Status:          msg.Status,
		Timestamp:       msg.Timestamp,
	}
	res, err := m.coll.InsertOne(ctx, doc)
	if err != nil {
		return Message{}, fmt.Errorf("store: add message: %w", err)
	}
	oid, _ := res.InsertedID.(bson.ObjectID)
	msg.ID = oid.Hex()
	msg.SessionID = sessionID
	return msg, nil
}

// UpdateMessage implements MessageStore.
func (m *MongoMessageStore) UpdateMessage(ctx context.Context, messageID string, fields MessageFields) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	oid, err := bson.ObjectIDFromHex(messageID)
	if err != nil {
		return fmt.Errorf("store: invalid message id %q: %w", messageID, err)
	}

	set := bson.M{}
	if fields.Content != nil {
		set["content"] = *fields.Content
	}
	if fields.ToolCalls != nil {
		set["tool_calls"] = fields.ToolCalls
	}
	if fields.TokenUsage != nil {
		set["token_usage"] = fields.TokenUsage
	}
	if fields.Model != nil {
		set["model"] = *fields.Model
	}
	if fields.ThinkingContent != nil {
		set["thinking_content"] = *fields.ThinkingContent
	}
	if fields.Status != nil {
		set["status"] = *fields.Status
	}
	if fields.Final != nil {
		set["final"] = *fields.Final
	}
	if len(set) == 0 {
		return nil
	}

	res, err := m.coll.UpdateByID(ctx, oid, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("store: update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessages implements MessageStore, returning messages ordered by
// (timestamp asc, role-priority) as the durable store contract requires.
func (m *MongoMessageStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cur, err := m.coll.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer cur.Close(ctx)

	var out []Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: decode message: %w", err)
		}
		out = append(out, doc.toMessage())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	sortMessagesStable(out)
	return out, nil
}

// sortMessagesStable re-sorts the same-timestamp runs the Mongo sort leaves
// ambiguous, applying the assistant-before-user tie-break explicitly.
func sortMessagesStable(msgs []Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && Less(msgs[j], msgs[j-1]); j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}
