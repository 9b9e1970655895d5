package store

import (
	"context"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/agentic-work/chatcore/executor"
)

// MongoAuditSink persists executor.AuditRecord entries to a write-only
// collection. It never returns an error that the caller must treat as
// fatal: executor.Executor already logs-and-drops audit failures, but the
// Write method still reports them so that contract is honored uniformly.
type MongoAuditSink struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// NewMongoAuditSink constructs a MongoAuditSink.
func NewMongoAuditSink(coll *mongodriver.Collection, timeout time.Duration) *MongoAuditSink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MongoAuditSink{coll: coll, timeout: timeout}
}

type auditDocument struct {
	ID            string    `bson:"id"`
	UserID        string    `bson:"user_id"`
	ToolName      string    `bson:"tool_name"`
	ServerID      string    `bson:"server_id"`
	RequestBytes  int       `bson:"request_bytes"`
	ResponseBytes int       `bson:"response_bytes"`
	LatencyMs     int64     `bson:"latency_ms"`
	Error         string    `bson:"error,omitempty"`
	Model         string    `bson:"model,omitempty"`
	Provider      string    `bson:"provider,omitempty"`
	Timestamp     time.Time `bson:"timestamp"`
}

// Write implements executor.Auditor.
func (s *MongoAuditSink) Write(ctx context.Context, rec executor.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := auditDocument{
		ID:            rec.ID,
		UserID:        rec.UserID,
		ToolName:      rec.ToolName,
		ServerID:      rec.ServerID,
		RequestBytes:  rec.RequestBytes,
		ResponseBytes: rec.ResponseBytes,
		LatencyMs:     rec.LatencyMs,
		Error:         rec.Error,
		Model:         rec.Model,
		Provider:      rec.Provider,
		Timestamp:     rec.Timestamp,
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return err
}
