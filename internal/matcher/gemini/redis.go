package gemini

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
)

// RedisVectors keeps each document in a hash at <prefix>:doc:<sourceId> and
// tracks membership in the set <prefix>:refs.
type RedisVectors struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

func NewRedisVectors(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisVectors {
	if prefix == "" {
		prefix = "jobmatch"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisVectors{client: client, prefix: prefix, logger: logger}
}

func (r *RedisVectors) docKey(sourceID string) string {
	return r.prefix + ":doc:" + sourceID
}

func (r *RedisVectors) refsKey() string {
	return r.prefix + ":refs"
}

func (r *RedisVectors) Put(ctx context.Context, doc Document) error {
	fields := map[string]any{
		"vector":          encodeVector(doc.Vector),
		"location":        doc.Location,
		"employment_type": string(doc.EmploymentType),
		"job_level":       string(doc.JobLevel),
		"remote":          strconv.FormatBool(doc.IsRemote),
		"internship":      strconv.FormatBool(doc.IsInternship),
		"content_hash":    doc.ContentHash,
		"indexed_at":      time.Now().UTC().Format(time.RFC3339),
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.docKey(doc.SourceID))
		pipe.HSet(ctx, r.docKey(doc.SourceID), fields)
		pipe.SAdd(ctx, r.refsKey(), doc.SourceID)
		return nil
	})
	return err
}

func (r *RedisVectors) Delete(ctx context.Context, sourceID string) (bool, error) {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, r.docKey(sourceID))
		pipe.SRem(ctx, r.refsKey(), sourceID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted.Val() > 0, nil
}

func (r *RedisVectors) All(ctx context.Context) ([]Document, error) {
	ids, err := r.client.SMembers(ctx, r.refsKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.docKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		doc, err := parseDocument(ids[i], fields)
		if err != nil {
			r.logger.Warn("skip undecodable document", zap.String("source_id", ids[i]), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func parseDocument(id string, fields map[string]string) (Document, error) {
	vec, err := decodeVector([]byte(fields["vector"]))
	if err != nil {
		return Document{}, fmt.Errorf("document %s: %w", id, err)
	}
	return Document{
		SourceID:       id,
		Vector:         vec,
		Location:       fields["location"],
		EmploymentType: jobs.EmploymentType(fields["employment_type"]),
		JobLevel:       jobs.JobLevel(fields["job_level"]),
		IsRemote:       fields["remote"] == "true",
		IsInternship:   fields["internship"] == "true",
		ContentHash:    fields["content_hash"],
	}, nil
}
