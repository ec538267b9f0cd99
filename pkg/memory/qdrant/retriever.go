// Package qdrant backs memory retrieval with a Qdrant collection of
// embedded user facts.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/harunnryd/elara/pkg/logging"
	"github.com/harunnryd/elara/pkg/memory"
)

const minScore = 0.5

// Embedder turns the query text into the vector searched against the
// collection.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	URL            string
	APIKey         string
	CollectionName string
}

type Retriever struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	logger     *slog.Logger
}

func New(cfg Config, embedder Embedder) (*Retriever, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = "user_memories"
	}
	return &Retriever{
		client:     client,
		embedder:   embedder,
		collection: collection,
		logger:     logging.NewComponentLogger(slog.Default(), "memory"),
	}, nil
}

func (r *Retriever) Retrieve(ctx context.Context, userID, query string, limit int) ([]memory.Fact, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if limit <= 0 {
		limit = 5
	}
	limitUint64 := uint64(limit)
	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "user_id",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: userID}},
				},
			},
		}}},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	facts := make([]memory.Fact, 0, len(points))
	for _, point := range points {
		if point.Score < minScore {
			continue
		}
		var fact memory.Fact
		if point.Payload != nil {
			if v, ok := point.Payload["content"]; ok {
				fact.Content = v.GetStringValue()
			}
			if v, ok := point.Payload["category"]; ok {
				fact.Category = v.GetStringValue()
			}
		}
		if fact.Content == "" {
			continue
		}
		facts = append(facts, fact)
	}
	r.logger.Debug("memories_retrieved", "user_id", userID, "count", len(facts))
	return facts, nil
}

// Save upserts extracted facts, embedding each content string.
func (r *Retriever) Save(ctx context.Context, userID string, facts []memory.Fact) error {
	points := make([]*qdrant.PointStruct, 0, len(facts))
	for _, fact := range facts {
		vector, err := r.embedder.Embed(ctx, fact.Content)
		if err != nil {
			return fmt.Errorf("embed fact: %w", err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"user_id":  userID,
				"category": fact.Category,
				"content":  fact.Content,
			}),
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	r.logger.Debug("facts_saved", "user_id", userID, "count", len(points))
	return nil
}

func (r *Retriever) Close() error {
	return r.client.Close()
}

var (
	_ memory.Retriever = (*Retriever)(nil)
	_ memory.Store     = (*Retriever)(nil)
)
