package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/tessellated-ai/temporal-memory-service/internal/config"
	"github.com/tessellated-ai/temporal-memory-service/internal/model"
	registrymigrate "github.com/tessellated-ai/temporal-memory-service/internal/registry/migrate"
	registrystore "github.com/tessellated-ai/temporal-memory-service/internal/registry/store"
	registryvector "github.com/tessellated-ai/temporal-memory-service/internal/registry/vector"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// qdrantMigrator implements migrate.Migrator for Qdrant collection setup.
type qdrantMigrator struct{}

func (m *qdrantMigrator) Name() string { return "qdrant" }
func (m *qdrantMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorType != "qdrant" || !cfg.VectorMigrateAtStart {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	migrateCtx, cancel := context.WithTimeout(ctx, cfg.QdrantStartupTimeout)
	defer cancel()

	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("qdrant migrate: connect: %w", err)
	}
	defer conn.Close()

	client := pb.NewCollectionsClient(conn)
	collectionName := effectiveCollectionName(cfg)

	// Check if collection exists
	_, err = client.Get(migrateCtx, &pb.GetCollectionInfoRequest{CollectionName: collectionName})
	if err == nil {
		return nil // collection exists
	}

	// Create collection with cosine distance. Every embedding is padded to
	// the configured maximum dimension before it reaches the vector store.
	_, err = client.Create(migrateCtx, &pb.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(cfg.MaxEmbeddingDim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 newUint64(16),
			EfConstruct:       newUint64(64),
			FullScanThreshold: newUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant migrate: create collection: %w", err)
	}
	log.Info("Created Qdrant collection", "name", collectionName)
	return nil
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &qdrantMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: missing config in context")
	}
	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &QdrantStore{
		points:         pb.NewPointsClient(conn),
		conn:           conn,
		collectionName: effectiveCollectionName(cfg),
	}, nil
}

type QdrantStore struct {
	points         pb.PointsClient
	conn           *grpc.ClientConn
	collectionName string
}

func (s *QdrantStore) IsEnabled() bool { return true }
func (s *QdrantStore) Name() string    { return "qdrant" }

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func keywordsCondition(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{
						Keywords: &pb.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

func (s *QdrantStore) Search(ctx context.Context, embedding []float32, scope registrystore.Scope, kinds []model.Kind, limit int) ([]registryvector.SearchResult, error) {
	must := []*pb.Condition{keywordCondition("organization_id", scope.OrganizationID)}
	if len(kinds) > 0 {
		kindStrings := make([]string, len(kinds))
		for i, k := range kinds {
			kindStrings[i] = string(k)
		}
		must = append(must, keywordsCondition("kind", kindStrings))
	}
	filter := &pb.Filter{Must: must}
	if scope.UserID != nil {
		// Org-wide points carry no user_id payload; user-scoped calls see
		// those plus their own.
		filter.Should = []*pb.Condition{
			keywordCondition("user_id", *scope.UserID),
			{
				ConditionOneOf: &pb.Condition_IsEmpty{
					IsEmpty: &pb.IsEmptyCondition{Key: "user_id"},
				},
			},
		}
		filter.MinShould = &pb.MinShould{MinCount: 1}
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collectionName,
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter:         filter,
	})
	if err != nil {
		return nil, err
	}

	var results []registryvector.SearchResult
	for _, pt := range resp.GetResult() {
		r := registryvector.SearchResult{
			Score: float64(pt.GetScore()),
		}
		payload := pt.GetPayload()
		if v, ok := payload["item_id"]; ok {
			r.ItemID = v.GetStringValue()
		}
		if v, ok := payload["kind"]; ok {
			r.Kind = model.Kind(v.GetStringValue())
		}
		if v, ok := payload["field"]; ok {
			r.Field = v.GetStringValue()
		}
		if r.ItemID == "" {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *QdrantStore) Upsert(ctx context.Context, requests []registryvector.UpsertRequest) error {
	points := make([]*pb.PointStruct, len(requests))
	for i, r := range requests {
		payload := map[string]*pb.Value{
			"item_id":         {Kind: &pb.Value_StringValue{StringValue: r.ItemID}},
			"field":           {Kind: &pb.Value_StringValue{StringValue: r.Field}},
			"kind":            {Kind: &pb.Value_StringValue{StringValue: string(r.Kind)}},
			"organization_id": {Kind: &pb.Value_StringValue{StringValue: r.OrganizationID}},
			"model":           {Kind: &pb.Value_StringValue{StringValue: r.ModelName}},
		}
		if r.UserID != nil {
			payload["user_id"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: *r.UserID}}
		}
		points[i] = &pb.PointStruct{
			// One point per (item, field); a deterministic uuid keeps
			// upserts idempotent.
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(r.ItemID, r.Field)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
	})
	return err
}

func (s *QdrantStore) DeleteItems(ctx context.Context, kind model.Kind, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						keywordCondition("kind", string(kind)),
						keywordsCondition("item_id", itemIDs),
					},
				},
			},
		},
	})
	return err
}

func pointID(itemID, field string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(itemID+"/"+field)).String()
}

func newUint64(v uint64) *uint64 {
	return &v
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}

func effectiveCollectionName(cfg *config.Config) string {
	prefix := "temporal-memory"
	dim := 1536
	if cfg != nil {
		if p := strings.TrimSpace(cfg.QdrantCollectionPrefix); p != "" {
			prefix = p
		}
		if cfg.MaxEmbeddingDim > 0 {
			dim = cfg.MaxEmbeddingDim
		}
	}
	return fmt.Sprintf("%s_items-%d", prefix, dim)
}
