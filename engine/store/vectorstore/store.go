// Package vectorstore is the Qdrant-backed half of the Store Writer (C4): per
// paper dense embeddings keyed by PaperId, with category/year projections for
// filtered search.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorStore is the sole owner of all Qdrant operations. Collections are
// named per embedding model: §6 requires the model id be a collection-level
// attribute and that a model change version the collection rather than
// silently reinterpret existing vectors, so the model id is folded into the
// collection name instead of stored as point metadata.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	baseName    string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// baseName is the logical collection family; CollectionName derives the
// concrete, model-versioned collection from it.
func New(addr string, baseName string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		baseName:    baseName,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// CollectionName derives the concrete collection name for an embedding model.
func (v *VectorStore) CollectionName(modelID string) string {
	return v.baseName + "__" + sanitizeCollectionSuffix(modelID)
}

// EnsureCollection creates the model-versioned collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, modelID string, dims int) error {
	name := v.CollectionName(modelID)
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectorstore: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", name, err)
	}
	return nil
}

// pointID derives a deterministic Qdrant point UUID from a PaperId. Qdrant
// point ids must be a UUID or an unsigned integer; arXiv-style ids are
// neither, so the paper id is hashed into the URL namespace and the original
// string travels in the payload as "paper_id" for reverse lookup.
func pointID(paperID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(paperID)).String()
}

// Upsert stores paper embeddings into the model's collection.
func (v *VectorStore) Upsert(ctx context.Context, modelID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := map[string]*pb.Value{
			"paper_id": {Kind: &pb.Value_StringValue{StringValue: r.PaperID}},
			"category": {Kind: &pb.Value_StringValue{StringValue: r.Category}},
			"year":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.Year)}},
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(r.PaperID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.CollectionName(modelID),
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Delete removes a paper's embedding from the model's collection.
func (v *VectorStore) Delete(ctx context.Context, modelID string, paperID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.CollectionName(modelID),
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(paperID)}}}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete %s: %w", paperID, err)
	}
	return nil
}

// SearchFilter restricts a Search call to a projected attribute.
type SearchFilter struct {
	Category string
	Year     int
}

// Search performs k-NN similarity search, optionally filtered by the
// projected category/year attributes.
func (v *VectorStore) Search(ctx context.Context, modelID string, embedding []float32, limit int, filter *SearchFilter) ([]SearchHit, error) {
	req := &pb.SearchPoints{
		CollectionName: v.CollectionName(modelID),
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if filter != nil {
		var must []*pb.Condition
		if filter.Category != "" {
			must = append(must, fieldMatchKeyword("category", filter.Category))
		}
		if filter.Year != 0 {
			must = append(must, fieldMatchInt("year", filter.Year))
		}
		if len(must) > 0 {
			req.Filter = &pb.Filter{Must: must}
		}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	hits := make([]SearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		hits[i] = SearchHit{
			PaperID:  payload["paper_id"].GetStringValue(),
			Score:    r.GetScore(),
			Category: payload["category"].GetStringValue(),
			Year:     int(payload["year"].GetIntegerValue()),
		}
	}
	return hits, nil
}

func fieldMatchKeyword(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func fieldMatchInt(key string, value int) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(value)}},
			},
		},
	}
}

func sanitizeCollectionSuffix(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c+32)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}
