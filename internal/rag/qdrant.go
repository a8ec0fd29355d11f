package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/54b3r/ragcore-go/internal/errs"
)

// scrollPageSize is the number of point ids fetched per Scroll call in ListIDs.
const scrollPageSize = 256

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection this adapter reads and writes.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex on a single Qdrant collection.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// collection is the bound collection name.
	collection string
}

// NewQdrantIndex connects to Qdrant. It does not touch the collection; call
// EnsureIndex before the first write.
func NewQdrantIndex(cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, errs.New(errs.CodeRequestInvalid, "qdrant: collection name is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeIndexUnavailable, "qdrant: create client")
	}

	return &QdrantIndex{client: client, collection: cfg.Collection}, nil
}

// Name returns the bound collection name.
func (q *QdrantIndex) Name() string { return q.collection }

// EnsureIndex creates the collection when it does not exist. A concurrent
// creator winning the race surfaces as AlreadyExists and is treated as
// success. An existing collection with a different vector size is rejected.
func (q *QdrantIndex) EnsureIndex(ctx context.Context, dimension int, metric Metric) error {
	if dimension <= 0 {
		return errs.Errorf(errs.CodeRequestInvalid, "qdrant: invalid dimension %d", dimension)
	}
	distance, err := qdrantDistance(metric)
	if err != nil {
		return err
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return errs.Wrap(err, errs.CodeIndexUnavailable, "qdrant: check collection existence")
	}
	if exists {
		return q.checkDimension(ctx, dimension)
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension), //nolint:gosec // checked positive above
			Distance: distance,
		}),
	})
	if err != nil && !isAlreadyExists(err) {
		return errs.Wrap(err, errs.CodeIndexUnavailable,
			fmt.Sprintf("qdrant: create collection %q", q.collection))
	}
	return nil
}

// checkDimension compares the stored vector size with the configured one.
func (q *QdrantIndex) checkDimension(ctx context.Context, dimension int) error {
	info, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return errs.Wrap(err, errs.CodeIndexUnavailable, "qdrant: get collection info")
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		// Named-vector collections carry no single size; nothing to compare.
		return nil
	}
	if got := params.GetSize(); got != uint64(dimension) { //nolint:gosec // positive
		return errs.Errorf(errs.CodeIndexDimensionMismatch,
			"qdrant: collection %q has vector size %d, embedder produces %d", q.collection, got, dimension)
	}
	return nil
}

// Upsert stores vector under id with metadata as the point payload.
func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	payload, err := qdrant.TryValueMap(metadata)
	if err != nil {
		return errs.Wrap(err, errs.CodeRequestInvalid, "qdrant: encode payload", errs.FieldDocumentID(id))
	}

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return errs.Wrap(err, errs.CodeIndexUnavailable, "qdrant: upsert", errs.FieldDocumentID(id))
	}
	return nil
}

// Query runs a nearest-neighbour search restricted by filter.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	f, err := qdrantFilter(filter)
	if err != nil {
		return nil, err
	}

	limit := uint64(topK)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         f,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeIndexUnavailable, "qdrant: query")
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{ID: pointID(r.GetId()), Score: r.GetScore()})
	}
	return matches, nil
}

// Delete removes points by id.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return errs.Wrap(err, errs.CodeIndexUnavailable, "qdrant: delete")
	}
	return nil
}

// ListIDs scrolls the whole collection. Scroll offsets are inclusive, so each
// page after the first starts with the previous page's last id, which is
// skipped.
func (q *QdrantIndex) ListIDs(ctx context.Context) ([]string, error) {
	var (
		ids    []string
		offset *qdrant.PointId
	)
	limit := uint32(scrollPageSize)
	for {
		page, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(false),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeIndexUnavailable, "qdrant: scroll")
		}

		start := 0
		if offset != nil && len(page) > 0 && pointID(page[0].GetId()) == pointID(offset) {
			start = 1
		}
		for _, p := range page[start:] {
			ids = append(ids, pointID(p.GetId()))
		}
		if len(page) < scrollPageSize {
			return ids, nil
		}
		offset = page[len(page)-1].GetId()
	}
}

// Ping calls the Qdrant HealthCheck RPC.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return errs.Wrap(err, errs.CodeIndexUnavailable, "qdrant: health check")
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func qdrantDistance(m Metric) (qdrant.Distance, error) {
	switch m {
	case MetricCosine, "":
		return qdrant.Distance_Cosine, nil
	case MetricDot:
		return qdrant.Distance_Dot, nil
	case MetricEuclid:
		return qdrant.Distance_Euclid, nil
	default:
		return 0, errs.Errorf(errs.CodeRequestInvalid, "qdrant: unknown metric %q", m)
	}
}

// qdrantFilter converts scalar equality pairs into a Must filter.
func qdrantFilter(filter map[string]any) (*qdrant.Filter, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	conds := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		switch val := v.(type) {
		case string:
			conds = append(conds, qdrant.NewMatch(k, val))
		case SourceKind:
			conds = append(conds, qdrant.NewMatch(k, string(val)))
		case bool:
			conds = append(conds, qdrant.NewMatchBool(k, val))
		case int:
			conds = append(conds, qdrant.NewMatchInt(k, int64(val)))
		case int64:
			conds = append(conds, qdrant.NewMatchInt(k, val))
		default:
			return nil, errs.Errorf(errs.CodeRequestInvalid, "qdrant: unsupported filter value %T for %q", v, k)
		}
	}
	return &qdrant.Filter{Must: conds}, nil
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func isAlreadyExists(err error) bool {
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
