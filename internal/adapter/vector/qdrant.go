// internal/adapter/vector/qdrant.go

package vector

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"trendscope/internal/domain/content"
)

var ErrQdrant = goerr.New("qdrant operation failed")

// PointsAPI is the subset of pb.PointsClient the mirror uses
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// CollectionsAPI is the subset of pb.CollectionsClient the mirror uses
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// CentroidMirror keeps a Qdrant collection in step with the live theme
// centroids so other services can run nearest-theme lookups.
type CentroidMirror struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	collection  string
}

// NewCentroidMirror connects to Qdrant at the given gRPC address
func NewCentroidMirror(addr, collection string) (*CentroidMirror, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, goerr.Wrap(ErrQdrant, "failed to dial qdrant", goerr.V("addr", addr), goerr.V("cause", err))
	}
	return &CentroidMirror{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewCentroidMirrorWithClients builds a mirror on top of existing clients
func NewCentroidMirrorWithClients(points PointsAPI, collections CollectionsAPI, collection string) *CentroidMirror {
	return &CentroidMirror{
		points:      points,
		collections: collections,
		collection:  collection,
	}
}

// Close closes the underlying gRPC connection
func (m *CentroidMirror) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist
func (m *CentroidMirror) EnsureCollection(ctx context.Context, dims int) error {
	list, err := m.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return goerr.Wrap(ErrQdrant, "failed to list collections", goerr.V("cause", err))
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == m.collection {
			return nil
		}
	}

	_, err = m.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return goerr.Wrap(ErrQdrant, "failed to create collection",
			goerr.V("collection", m.collection), goerr.V("cause", err))
	}
	return nil
}

// Sync upserts the centroids of live themes and removes retired ones
func (m *CentroidMirror) Sync(ctx context.Context, themes []content.Theme) error {
	var (
		points  []*pb.PointStruct
		retired []*pb.PointId
	)
	for _, th := range themes {
		if th.Retired {
			retired = append(retired, pointID(th.ID))
			continue
		}
		if len(th.Centroid) == 0 {
			continue
		}
		points = append(points, themePoint(th))
	}

	wait := true
	if len(points) > 0 {
		_, err := m.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: m.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return goerr.Wrap(ErrQdrant, "failed to upsert centroids",
				goerr.V("count", len(points)), goerr.V("cause", err))
		}
	}

	if len(retired) > 0 {
		_, err := m.points.Delete(ctx, &pb.DeletePoints{
			CollectionName: m.collection,
			Wait:           &wait,
			Points: &pb.PointsSelector{
				PointsSelectorOneOf: &pb.PointsSelector_Points{
					Points: &pb.PointsIdsList{Ids: retired},
				},
			},
		})
		if err != nil {
			return goerr.Wrap(ErrQdrant, "failed to delete retired centroids",
				goerr.V("count", len(retired)), goerr.V("cause", err))
		}
	}

	return nil
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func themePoint(th content.Theme) *pb.PointStruct {
	data := make([]float32, len(th.Centroid))
	for i, v := range th.Centroid {
		data[i] = float32(v)
	}

	payload := map[string]*pb.Value{
		"name":      {Kind: &pb.Value_StringValue{StringValue: th.Name}},
		"size":      {Kind: &pb.Value_IntegerValue{IntegerValue: int64(th.Size())}},
		"sentiment": {Kind: &pb.Value_DoubleValue{DoubleValue: th.Sentiment}},
	}

	return &pb.PointStruct{
		Id: pointID(th.ID),
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: data},
			},
		},
		Payload: payload,
	}
}
