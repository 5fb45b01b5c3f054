package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region methods
const (
	methodRun               = "/hiddentype.engine.v1.ClusterEngine/Run"
	methodLatestRunStats    = "/hiddentype.engine.v1.ClusterEngine/LatestRunStats"
	methodValue             = "/hiddentype.engine.v1.ClusterEngine/Value"
	methodSquaredDistanceTo = "/hiddentype.engine.v1.ClusterEngine/SquaredDistanceTo"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/hidden-type/go-controller/internal/engine")

// #endregion methods

// #region client-struct
// GRPCClient talks to a remote clustering engine. Payloads travel as
// google.protobuf.Struct so the engine service needs no generated stubs.
type GRPCClient struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

var _ Engine = (*GRPCClient)(nil)

// #endregion client-struct

// #region constructor
// NewGRPCClient connects to the engine at addr.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, cc: conn}, nil
}

// NewGRPCClientWithConn wraps an existing connection.
// Used for testing without a real gRPC server.
func NewGRPCClientWithConn(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// Close shuts down the gRPC connection if this client owns one.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion constructor

// #region run
// Run submits a batch and blocks until the engine finishes it.
func (c *GRPCClient) Run(ctx context.Context, batch []Observation, restarts, expansions, maxOuterIterations int) error {
	ctx, span := tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.Int("batch.observations", len(batch)),
		attribute.Int("restarts", restarts),
		attribute.Int("expansions", expansions),
	))
	defer span.End()

	obs := make([]*structpb.Value, len(batch))
	for i, o := range batch {
		obs[i] = structpb.NewStructValue(encodeObservation(o))
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"observations":         structpb.NewListValue(&structpb.ListValue{Values: obs}),
		"restarts":             structpb.NewNumberValue(float64(restarts)),
		"expansions":           structpb.NewNumberValue(float64(expansions)),
		"max_outer_iterations": structpb.NewNumberValue(float64(maxOuterIterations)),
	}}
	if err := c.cc.Invoke(ctx, methodRun, req, &structpb.Struct{}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		return fmt.Errorf("run rpc: %w", err)
	}
	return nil
}

// #endregion run

// #region latest-run-stats
// LatestRunStats fetches per-outer-iteration statistics of the last Run.
func (c *GRPCClient) LatestRunStats(ctx context.Context, groundTruth []int) (RunStats, error) {
	ctx, span := tracer.Start(ctx, "engine.LatestRunStats")
	defer span.End()

	labels := make([]*structpb.Value, len(groundTruth))
	for i, l := range groundTruth {
		labels[i] = structpb.NewNumberValue(float64(l))
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"ground_truth": structpb.NewListValue(&structpb.ListValue{Values: labels}),
	}}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, methodLatestRunStats, req, resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats failed")
		return RunStats{}, fmt.Errorf("latest run stats rpc: %w", err)
	}
	return decodeRunStats(resp), nil
}

// #endregion latest-run-stats

// #region point-queries
// Value looks up the learned value of a hashed state under a parameter set.
func (c *GRPCClient) Value(ctx context.Context, stateHash int64, paramIndex int) (float64, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"state_hash":  structpb.NewStringValue(strconv.FormatInt(stateHash, 10)),
		"param_index": structpb.NewNumberValue(float64(paramIndex)),
	}}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, methodValue, req, resp); err != nil {
		return 0, fmt.Errorf("value rpc: %w", err)
	}
	return numberField(resp, "value")
}

// SquaredDistanceTo measures an observation against a parameter set.
func (c *GRPCClient) SquaredDistanceTo(ctx context.Context, obs Observation, paramIndex int) (float64, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"observation": structpb.NewStructValue(encodeObservation(obs)),
		"param_index": structpb.NewNumberValue(float64(paramIndex)),
	}}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, methodSquaredDistanceTo, req, resp); err != nil {
		return 0, fmt.Errorf("squared distance rpc: %w", err)
	}
	return numberField(resp, "squared_distance")
}

// #endregion point-queries

// #region encoding
func encodeObservation(o Observation) *structpb.Struct {
	steps := make([]*structpb.Value, len(o.Transitions))
	for i, r := range o.Transitions {
		fields := map[string]*structpb.Value{
			"state_hash":   structpb.NewStringValue(strconv.FormatInt(r.StateHash, 10)),
			"state":        numberList(r.State),
			"scalar_label": structpb.NewNumberValue(r.ScalarLabel),
			"reward":       structpb.NewNumberValue(r.Reward),
		}
		if r.Features != nil {
			flags := make([]*structpb.Value, len(r.Features))
			for j, f := range r.Features {
				flags[j] = structpb.NewBoolValue(f)
			}
			fields["features"] = structpb.NewListValue(&structpb.ListValue{Values: flags})
		}
		steps[i] = structpb.NewStructValue(&structpb.Struct{Fields: fields})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"index":       structpb.NewNumberValue(float64(o.Index)),
		"domain":      structpb.NewStringValue(o.Domain.String()),
		"transitions": structpb.NewListValue(&structpb.ListValue{Values: steps}),
	}}
}

func numberList(xs []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func numberField(s *structpb.Struct, key string) (float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("reply missing %q", key)
	}
	return v.GetNumberValue(), nil
}

func floats(v *structpb.Value) []float64 {
	list := v.GetListValue().GetValues()
	out := make([]float64, len(list))
	for i, x := range list {
		out[i] = x.GetNumberValue()
	}
	return out
}

func ints(v *structpb.Value) []int {
	fs := floats(v)
	out := make([]int, len(fs))
	for i, f := range fs {
		out[i] = int(math.Round(f))
	}
	return out
}

func decodeRunStats(s *structpb.Struct) RunStats {
	f := s.GetFields()
	stats := RunStats{
		FeatureCounts: ints(f["feature_counts"]),
		ClusterCounts: ints(f["cluster_counts"]),
		Objectives:    floats(f["objectives"]),
		ElapsedTimes:  floats(f["elapsed_times"]),
		Accuracies:    floats(f["accuracies"]),
	}
	iters := f["predictions"].GetListValue().GetValues()
	stats.Predictions = make([][][]float64, len(iters))
	for i, it := range iters {
		perObs := it.GetListValue().GetValues()
		stats.Predictions[i] = make([][]float64, len(perObs))
		for j, o := range perObs {
			stats.Predictions[i][j] = floats(o)
		}
	}
	if a, ok := f["assignments"]; ok {
		iters := a.GetListValue().GetValues()
		stats.Assignments = make([][]int, len(iters))
		for i, it := range iters {
			stats.Assignments[i] = ints(it)
		}
	}
	return stats
}

// #endregion encoding
