package qdrant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	grpccodes "google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/store"
)

const tracerName = "github.com/StricklySoft/catalog-edge/pkg/clients/qdrant"

// Points is the subset of the Qdrant client the adapter calls. It is
// satisfied by [*pb.Client] and by mocks via [NewFromPoints].
type Points interface {
	Get(ctx context.Context, req *pb.GetPoints) ([]*pb.RetrievedPoint, error)
	Scroll(ctx context.Context, req *pb.ScrollPoints) ([]*pb.RetrievedPoint, error)
	Count(ctx context.Context, req *pb.CountPoints) (uint64, error)
	HealthCheck(ctx context.Context) (*pb.HealthCheckReply, error)
	Close() error
}

var _ Points = (*pb.Client)(nil)

// Client is the Qdrant-backed [store.DocumentSearch]. It is safe for
// concurrent use.
type Client struct {
	points Points
	config *Config
	tracer trace.Tracer
}

var _ store.DocumentSearch = (*Client)(nil)

// NewClient validates cfg, opens the gRPC connection and runs a health
// check.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeUnavailableDependency]: cannot connect to Qdrant
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation,
			"qdrant: invalid configuration")
	}

	client, err := pb.NewClient(&pb.Config{
		Host:   cfg.Host,
		Port:   cfg.GRPCPort,
		APIKey: cfg.APIKey.Value(),
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"qdrant: failed to create gRPC client")
	}

	c := &Client{points: client, config: &cfg, tracer: otel.Tracer(tracerName)}
	if err := c.Health(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

// NewFromPoints wraps an existing [Points]. cfg may be nil.
func NewFromPoints(points Points, cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{points: points, config: cfg, tracer: otel.Tracer(tracerName)}
}

// Get returns the point id in collection index. Ids that are not UUIDs
// cannot exist and are reported as not found without a round trip.
//
// Error codes returned:
//   - [sserr.CodeNotFoundResource]: no such document
//   - [sserr.CodeTimeoutDatabase]: deadline exceeded
//   - [sserr.CodeInternalDatabase]: any other failure
func (c *Client) Get(ctx context.Context, index, id string) (store.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return store.Document{}, notFound(index, id)
	}

	ctx, span := c.startSpan(ctx, "Get", fmt.Sprintf("GetPoints %s %s", index, id), index)
	points, err := c.points.Get(ctx, &pb.GetPoints{
		CollectionName: index,
		Ids:            []*pb.PointId{pb.NewID(id)},
		WithPayload:    pb.NewWithPayload(true),
	})
	finishSpan(span, err)
	if err != nil {
		return store.Document{}, wrapError(err, "qdrant: get document failed")
	}
	if len(points) == 0 {
		return store.Document{}, notFound(index, id)
	}
	return toDocument(points[0]), nil
}

func notFound(index, id string) error {
	return sserr.Newf(sserr.CodeNotFoundResource, "qdrant: %s %q not found", index, id).
		WithDetail("index", index)
}

// Search scrolls the first From+Size matches of Query on Field and returns
// the page starting at From, together with the exact match count.
func (c *Client) Search(ctx context.Context, req store.SearchRequest) (store.SearchResult, error) {
	if req.From < 0 || req.Size < 0 {
		return store.SearchResult{}, sserr.Validationf("qdrant: invalid page from=%d size=%d", req.From, req.Size)
	}
	if limit := c.config.MaxWindow; limit > 0 && req.From+req.Size > limit {
		return store.SearchResult{}, sserr.Validationf("qdrant: page window %d exceeds %d", req.From+req.Size, limit)
	}

	var filter *pb.Filter
	if req.Query != "" {
		filter = &pb.Filter{Must: []*pb.Condition{pb.NewMatchText(req.Field, req.Query)}}
	}

	ctx, span := c.startSpan(ctx, "Search",
		fmt.Sprintf("Scroll %s %s~%q [%d:%d]", req.Index, req.Field, req.Query, req.From, req.From+req.Size),
		req.Index)
	defer span.End()

	total, err := c.points.Count(ctx, &pb.CountPoints{
		CollectionName: req.Index,
		Filter:         filter,
		Exact:          pb.PtrOf(true),
	})
	if err != nil {
		recordError(span, err)
		return store.SearchResult{}, wrapError(err, "qdrant: count failed")
	}

	res := store.SearchResult{Total: int64(total), Hits: []store.Document{}}
	if req.Size == 0 || int64(req.From) >= res.Total {
		span.SetStatus(codes.Ok, "")
		return res, nil
	}

	points, err := c.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: req.Index,
		Filter:         filter,
		Limit:          pb.PtrOf(uint32(req.From + req.Size)),
		WithPayload:    pb.NewWithPayload(true),
	})
	if err != nil {
		recordError(span, err)
		return store.SearchResult{}, wrapError(err, "qdrant: scroll failed")
	}
	for i := req.From; i < len(points); i++ {
		res.Hits = append(res.Hits, toDocument(points[i]))
	}
	span.SetAttributes(attribute.Int64("db.response.total", res.Total))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// Health runs a gRPC health check, applying the configured timeout when
// ctx has no deadline. Failure is reported as
// [sserr.CodeUnavailableDependency].
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "HealthCheck", "")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := DefaultHealthTimeout
		if c.config.HealthTimeout > 0 {
			timeout = c.config.HealthTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	_, err := c.points.HealthCheck(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency,
			"qdrant: health check failed")
	}
	return nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	return c.points.Close()
}

func toDocument(p *pb.RetrievedPoint) store.Document {
	id := p.GetId().GetUuid()
	if id == "" {
		id = fmt.Sprint(p.GetId().GetNum())
	}
	src := make(map[string]any, len(p.GetPayload()))
	for k, v := range p.GetPayload() {
		src[k] = fromValue(v)
	}
	return store.Document{ID: id, Source: src}
}

// fromValue converts a payload value to the types encoding/json produces.
// Integers stay int64.
func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_StructValue:
		m := make(map[string]any, len(k.StructValue.GetFields()))
		for key, field := range k.StructValue.GetFields() {
			m[key] = fromValue(field)
		}
		return m
	case *pb.Value_ListValue:
		l := make([]any, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			l = append(l, fromValue(item))
		}
		return l
	default:
		return nil
	}
}

func (c *Client) startSpan(ctx context.Context, operationName, statement, collectionName string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "qdrant."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "qdrant"),
		attribute.String("db.statement", truncateStatement(statement)),
	}
	if collectionName != "" {
		attrs = append(attrs, attribute.String("db.name", collectionName))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		recordError(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a Qdrant error. Deadlines, whether raw or carried in
// a gRPC status, become [sserr.CodeTimeoutDatabase]; anything else becomes
// [sserr.CodeInternalDatabase].
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	if st, ok := grpcstatus.FromError(err); ok && st.Code() == grpccodes.DeadlineExceeded {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
