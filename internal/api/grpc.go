package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"tradelab/internal/backtest"
	"tradelab/internal/store"
	"tradelab/internal/stream"
)

// The gRPC surface carries the same JSON objects as the HTTP API, wrapped in
// google.protobuf.Struct, so no generated code is needed.
const (
	ServiceName          = "tradelab.v1.BacktestService"
	StreamBacktestMethod = "/" + ServiceName + "/StreamBacktest"
)

type backtestServer interface {
	StreamBacktest(in *structpb.Struct, ss grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*backtestServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamBacktest",
		Handler:       streamBacktestHandler,
		ServerStreams: true,
	}},
	Metadata: "tradelab/v1/backtest.proto",
}

func streamBacktestHandler(srv any, ss grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := ss.RecvMsg(in); err != nil {
		return err
	}
	return srv.(backtestServer).StreamBacktest(in, ss)
}

// RegisterGRPC registers the backtest service on the given gRPC server.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// StreamBacktest runs a batch and sends every event as a Struct. Validation
// failures are returned before the first message.
func (s *Server) StreamBacktest(in *structpb.Struct, ss grpc.ServerStream) error {
	var body RunRequest
	if err := fromStruct(in, &body); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	req, err := body.Batch()
	if err != nil {
		return grpcError(err)
	}
	events, err := s.batcher.Stream(ss.Context(), req)
	if err != nil {
		return grpcError(err)
	}

	s.log.Info("grpc stream started", "strategy", req.StrategyID, "instruments", len(req.InstrumentIDs))
	for ev := range events {
		msg, err := toStruct(ev)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := ss.SendMsg(msg); err != nil {
			s.log.Info("grpc client disconnected", "error", err)
			return err
		}
	}
	return nil
}

// EventStream reads batch events from a StreamBacktest call.
type EventStream struct {
	cs grpc.ClientStream
}

// OpenStream starts a StreamBacktest call on cc.
func OpenStream(ctx context.Context, cc grpc.ClientConnInterface, req RunRequest) (*EventStream, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	cs, err := cc.NewStream(ctx, &serviceDesc.Streams[0], StreamBacktestMethod)
	if err != nil {
		return nil, fmt.Errorf("starting stream: %w", err)
	}
	if err := cs.SendMsg(in); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("closing send: %w", err)
	}
	return &EventStream{cs: cs}, nil
}

// Recv returns the next event, or io.EOF once the stream has ended.
func (s *EventStream) Recv() (stream.Event, error) {
	msg := new(structpb.Struct)
	if err := s.cs.RecvMsg(msg); err != nil {
		return stream.Event{}, err
	}
	var ev stream.Event
	if err := fromStruct(msg, &ev); err != nil {
		return stream.Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return ev, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	st := new(structpb.Struct)
	if err := protojson.Unmarshal(data, st); err != nil {
		return nil, err
	}
	return st, nil
}

func fromStruct(st *structpb.Struct, v any) error {
	data, err := protojson.Marshal(st)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// grpcError maps engine errors onto gRPC status codes.
func grpcError(err error) error {
	var fe *backtest.FetchError
	code := codes.Internal
	switch {
	case backtest.IsValidation(err):
		code = codes.InvalidArgument
	case errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, backtest.ErrNoData):
		code = codes.FailedPrecondition
	case errors.As(err, &fe) && fe.Transient(), errors.Is(err, store.ErrUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}
