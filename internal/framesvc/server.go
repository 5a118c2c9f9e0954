// Package framesvc serves record frames over gRPC.
//
// The wire contract is frames.proto. The service is described by a
// hand-written grpc.ServiceDesc and its messages are encoded with protowire
// by a codec the server forces for every call, so stock proto clients work.
// Frames travel in their stored encoding; clients decode them with
// record.DecodeFrame.
package framesvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/config"
	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/timeutil"
)

// Full method names.
const (
	ServiceName        = "fusionrec.FrameService"
	InfoMethod         = "/" + ServiceName + "/Info"
	GetFrameMethod     = "/" + ServiceName + "/GetFrame"
	StreamFramesMethod = "/" + ServiceName + "/StreamFrames"
)

// FrameServiceServer is the server API.
type FrameServiceServer interface {
	Info(context.Context, *InfoRequest) (*InfoResponse, error)
	GetFrame(context.Context, *FrameRequest) (*FrameResponse, error)
	StreamFrames(*StreamRequest, grpc.ServerStreamingServer[FrameResponse]) error
}

// Ensure Server implements the gRPC interface.
var _ FrameServiceServer = (*Server)(nil)

// Server serves frames out of records held in memory.
type Server struct {
	clock timeutil.Clock
	log   *slog.Logger

	mu        sync.RWMutex
	records   map[string]*served
	defaultID string
}

type served struct {
	rec   *record.Record
	metas []record.FrameMeta
}

// NewServer returns a server with no records. A nil logger uses
// slog.Default.
func NewServer(clock timeutil.Clock, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		clock:   clock,
		log:     log.With("component", "framesvc"),
		records: make(map[string]*served),
	}
}

// Add makes r available. Every frame is verified and its meta decoded up
// front, so a corrupt record is refused here rather than mid-stream. The
// first record added is the default.
func (s *Server) Add(r *record.Record) error {
	metas := make([]record.FrameMeta, r.FrameCount())
	for i := range metas {
		raw, err := r.RawFrame(i)
		if err != nil {
			return err
		}
		if metas[i], err = record.DecodeFrameMeta(raw); err != nil {
			return err
		}
	}
	id := r.Header.RecordID.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = &served{rec: r, metas: metas}
	if s.defaultID == "" {
		s.defaultID = id
	}
	s.log.Info("serving record", "record_id", id, "frames", len(metas))
	return nil
}

func (s *Server) lookup(id string) (string, *served, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == "" {
		id = s.defaultID
	}
	e, ok := s.records[id]
	if !ok {
		return "", nil, status.Errorf(codes.NotFound, "record %q not served", id)
	}
	return id, e, nil
}

// toStatus maps record errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, blockio.ErrIndexOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, blockio.ErrChecksumMismatch),
		errors.Is(err, blockio.ErrTruncatedData),
		errors.Is(err, blockio.ErrMalformedFrame):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

// Info implements FrameServiceServer.
func (s *Server) Info(ctx context.Context, req *InfoRequest) (*InfoResponse, error) {
	id, e, err := s.lookup(req.RecordID)
	if err != nil {
		return nil, err
	}
	resp := &InfoResponse{
		RecordID:   id,
		FrameCount: uint64(len(e.metas)),
		SizeBytes:  uint64(e.rec.Size()),
		Version:    e.rec.Header.Version,
		Slots:      e.rec.Names,
	}
	if n := len(e.metas); n > 0 {
		resp.Start, resp.End = e.metas[0].Timestamp, e.metas[n-1].Timestamp
	}
	return resp, nil
}

func (s *Server) frame(id string, e *served, i int) (*FrameResponse, error) {
	raw, err := e.rec.RawFrame(i)
	if err != nil {
		return nil, toStatus(err)
	}
	m := e.metas[i]
	return &FrameResponse{RecordID: id, Index: uint64(i), FrameID: m.FrameID, Timestamp: m.Timestamp, Data: raw}, nil
}

// GetFrame implements FrameServiceServer.
func (s *Server) GetFrame(ctx context.Context, req *FrameRequest) (*FrameResponse, error) {
	id, e, err := s.lookup(req.RecordID)
	if err != nil {
		return nil, err
	}
	n := len(e.metas)
	i := int(req.Index)
	if req.ByTimestamp {
		if n == 0 {
			return nil, status.Error(codes.OutOfRange, "record has no frames")
		}
		i = sort.Search(n, func(i int) bool { return e.metas[i].Timestamp >= req.Timestamp })
		if i == n {
			i = n - 1
		}
	} else if req.Index < 0 || req.Index >= int64(n) {
		return nil, status.Errorf(codes.OutOfRange, "frame %d of %d", req.Index, n)
	}
	return s.frame(id, e, i)
}

// StreamFrames implements FrameServiceServer.
func (s *Server) StreamFrames(req *StreamRequest, stream grpc.ServerStreamingServer[FrameResponse]) error {
	if req.Rate < 0 || math.IsNaN(req.Rate) || math.IsInf(req.Rate, 0) {
		return status.Errorf(codes.InvalidArgument, "rate %v", req.Rate)
	}
	id, e, err := s.lookup(req.RecordID)
	if err != nil {
		return err
	}
	n := uint64(len(e.metas))
	if req.Start > n || (req.Start == n && n > 0) {
		return status.Errorf(codes.OutOfRange, "start %d of %d frames", req.Start, n)
	}
	end := n
	// Start <= n here, so n-Start cannot wrap where Start+Count could.
	if req.Count > 0 && req.Count < n-req.Start {
		end = req.Start + req.Count
	}

	ctx := stream.Context()
	s.log.Debug("stream started", "record_id", id, "start", req.Start, "end", end, "rate", req.Rate)
	for i := req.Start; i < end; i++ {
		if i > req.Start && req.Rate > 0 {
			gap := time.Duration(e.metas[i].Timestamp - e.metas[i-1].Timestamp)
			if err := timeutil.Wait(ctx, s.clock, time.Duration(float64(gap)/req.Rate)); err != nil {
				return toStatus(err)
			}
		} else if err := ctx.Err(); err != nil {
			return toStatus(err)
		}
		resp, err := s.frame(id, e, int(i))
		if err != nil {
			return err
		}
		if err := stream.Send(resp); err != nil {
			s.log.Warn("stream send failed", "record_id", id, "frame", i, "error", err)
			return err
		}
	}
	s.log.Debug("stream finished", "record_id", id, "frames", end-req.Start)
	return nil
}

func infoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(InfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FrameServiceServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InfoMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FrameServiceServer).Info(ctx, req.(*InfoRequest))
	})
}

func getFrameHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FrameRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FrameServiceServer).GetFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetFrameMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FrameServiceServer).GetFrame(ctx, req.(*FrameRequest))
	})
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FrameServiceServer).StreamFrames(in, &grpc.GenericServerStream[StreamRequest, FrameResponse]{ServerStream: stream})
}

// ServiceDesc describes the frame service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrameServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Info", Handler: infoHandler},
		{MethodName: "GetFrame", Handler: getFrameHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
	Metadata: "frames.proto",
}

// RegisterService registers srv with a gRPC server. The server must be built
// with ServerOption.
func RegisterService(gs *grpc.Server, srv FrameServiceServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

// NewGRPCServer returns a gRPC server with the configured message limits and
// srv registered.
func NewGRPCServer(srv FrameServiceServer, cfg config.ServerConfig) *grpc.Server {
	gs := grpc.NewServer(
		ServerOption(),
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
	)
	RegisterService(gs, srv)
	return gs
}

// Serve runs gs on lis until ctx is done, then stops gracefully.
func Serve(ctx context.Context, gs *grpc.Server, lis net.Listener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			gs.GracefulStop()
		case <-done:
		}
	}()
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve %s: %w", lis.Addr(), err)
	}
	return nil
}
