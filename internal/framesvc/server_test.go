package framesvc

import (
	"context"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/config"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/synth"
	"github.com/banshee-data/fusion.record/internal/timeutil"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func recordBytes(t *testing.T, seed int64, frames int) []byte {
	t.Helper()
	cfg := synth.DefaultConfig()
	cfg.PointsPerLidar = 20
	cfg.ImageWidth, cfg.ImageHeight = 8, 6
	cfg.Seed = seed
	w, err := synth.NewGenerator(cfg, timeutil.NewMockClock(start)).Record(frames)
	require.NoError(t, err)
	b, err := w.Bytes()
	require.NoError(t, err)
	return b
}

func testRecord(t *testing.T, seed int64, frames int) *record.Record {
	t.Helper()
	r, err := record.Parse(recordBytes(t, seed, frames))
	require.NoError(t, err)
	return r
}

// setupTestServer serves records over an in-memory listener.
func setupTestServer(t *testing.T, clock timeutil.Clock, recs ...*record.Record) (*Server, *Client) {
	t.Helper()
	srv, conn := setupTestConn(t, clock, recs...)
	return srv, NewClient(conn)
}

func setupTestConn(t *testing.T, clock timeutil.Clock, recs ...*record.Record) (*Server, *grpc.ClientConn) {
	t.Helper()
	srv := NewServer(clock, nil)
	for _, r := range recs {
		require.NoError(t, srv.Add(r))
	}

	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(srv, config.Default().Server)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func codeOf(err error) codes.Code {
	return status.Code(err)
}

func TestInfo(t *testing.T) {
	first, second := testRecord(t, 1, 5), testRecord(t, 2, 2)
	_, c := setupTestServer(t, timeutil.RealClock{}, first, second)
	ctx := context.Background()

	info, err := c.Info(ctx, &InfoRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.Header.RecordID.String(), info.RecordID)
	assert.Equal(t, uint64(5), info.FrameCount)
	assert.Equal(t, payload.FromTime(start), info.Start)
	assert.Equal(t, payload.FromTime(start.Add(400*time.Millisecond)), info.End)
	assert.Equal(t, uint64(first.Size()), info.SizeBytes)
	assert.Equal(t, first.Names, info.Slots)

	info, err = c.Info(ctx, &InfoRequest{RecordID: second.Header.RecordID.String()})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.FrameCount)

	_, err = c.Info(ctx, &InfoRequest{RecordID: "nope"})
	assert.Equal(t, codes.NotFound, codeOf(err))
}

// Calls made with grpc's stock proto codec, as generated clients and grpcurl
// do. StringValue shares field 1 (record_id) with the requests and responses;
// the remaining response fields survive as unknown fields.
func TestStockProtoClient(t *testing.T) {
	rec := testRecord(t, 1, 5)
	id := rec.Header.RecordID.String()
	_, conn := setupTestConn(t, timeutil.RealClock{}, rec)
	ctx := context.Background()

	resp := new(wrapperspb.StringValue)
	require.NoError(t, conn.Invoke(ctx, InfoMethod, wrapperspb.String(id), resp))
	assert.Equal(t, id, resp.GetValue())

	b, err := proto.Marshal(resp)
	require.NoError(t, err)
	var info InfoResponse
	require.NoError(t, info.unmarshal(b))
	assert.Equal(t, uint64(5), info.FrameCount)
	assert.Equal(t, rec.Names, info.Slots)

	resp.Reset()
	require.NoError(t, conn.Invoke(ctx, GetFrameMethod, wrapperspb.String(id), resp))
	b, err = proto.Marshal(resp)
	require.NoError(t, err)
	var frame FrameResponse
	require.NoError(t, frame.unmarshal(b))
	assert.Equal(t, id, frame.RecordID)
	f, err := frame.Frame()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.FrameID)

	err = conn.Invoke(ctx, InfoMethod, wrapperspb.String("nope"), resp)
	assert.Equal(t, codes.NotFound, codeOf(err))
}

func TestGetFrame(t *testing.T) {
	_, c := setupTestServer(t, timeutil.RealClock{}, testRecord(t, 1, 5))
	ctx := context.Background()

	resp, err := c.GetFrame(ctx, &FrameRequest{Index: 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), resp.Index)
	assert.Equal(t, uint64(3), resp.FrameID)
	f, err := resp.Frame()
	require.NoError(t, err)
	assert.Equal(t, resp.Timestamp, f.Timestamp)
	assert.True(t, f.IsComplete())

	for _, idx := range []int64{-1, 5, 100} {
		_, err := c.GetFrame(ctx, &FrameRequest{Index: idx})
		assert.Equal(t, codes.OutOfRange, codeOf(err), "index %d", idx)
	}

	resp, err = c.GetFrame(ctx, &FrameRequest{ByTimestamp: true, Timestamp: payload.FromTime(start.Add(150 * time.Millisecond))})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resp.Index)

	resp, err = c.GetFrame(ctx, &FrameRequest{ByTimestamp: true, Timestamp: payload.FromTime(start.Add(time.Hour))})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), resp.Index, "past the end clamps to the last frame")
}

func TestGetFrame_EmptyRecord(t *testing.T) {
	_, c := setupTestServer(t, timeutil.RealClock{}, testRecord(t, 1, 0))
	_, err := c.GetFrame(context.Background(), &FrameRequest{ByTimestamp: true})
	assert.Equal(t, codes.OutOfRange, codeOf(err))

	n := 0
	require.NoError(t, c.Each(context.Background(), &StreamRequest{}, func(*FrameResponse) error {
		n++
		return nil
	}))
	assert.Zero(t, n)
}

func collect(t *testing.T, c *Client, req *StreamRequest) ([]uint64, error) {
	t.Helper()
	var got []uint64
	err := c.Each(context.Background(), req, func(r *FrameResponse) error {
		got = append(got, r.Index)
		return nil
	})
	return got, err
}

func TestStreamFrames(t *testing.T) {
	_, c := setupTestServer(t, timeutil.RealClock{}, testRecord(t, 1, 5))

	got, err := collect(t, c, &StreamRequest{})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, got)

	got, err = collect(t, c, &StreamRequest{Start: 1, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, got)

	got, err = collect(t, c, &StreamRequest{Start: 3, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, got)

	got, err = collect(t, c, &StreamRequest{Start: 2, Count: math.MaxUint64})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3, 4}, got, "a huge count streams to the end")

	_, err = collect(t, c, &StreamRequest{Start: 5})
	assert.Equal(t, codes.OutOfRange, codeOf(err))

	_, err = collect(t, c, &StreamRequest{Rate: -1})
	assert.Equal(t, codes.InvalidArgument, codeOf(err))
}

func TestStreamFrames_Paced(t *testing.T) {
	clock := timeutil.NewMockClock(start)
	_, c := setupTestServer(t, clock, testRecord(t, 1, 3))

	stream, err := c.StreamFrames(context.Background(), &StreamRequest{Rate: 2})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Index)

	for want := uint64(1); want < 3; want++ {
		require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)
		// Frames are 100ms apart; at double speed the server waits 50ms.
		clock.Advance(49 * time.Millisecond)
		assert.Equal(t, 1, clock.Waiters())
		clock.Advance(time.Millisecond)

		resp, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, resp.Index)
	}
}

func TestStreamFrames_CancelWhilePaced(t *testing.T) {
	clock := timeutil.NewMockClock(start)
	_, c := setupTestServer(t, clock, testRecord(t, 1, 3))

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.StreamFrames(ctx, &StreamRequest{Rate: 1})
	require.NoError(t, err)
	_, err = stream.Recv()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()
	_, err = stream.Recv()
	assert.Equal(t, codes.Canceled, codeOf(err))
}

func TestAdd_RejectsCorruptFrames(t *testing.T) {
	b := recordBytes(t, 1, 2)
	b[len(b)-1] ^= 0xff
	r, err := record.Parse(b)
	require.NoError(t, err)

	err = NewServer(timeutil.RealClock{}, nil).Add(r)
	assert.ErrorIs(t, err, blockio.ErrChecksumMismatch)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("wrapped: %w", blockio.ErrIndexOutOfRange), codes.OutOfRange},
		{&blockio.ChecksumMismatchError{Section: "frame 1"}, codes.DataLoss},
		{&blockio.TruncatedDataError{}, codes.DataLoss},
		{blockio.Malformed("frame", "meta", nil), codes.DataLoss},
		{context.Canceled, codes.Canceled},
		{status.Error(codes.NotFound, "x"), codes.NotFound},
		{fmt.Errorf("boom"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, codeOf(toStatus(tt.err)), "%v", tt.err)
	}
	assert.NoError(t, toStatus(nil))
}

func TestMessages_SkipUnknownFields(t *testing.T) {
	in := &FrameResponse{RecordID: "r", Index: 7, FrameID: 9, Timestamp: -5, Data: []byte{1, 2, 3}}
	b := in.marshal()
	// A field from a newer server.
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	var out FrameResponse
	require.NoError(t, out.unmarshal(b))
	assert.Equal(t, *in, out)

	var req StreamRequest
	require.NoError(t, req.unmarshal((&StreamRequest{Start: 2, Count: 3, Rate: 1.5}).marshal()))
	assert.Equal(t, StreamRequest{Start: 2, Count: 3, Rate: 1.5}, req)

	assert.Error(t, out.unmarshal([]byte{0x2a, 0x05, 0x01}), "truncated bytes field")
	_, err := wireCodec{}.Marshal("not a message")
	assert.Error(t, err)
}
