package pose

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DetectMethod is the full gRPC method name served by the pose sidecar.
// The request is a JPEG frame wrapped in BytesValue; the response is a
// Struct with a "landmarks" list of {x, y, z} objects, empty when nobody
// is in frame.
const DetectMethod = "/pose.PoseDetector/Detect"

// DetectorServer is implemented by pose sidecars written in Go, and by test
// fakes.
type DetectorServer interface {
	Detect(ctx context.Context, frame *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// detectorServiceDesc is hand-written in the shape protoc-gen-go-grpc emits;
// the messages are well-known types so no generated code is required.
var detectorServiceDesc = grpc.ServiceDesc{
	ServiceName: "pose.PoseDetector",
	HandlerType: (*DetectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Detect",
			Handler:    detectHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pose.proto",
}

func detectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectorServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectorServer).Detect(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterDetectorServer registers srv on s under the PoseDetector service.
// The batch tool is only a client; this is for sidecars written in Go and
// for in-process fakes in tests.
func RegisterDetectorServer(s grpc.ServiceRegistrar, srv DetectorServer) {
	s.RegisterService(&detectorServiceDesc, srv)
}

// GRPCDetector calls a pose-estimation sidecar (e.g. a MediaPipe process)
// over gRPC, one unary call per frame.
type GRPCDetector struct {
	conn        grpc.ClientConnInterface
	closer      func() error
	timeout     time.Duration
	jpegQuality int
}

// DialDetector connects to the sidecar at addr. The connection is lazy; a
// dead sidecar surfaces as an error on the first Detect.
func DialDetector(addr string, timeout time.Duration, jpegQuality int, opts ...grpc.DialOption) (*GRPCDetector, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector client for %s: %w", addr, err)
	}
	d := NewGRPCDetector(conn, timeout, jpegQuality)
	d.closer = conn.Close
	return d, nil
}

// NewGRPCDetector wraps an existing connection.
func NewGRPCDetector(conn grpc.ClientConnInterface, timeout time.Duration, jpegQuality int) *GRPCDetector {
	return &GRPCDetector{conn: conn, timeout: timeout, jpegQuality: jpegQuality}
}

// Detect encodes frame as JPEG, sends it to the sidecar and decodes the
// landmark list.
func (d *GRPCDetector) Detect(ctx context.Context, frame image.Image) ([]Keypoint, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: d.jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := d.conn.Invoke(ctx, DetectMethod, wrapperspb.Bytes(buf.Bytes()), resp); err != nil {
		return nil, fmt.Errorf("pose detector call failed: %w", err)
	}
	return DecodeLandmarks(resp)
}

// Close releases the connection if the detector owns it.
func (d *GRPCDetector) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

// EncodeLandmarks builds the sidecar response message for points.
func EncodeLandmarks(points []Keypoint) *structpb.Struct {
	values := make([]*structpb.Value, len(points))
	for i, p := range points {
		values[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"x": structpb.NewNumberValue(p.X),
			"y": structpb.NewNumberValue(p.Y),
			"z": structpb.NewNumberValue(p.Z),
		}})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"landmarks": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// DecodeLandmarks parses a sidecar response. A missing or empty list means
// no person was found.
func DecodeLandmarks(resp *structpb.Struct) ([]Keypoint, error) {
	list := resp.GetFields()["landmarks"].GetListValue().GetValues()
	if len(list) == 0 {
		return nil, ErrNoPose
	}

	points := make([]Keypoint, len(list))
	for i, v := range list {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("landmark %d is not an object", i)
		}
		points[i] = Keypoint{
			X: fields["x"].GetNumberValue(),
			Y: fields["y"].GetNumberValue(),
			Z: fields["z"].GetNumberValue(),
		}
	}
	return points, nil
}
