// Package peer implements the third lookup leg of GraphCacheProtocol
// (spec.md §4.F): a worker asks its orchestrator for the content fingerprint
// of the graph it built, then separately fetches the orchestrator's
// symlink-manifest file. No .proto compiler is available in this tree, so
// the service is a hand-assembled grpc.ServiceDesc carrying
// structpb.Struct payloads -- the same "describe the wire shape without code
// generation" approach mutagen's own hand-written forwarding services use
// for small, infrequently-changing internal RPCs.
package peer

import (
	"context"
	"encoding/hex"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/buildcore/pipcache/pkg/grpcutil"
)

// serviceName is the gRPC service name under which the hand-assembled
// service is registered.
const serviceName = "pipcache.graphcache.peer.Peer"

// Server is implemented by the orchestrator side of a distributed build: it
// answers a worker's questions about the graph the orchestrator itself
// built.
type Server interface {
	// QueryFingerprint returns the content fingerprint of the graph the
	// orchestrator built for the module named in the request's "module"
	// field.
	QueryFingerprint(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

	// FetchSymlinkManifest returns the orchestrator's symlink-manifest file
	// contents for the graph identified by the request's "fingerprint"
	// field.
	FetchSymlinkManifest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterServer registers srv with s under the hand-assembled ServiceDesc.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "QueryFingerprint",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(structpb.Struct)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).QueryFingerprint(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/QueryFingerprint", serviceName)}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).QueryFingerprint(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "FetchSymlinkManifest",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				req := new(structpb.Struct)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(Server).FetchSymlinkManifest(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fmt.Sprintf("/%s/FetchSymlinkManifest", serviceName)}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(Server).FetchSymlinkManifest(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/graphcache/peer/peer.go",
}

// Client is a thin wrapper around a gRPC connection to an orchestrator.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to an orchestrator at target, enforcing
// grpcutil.MaximumMessageSize in both directions.
func Dial(ctx context.Context, target string) (*Client, error) {
	conn, err := grpc.DialContext(ctx, target,
		grpc.WithInsecure(),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(grpcutil.MaximumMessageSize),
			grpc.MaxCallSendMsgSize(grpcutil.MaximumMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial orchestrator %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// QueryFingerprint asks the orchestrator for the content fingerprint of the
// graph it built for module, returning the raw 32-byte fingerprint.
func (c *Client) QueryFingerprint(ctx context.Context, module string) ([32]byte, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"module": module})
	if err != nil {
		return [32]byte{}, fmt.Errorf("build request: %w", err)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/QueryFingerprint", serviceName), req, resp); err != nil {
		return [32]byte{}, grpcutil.PeelAwayRPCErrorLayer(err)
	}

	return decodeFingerprint(resp)
}

// FetchSymlinkManifest retrieves the orchestrator's symlink-manifest bytes
// for the graph identified by fingerprint.
func (c *Client) FetchSymlinkManifest(ctx context.Context, fingerprint [32]byte) ([]byte, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"fingerprint": encodeFingerprint(fingerprint),
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/FetchSymlinkManifest", serviceName), req, resp); err != nil {
		return nil, grpcutil.PeelAwayRPCErrorLayer(err)
	}

	manifest, ok := resp.Fields["manifest"]
	if !ok {
		return nil, fmt.Errorf("peer response missing manifest field")
	}
	return []byte(manifest.GetStringValue()), nil
}

// encodeFingerprint renders a 32-byte fingerprint as a hex string, since
// structpb.Value has no native byte-string type.
func encodeFingerprint(fingerprint [32]byte) string {
	return hex.EncodeToString(fingerprint[:])
}

func decodeFingerprint(s *structpb.Struct) ([32]byte, error) {
	var fingerprint [32]byte
	field, ok := s.Fields["fingerprint"]
	if !ok {
		return fingerprint, fmt.Errorf("peer response missing fingerprint field")
	}
	decoded, err := hex.DecodeString(field.GetStringValue())
	if err != nil {
		return fingerprint, fmt.Errorf("decode fingerprint: %w", err)
	}
	if len(decoded) != len(fingerprint) {
		return fingerprint, fmt.Errorf("decode fingerprint: unexpected length %d", len(decoded))
	}
	copy(fingerprint[:], decoded)
	return fingerprint, nil
}
