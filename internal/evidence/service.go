// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package evidence

import (
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "retrovue.evidence.v1.ExecutionEvidenceService"

// ExecutionEvidenceServer is the server-side stream contract.
type ExecutionEvidenceServer interface {
	EvidenceStream(EvidenceStream) error
}

// EvidenceStream is the bidirectional stream as seen by the server.
type EvidenceStream interface {
	Send(*EvidenceAckFromCore) error
	Recv() (*EvidenceFromAir, error)
	grpc.ServerStream
}

type evidenceStream struct {
	grpc.ServerStream
}

func (s *evidenceStream) Send(ack *EvidenceAckFromCore) error {
	return s.ServerStream.SendMsg(ack)
}

func (s *evidenceStream) Recv() (*EvidenceFromAir, error) {
	var ev EvidenceFromAir
	if err := s.ServerStream.RecvMsg(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func evidenceStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ExecutionEvidenceServer).EvidenceStream(&evidenceStream{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExecutionEvidenceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "EvidenceStream",
			Handler:       evidenceStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "retrovue/evidence/v1/evidence.json",
}

// Register attaches the evidence service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ExecutionEvidenceServer) {
	s.RegisterService(&serviceDesc, srv)
}
