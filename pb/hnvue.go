package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Console command-surface wire types, hand-authored as plain structs
// plus grpc.CallOption-carrying interfaces — no protoc invocation, since this exercise never runs the
// Go toolchain. ConsoleCommandServiceServer is what internal/ipc's
// command.go binds to an HTTP/JSON router; the interface shape is
// preserved here so a future switch to a real gRPC transport is a
// codegen swap, not a rewrite.

// ExposureParams mirrors hal/generator.ExposureParams on the wire.
type ExposureParams struct {
	KVp   float64
	MA    float64
	MS    float64
	Mode  int32 // 0=Manual, 1=Auto
	Focus string
}

type StartExposureRequest struct {
	StudyId   string
	PatientId string
	Params    *ExposureParams
}

type StartExposureResponse struct {
	Success   bool
	ActualKVp float64
	ActualMA  float64
	ActualMS  float64
	Aborted   bool
	Error     string
	At        *timestamppb.Timestamp
}

type AbortExposureRequest struct {
	StudyId string
}

type AbortExposureResponse struct {
	Accepted bool
}

type SetCollimatorRequest struct {
	FieldWidthMm  float64
	FieldHeightMm float64
}

type SetCollimatorResponse struct {
	Applied bool
	Error   string
}

type RunCalibrationRequest struct {
	ArtifactType int32 // calibration.ArtifactType
	SourcePath   string
}

type RunCalibrationResponse struct {
	Success    bool
	Error      string
	AcquiredAt *timestamppb.Timestamp
}

type GetSystemStateRequest struct{}

type GetSystemStateResponse struct {
	WorkflowState     string
	GeneratorState    string
	InterlockAllPassed bool
	ActiveStudyId     string
	At                *timestamppb.Timestamp
}

// ConsoleCommandServiceServer is the command interface spec.md §6
// names: StartExposure, AbortExposure, SetCollimator, RunCalibration,
// GetSystemState.
type ConsoleCommandServiceServer interface {
	StartExposure(context.Context, *StartExposureRequest) (*StartExposureResponse, error)
	AbortExposure(context.Context, *AbortExposureRequest) (*AbortExposureResponse, error)
	SetCollimator(context.Context, *SetCollimatorRequest) (*SetCollimatorResponse, error)
	RunCalibration(context.Context, *RunCalibrationRequest) (*RunCalibrationResponse, error)
	GetSystemState(context.Context, *GetSystemStateRequest) (*GetSystemStateResponse, error)
}

// ConsoleCommandServiceClient is the matching client-side shape,
// carrying grpc.CallOption the way generated gRPC clients do, so a
// real gRPC stub can satisfy it
// unmodified.
type ConsoleCommandServiceClient interface {
	StartExposure(ctx context.Context, in *StartExposureRequest, opts ...grpc.CallOption) (*StartExposureResponse, error)
	AbortExposure(ctx context.Context, in *AbortExposureRequest, opts ...grpc.CallOption) (*AbortExposureResponse, error)
	SetCollimator(ctx context.Context, in *SetCollimatorRequest, opts ...grpc.CallOption) (*SetCollimatorResponse, error)
	RunCalibration(ctx context.Context, in *RunCalibrationRequest, opts ...grpc.CallOption) (*RunCalibrationResponse, error)
	GetSystemState(ctx context.Context, in *GetSystemStateRequest, opts ...grpc.CallOption) (*GetSystemStateResponse, error)
}

// ImageChunk is one chunk of a frame on the image stream: metadata
// rides on the first chunk only, matching spec.md §6's
// {seq, metadata-on-first-chunk, payload, is_last} shape.
type ImageChunk struct {
	Seq        uint64
	Payload    []byte
	IsLast     bool
	Width      int32 // set only when Seq == 0
	Height     int32
	AcquiredAt *timestamppb.Timestamp
}

// ImageStreamServiceServer exposes a per-acquisition server-streaming
// RPC; it is server-streaming only, since the console only pushes
// frames.
type ImageStreamServiceServer interface {
	Subscribe(*ImageStreamRequest, ImageStreamService_SubscribeServer) error
}

type ImageStreamRequest struct {
	StudyId string
}

type ImageStreamService_SubscribeServer interface {
	Send(*ImageChunk) error
	grpc.ServerStream
}

// HealthEvent carries one heartbeat/status/fault/state-change tick
// republished over the health stream transport.
type HealthEvent struct {
	Kind      string // heartbeat, status, fault, state_change
	Detail    string
	Timestamp *timestamppb.Timestamp
}

type HealthStreamServiceServer interface {
	Subscribe(*HealthStreamRequest, HealthStreamService_SubscribeServer) error
}

type HealthStreamRequest struct{}

type HealthStreamService_SubscribeServer interface {
	Send(*HealthEvent) error
	grpc.ServerStream
}
