package grpcserver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"regjournal/rollback"
	"regjournal/service"
)

// Journals is the journal administration surface of service.Manager.
type Journals interface {
	Stacks() []service.StackInfo
	Describe(name string) (service.StackInfo, error)
	SetLocked(name string, locked bool) error
	RollbackStack(ctx context.Context, name string) error
}

// Registrar runs registrations; satisfied by service.Pipeline.
type Registrar interface {
	RegisterDataSet(ctx context.Context, req service.RegisterRequest) (service.RegisterResult, error)
}

// Server adapts the journal manager and the registration pipeline to gRPC.
type Server struct {
	journals Journals
	pipeline Registrar
	log      *slog.Logger
}

func NewServer(journals Journals, pipeline Registrar, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{journals: journals, pipeline: pipeline, log: log.With("component", "grpc")}
}

// -------------------- Queries --------------------

func (s *Server) ListStacks(
	ctx context.Context,
	_ *emptypb.Empty,
) (*structpb.Struct, error) {
	stacks := s.journals.Stacks()
	list := make([]any, 0, len(stacks))
	for _, st := range stacks {
		list = append(list, stackFields(st))
	}
	return toStruct(map[string]any{"stacks": list})
}

func (s *Server) DescribeStack(
	ctx context.Context,
	req *structpb.Struct,
) (*structpb.Struct, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, err
	}
	info, err := s.journals.Describe(name)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(stackFields(info))
}

// -------------------- Commands --------------------

func (s *Server) SetLocked(
	ctx context.Context,
	req *structpb.Struct,
) (*emptypb.Empty, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, err
	}
	locked := req.GetFields()["locked"].GetBoolValue()
	if err := s.journals.SetLocked(name, locked); err != nil {
		return nil, toStatus(err)
	}
	s.log.Info("SetLocked", "journal", name, "locked", locked)
	return &emptypb.Empty{}, nil
}

func (s *Server) RollbackStack(
	ctx context.Context,
	req *structpb.Struct,
) (*emptypb.Empty, error) {
	name, err := requireString(req, "name")
	if err != nil {
		return nil, err
	}
	if err := s.journals.RollbackStack(ctx, name); err != nil {
		s.log.Warn("RollbackStack failed", "journal", name, "err", err)
		return nil, toStatus(err)
	}
	s.log.Info("RollbackStack", "journal", name)
	return &emptypb.Empty{}, nil
}

func (s *Server) RegisterDataSet(
	ctx context.Context,
	req *structpb.Struct,
) (*structpb.Struct, error) {
	if s.pipeline == nil {
		return nil, status.Error(codes.Unimplemented, "registration pipeline not configured")
	}
	path, err := requireString(req, "incoming_path")
	if err != nil {
		return nil, err
	}
	f := req.GetFields()
	res, err := s.pipeline.RegisterDataSet(ctx, service.RegisterRequest{
		IncomingPath: path,
		Code:         f["code"].GetStringValue(),
		Kind:         f["kind"].GetStringValue(),
		Owner:        f["owner"].GetStringValue(),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"code":     res.Code,
		"location": res.Location,
		"blob_key": res.BlobKey,
		"event_id": res.EventID,
		"journal":  res.Journal,
	})
}

// -------------------- Helpers --------------------

func stackFields(st service.StackInfo) map[string]any {
	m := map[string]any{
		"name":   st.Name,
		"size":   st.Size,
		"locked": st.Locked,
		"parked": st.Parked,
	}
	if st.Elements != nil {
		els := make([]any, len(st.Elements))
		for i, e := range st.Elements {
			els[i] = e
		}
		m["elements"] = els
	}
	return m
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func requireString(req *structpb.Struct, field string) (string, error) {
	v := req.GetFields()[field].GetStringValue()
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return v, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, rollback.ErrLocked), errors.Is(err, rollback.ErrClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrAlreadyRegistered):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrStagingUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
