package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"regjournal/service"
)

// Client calls the admin service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListStacks(ctx context.Context) ([]service.StackInfo, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("ListStacks"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var stacks []service.StackInfo
	for _, v := range out.GetFields()["stacks"].GetListValue().GetValues() {
		stacks = append(stacks, stackInfo(v.GetStructValue()))
	}
	return stacks, nil
}

func (c *Client) DescribeStack(ctx context.Context, name string) (service.StackInfo, error) {
	in, err := structpb.NewStruct(map[string]any{"name": name})
	if err != nil {
		return service.StackInfo{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("DescribeStack"), in, out); err != nil {
		return service.StackInfo{}, err
	}
	return stackInfo(out), nil
}

func (c *Client) SetLocked(ctx context.Context, name string, locked bool) error {
	in, err := structpb.NewStruct(map[string]any{"name": name, "locked": locked})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, fullMethod("SetLocked"), in, new(emptypb.Empty))
}

func (c *Client) RollbackStack(ctx context.Context, name string) error {
	in, err := structpb.NewStruct(map[string]any{"name": name})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, fullMethod("RollbackStack"), in, new(emptypb.Empty))
}

func (c *Client) RegisterDataSet(ctx context.Context, req service.RegisterRequest) (service.RegisterResult, error) {
	in, err := structpb.NewStruct(map[string]any{
		"incoming_path": req.IncomingPath,
		"code":          req.Code,
		"kind":          req.Kind,
		"owner":         req.Owner,
	})
	if err != nil {
		return service.RegisterResult{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("RegisterDataSet"), in, out); err != nil {
		return service.RegisterResult{}, err
	}
	f := out.GetFields()
	return service.RegisterResult{
		Code:     f["code"].GetStringValue(),
		Location: f["location"].GetStringValue(),
		BlobKey:  f["blob_key"].GetStringValue(),
		EventID:  f["event_id"].GetStringValue(),
		Journal:  f["journal"].GetStringValue(),
	}, nil
}

func stackInfo(s *structpb.Struct) service.StackInfo {
	f := s.GetFields()
	info := service.StackInfo{
		Name:   f["name"].GetStringValue(),
		Size:   int(f["size"].GetNumberValue()),
		Locked: f["locked"].GetBoolValue(),
		Parked: f["parked"].GetBoolValue(),
	}
	for _, e := range f["elements"].GetListValue().GetValues() {
		info.Elements = append(info.Elements, e.GetStringValue())
	}
	return info
}
