// Package api exposes the command surface over gRPC and the ops endpoints
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "relay.v1.CommandService"

// Method names of the command service.
const (
	MethodProvision     = "Provision"
	MethodCleanup       = "Cleanup"
	MethodConfigure     = "Configure"
	MethodSettingsMenu  = "SettingsMenu"
	MethodBeginSetting  = "BeginSetting"
	MethodSubmitSetting = "SubmitSetting"
	MethodTriggerPoll   = "TriggerPoll"
)

// Commands is the command surface bound by the gRPC server.
type Commands interface {
	Provision(ctx context.Context, c service.Caller, purpose string) *service.CommandResult
	Cleanup(ctx context.Context, c service.Caller, channelID string) *service.CommandResult
	Configure(ctx context.Context, c service.Caller, field, value string) *service.CommandResult
	SettingsMenu(ctx context.Context, c service.Caller) *service.CommandResult
	BeginSetting(ctx context.Context, c service.Caller, field string) *service.CommandResult
	SubmitSetting(ctx context.Context, c service.Caller, sessionID, value string) *service.CommandResult
	TriggerPoll(ctx context.Context) *service.CommandResult
}

// CommandServer adapts Commands to the wire. Requests and responses are
// google.protobuf.Struct messages.
type CommandServer struct {
	commands Commands
}

func NewCommandServer(c Commands) *CommandServer {
	return &CommandServer{commands: c}
}

// Register adds the command service to s.
func Register(s *grpc.Server, srv *CommandServer) {
	s.RegisterService(&serviceDesc, srv)
}

type handlerFunc func(ctx context.Context, req *structpb.Struct) (*service.CommandResult, error)

func (s *CommandServer) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		MethodProvision: func(ctx context.Context, req *structpb.Struct) (*service.CommandResult, error) {
			c, err := callerFrom(req)
			if err != nil {
				return nil, err
			}
			purpose, err := requireString(req, "purpose")
			if err != nil {
				return nil, err
			}
			return s.commands.Provision(ctx, c, purpose), nil
		},
		MethodCleanup: func(ctx context.Context, req *structpb.Struct) (*service.CommandResult, error) {
			c, err := callerFrom(req)
			if err != nil {
				return nil, err
			}
			channelID, err := requireString(req, "channel_id")
			if err != nil {
				return nil, err
			}
			return s.commands.Cleanup(ctx, c, channelID), nil
		},
		MethodConfigure: func(ctx context.Context, req *structpb.Struct) (*service.CommandResult, error) {
			c, err := callerFrom(req)
			if err != nil {
				return nil, err
			}
			field, err := requireString(req, "field")
			if err != nil {
				return nil, err
			}
			return s.commands.Configure(ctx, c, field, stringField(req, "value")), nil
		},
		MethodSettingsMenu: func(ctx context.Context, req *structpb.Struct) (*service.CommandResult, error) {
			c, err := callerFrom(req)
			if err != nil {
				return nil, err
			}
			return s.commands.SettingsMenu(ctx, c), nil
		},
		MethodBeginSetting: func(ctx context.Context, req *structpb.Struct) (*service.CommandResult, error) {
			c, err := callerFrom(req)
			if err != nil {
				return nil, err
			}
			field, err := requireString(req, "field")
			if err != nil {
				return nil, err
			}
			return s.commands.BeginSetting(ctx, c, field), nil
		},
		MethodSubmitSetting: func(ctx context.Context, req *structpb.Struct) (*service.CommandResult, error) {
			c, err := callerFrom(req)
			if err != nil {
				return nil, err
			}
			sessionID, err := requireString(req, "session_id")
			if err != nil {
				return nil, err
			}
			return s.commands.SubmitSetting(ctx, c, sessionID, stringField(req, "value")), nil
		},
		MethodTriggerPoll: func(ctx context.Context, _ *structpb.Struct) (*service.CommandResult, error) {
			return s.commands.TriggerPoll(ctx), nil
		},
	}
}

func (s *CommandServer) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	h, ok := s.handlers()[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	res, err := h(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := toStruct(res)
	if err != nil {
		log.Error().Err(err).Str("method", method).Msg("Failed to encode command result")
		return nil, status.Error(codes.Internal, "Internal server error")
	}
	log.Info().Str("method", method).Bool("ok", res.OK).Str("code", res.Code).Msg("Command handled")
	return out, nil
}

func callerFrom(req *structpb.Struct) (service.Caller, error) {
	tenantID, err := requireString(req, "tenant_id")
	if err != nil {
		return service.Caller{}, err
	}
	userID, err := requireString(req, "user_id")
	if err != nil {
		return service.Caller{}, err
	}
	return service.Caller{
		TenantID:    tenantID,
		UserID:      userID,
		DisplayName: stringField(req, "display_name"),
		IsAdmin:     req.GetFields()["is_admin"].GetBoolValue(),
	}, nil
}

func stringField(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func requireString(req *structpb.Struct, key string) (string, error) {
	v := stringField(req, key)
	if v == "" {
		return "", status.Error(codes.InvalidArgument, fmt.Sprintf("%s is required", key))
	}
	return v, nil
}

// toStruct converts a result through its JSON form so nested menus and
// reports keep their field names.
func toStruct(res *service.CommandResult) (*structpb.Struct, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

type commandService interface {
	invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(commandService).invoke(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(commandService).invoke(ctx, method, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*commandService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodProvision, Handler: unaryHandler(MethodProvision)},
		{MethodName: MethodCleanup, Handler: unaryHandler(MethodCleanup)},
		{MethodName: MethodConfigure, Handler: unaryHandler(MethodConfigure)},
		{MethodName: MethodSettingsMenu, Handler: unaryHandler(MethodSettingsMenu)},
		{MethodName: MethodBeginSetting, Handler: unaryHandler(MethodBeginSetting)},
		{MethodName: MethodSubmitSetting, Handler: unaryHandler(MethodSubmitSetting)},
		{MethodName: MethodTriggerPoll, Handler: unaryHandler(MethodTriggerPoll)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/v1/command.proto",
}

// CommandClient calls the command service.
type CommandClient struct {
	cc grpc.ClientConnInterface
}

func NewCommandClient(cc grpc.ClientConnInterface) *CommandClient {
	return &CommandClient{cc: cc}
}

// Call invokes method with req and returns the decoded result fields.
func (c *CommandClient) Call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
