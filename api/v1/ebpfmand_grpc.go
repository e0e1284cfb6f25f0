/*
Copyright 2022.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// LoaderClient is the client API for the Loader service.
type LoaderClient interface {
	Load(ctx context.Context, in *LoadRequest, opts ...grpc.CallOption) (*ProgramInfo, error)
	Attach(ctx context.Context, in *AttachRequest, opts ...grpc.CallOption) (*LinkInfo, error)
	Detach(ctx context.Context, in *DetachRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Unload(ctx context.Context, in *UnloadRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
	List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error)
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*ProgramInfo, error)
}

type loaderClient struct {
	cc grpc.ClientConnInterface
}

func NewLoaderClient(cc grpc.ClientConnInterface) LoaderClient {
	return &loaderClient{cc}
}

func (c *loaderClient) Load(ctx context.Context, in *LoadRequest, opts ...grpc.CallOption) (*ProgramInfo, error) {
	out := new(ProgramInfo)
	if err := c.cc.Invoke(ctx, Loader_Load_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *loaderClient) Attach(ctx context.Context, in *AttachRequest, opts ...grpc.CallOption) (*LinkInfo, error) {
	out := new(LinkInfo)
	if err := c.cc.Invoke(ctx, Loader_Attach_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *loaderClient) Detach(ctx context.Context, in *DetachRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, Loader_Detach_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *loaderClient) Unload(ctx context.Context, in *UnloadRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, Loader_Unload_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *loaderClient) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.cc.Invoke(ctx, Loader_List_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *loaderClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*ProgramInfo, error) {
	out := new(ProgramInfo)
	if err := c.cc.Invoke(ctx, Loader_Get_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

const (
	Loader_Load_FullMethodName   = "/ebpfmand.v1.Loader/Load"
	Loader_Attach_FullMethodName = "/ebpfmand.v1.Loader/Attach"
	Loader_Detach_FullMethodName = "/ebpfmand.v1.Loader/Detach"
	Loader_Unload_FullMethodName = "/ebpfmand.v1.Loader/Unload"
	Loader_List_FullMethodName   = "/ebpfmand.v1.Loader/List"
	Loader_Get_FullMethodName    = "/ebpfmand.v1.Loader/Get"
)

// LoaderServer is the server API for the Loader service. Every method
// maps directly onto one program.Manager operation; handlers hop through
// command.Submit before calling into the manager, never touching it from
// the grpc goroutine directly.
type LoaderServer interface {
	Load(context.Context, *LoadRequest) (*ProgramInfo, error)
	Attach(context.Context, *AttachRequest) (*LinkInfo, error)
	Detach(context.Context, *DetachRequest) (*emptypb.Empty, error)
	Unload(context.Context, *UnloadRequest) (*emptypb.Empty, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
	Get(context.Context, *GetRequest) (*ProgramInfo, error)
}

// UnimplementedLoaderServer can be embedded to satisfy LoaderServer
// without implementing every method up front.
type UnimplementedLoaderServer struct{}

func (UnimplementedLoaderServer) Load(context.Context, *LoadRequest) (*ProgramInfo, error) {
	return nil, status.Error(codes.Unimplemented, "method Load not implemented")
}
func (UnimplementedLoaderServer) Attach(context.Context, *AttachRequest) (*LinkInfo, error) {
	return nil, status.Error(codes.Unimplemented, "method Attach not implemented")
}
func (UnimplementedLoaderServer) Detach(context.Context, *DetachRequest) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Detach not implemented")
}
func (UnimplementedLoaderServer) Unload(context.Context, *UnloadRequest) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Unload not implemented")
}
func (UnimplementedLoaderServer) List(context.Context, *ListRequest) (*ListResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method List not implemented")
}
func (UnimplementedLoaderServer) Get(context.Context, *GetRequest) (*ProgramInfo, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}

func RegisterLoaderServer(s grpc.ServiceRegistrar, srv LoaderServer) {
	s.RegisterService(&Loader_ServiceDesc, srv)
}

func _Loader_Load_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LoadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoaderServer).Load(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Loader_Load_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LoaderServer).Load(ctx, req.(*LoadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Loader_Attach_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AttachRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoaderServer).Attach(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Loader_Attach_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LoaderServer).Attach(ctx, req.(*AttachRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Loader_Detach_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DetachRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoaderServer).Detach(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Loader_Detach_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LoaderServer).Detach(ctx, req.(*DetachRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Loader_Unload_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UnloadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoaderServer).Unload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Loader_Unload_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LoaderServer).Unload(ctx, req.(*UnloadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Loader_List_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoaderServer).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Loader_List_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LoaderServer).List(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Loader_Get_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoaderServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Loader_Get_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LoaderServer).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Loader_ServiceDesc is the grpc.ServiceDesc for Loader; used by both
// RegisterLoaderServer and any custom rpc framework.
var Loader_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "ebpfmand.v1.Loader",
	HandlerType: (*LoaderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: _Loader_Load_Handler},
		{MethodName: "Attach", Handler: _Loader_Attach_Handler},
		{MethodName: "Detach", Handler: _Loader_Detach_Handler},
		{MethodName: "Unload", Handler: _Loader_Unload_Handler},
		{MethodName: "List", Handler: _Loader_List_Handler},
		{MethodName: "Get", Handler: _Loader_Get_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ebpfmand/v1/ebpfmand.proto",
}
