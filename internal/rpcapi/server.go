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

// Package rpcapi hosts the grpc service every RPC client talks to over
// the daemon's Unix-domain socket. Handlers translate wire messages to
// and from the Program Manager's request/result types and never touch
// the manager directly: every call is dispatched through a command.Loop
// so manager mutations stay single-writer regardless of how many RPC
// clients are connected concurrently.
package rpcapi

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	v1 "github.com/ebpfmand/ebpfmand/api/v1"
	"github.com/ebpfmand/ebpfmand/internal/command"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/internal/program"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"

	"github.com/go-logr/logr"
)

// Server implements v1.LoaderServer against a program.Manager, serialising
// every call through loop.
type Server struct {
	v1.UnimplementedLoaderServer

	loop *command.Loop
	mgr  *program.Manager
	log  logr.Logger
}

func NewServer(loop *command.Loop, mgr *program.Manager, log logr.Logger) *Server {
	return &Server{loop: loop, mgr: mgr, log: log}
}

func (s *Server) Load(ctx context.Context, in *v1.LoadRequest) (*v1.ProgramInfo, error) {
	kind, err := model.ProgramKindFromString(in.Kind)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	req := program.LoadRequest{
		Kind:       kind,
		FnName:     in.FnName,
		GlobalData: in.GlobalData,
		Metadata:   in.Metadata,
		MapOwnerID: in.MapOwnerId,
	}
	if in.FilePath != "" {
		req.Source = model.Source{Location: model.LocationFile, FilePath: in.FilePath}
	} else {
		creds := credentialsFromWire(in.Credentials)
		req.Source = model.Source{
			Location:    model.LocationImage,
			ImageURL:    in.ImageUrl,
			PullPolicy:  pullPolicyFromWire(in.PullPolicy),
			Credentials: creds,
		}
	}

	prog, err := command.Submit(ctx, s.loop, func(ctx context.Context) (model.Program, error) {
		return s.mgr.Load(ctx, req)
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return programToWire(prog), nil
}

func (s *Server) Attach(ctx context.Context, in *v1.AttachRequest) (*v1.LinkInfo, error) {
	kind, err := model.ProgramKindFromString(in.Kind)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	req := program.AttachRequest{
		KernelID:       in.KernelId,
		Kind:           kind,
		NetnsID:        in.NetnsId,
		IfIndex:        int(in.IfIndex),
		IfName:         in.IfName,
		Priority:       in.Priority,
		Direction:      directionFromWire(in.Direction),
		ProceedOn:      in.ProceedOn,
		Mode:           xdpModeFromWire(in.Mode),
		TracepointName: in.TracepointName,
		FnName:         in.FnName,
		Offset:         in.Offset,
		Target:         in.Target,
		PID:            in.Pid,
		ContainerPID:   in.ContainerPid,
		RetProbe:       in.RetProbe,
		AttachFn:       in.AttachFn,
		Metadata:       in.Metadata,
	}

	link, err := command.Submit(ctx, s.loop, func(ctx context.Context) (model.Link, error) {
		return s.mgr.Attach(ctx, req)
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return linkToWire(link), nil
}

func (s *Server) Detach(ctx context.Context, in *v1.DetachRequest) (*emptypb.Empty, error) {
	if err := command.SubmitVoid(ctx, s.loop, func(ctx context.Context) error {
		return s.mgr.Detach(ctx, in.LinkId)
	}); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Unload(ctx context.Context, in *v1.UnloadRequest) (*emptypb.Empty, error) {
	if err := command.SubmitVoid(ctx, s.loop, func(ctx context.Context) error {
		return s.mgr.Unload(ctx, in.KernelId)
	}); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) List(ctx context.Context, in *v1.ListRequest) (*v1.ListResponse, error) {
	filter := program.ListFilter{
		MetadataKey:      in.MetadataKey,
		MetadataValue:    in.MetadataValue,
		ManagerOwnedOnly: in.ManagerOwnedOnly,
	}
	if in.Kind != "" {
		kind, err := model.ProgramKindFromString(in.Kind)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		filter.Kind = kind
	}

	progs, err := command.Submit(ctx, s.loop, func(ctx context.Context) ([]model.Program, error) {
		return s.mgr.List(ctx, filter)
	})
	if err != nil {
		return nil, toStatus(err)
	}

	out := &v1.ListResponse{Programs: make([]*v1.ProgramInfo, 0, len(progs))}
	for _, p := range progs {
		out.Programs = append(out.Programs, programToWire(p))
	}
	return out, nil
}

func (s *Server) Get(ctx context.Context, in *v1.GetRequest) (*v1.ProgramInfo, error) {
	prog, err := command.Submit(ctx, s.loop, func(ctx context.Context) (model.Program, error) {
		return s.mgr.Get(in.KernelId)
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return programToWire(prog), nil
}

// toStatus maps the boundary error taxonomy onto grpc status codes so
// clients can branch on codes.Code the way any other grpc service allows.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(kindToCode(ebpferrors.KindOf(err)), err.Error())
}

func kindToCode(k ebpferrors.Kind) codes.Code {
	switch k {
	case ebpferrors.KindInvalidArgument:
		return codes.InvalidArgument
	case ebpferrors.KindNotFound, ebpferrors.KindInterfaceNotFound, ebpferrors.KindFunctionNotFound, ebpferrors.KindMapOwnerNotFound:
		return codes.NotFound
	case ebpferrors.KindAlreadyExists:
		return codes.AlreadyExists
	case ebpferrors.KindPermissionDenied, ebpferrors.KindNotAuthorized:
		return codes.PermissionDenied
	case ebpferrors.KindResourceExhausted, ebpferrors.KindTooManyPrograms:
		return codes.ResourceExhausted
	case ebpferrors.KindFailedPrecondition, ebpferrors.KindAttachPointBusy, ebpferrors.KindMapOwnerInUse, ebpferrors.KindDispatcherImageMissingProgram, ebpferrors.KindIncompatibleQdisc:
		return codes.FailedPrecondition
	case ebpferrors.KindUnavailable, ebpferrors.KindImageUnavailable:
		return codes.Unavailable
	case ebpferrors.KindDataLoss, ebpferrors.KindImageIntegrity:
		return codes.DataLoss
	case ebpferrors.KindVerifierRejected, ebpferrors.KindProgramTypeMismatch:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func credentialsFromWire(c *v1.Credentials) *model.Credentials {
	if c == nil {
		return nil
	}
	return &model.Credentials{Username: c.Username, Password: c.Password}
}

func pullPolicyFromWire(s string) model.PullPolicy {
	switch s {
	case "Always":
		return model.PullAlways
	case "Never":
		return model.PullNever
	default:
		return model.PullIfNotPresent
	}
}

func directionFromWire(s string) model.Direction {
	switch s {
	case "ingress":
		return model.DirectionIngress
	case "egress":
		return model.DirectionEgress
	default:
		return model.DirectionUnspecified
	}
}

func xdpModeFromWire(s string) model.XDPMode {
	switch s {
	case "drv":
		return model.XDPModeDRV
	case "hw":
		return model.XDPModeHW
	default:
		return model.XDPModeSKB
	}
}

func programToWire(p model.Program) *v1.ProgramInfo {
	return &v1.ProgramInfo{
		KernelId: p.KernelID,
		Kind:     p.Kind.String(),
		State:    p.State.String(),
		Metadata: p.Metadata,
	}
}

func linkToWire(l model.Link) *v1.LinkInfo {
	return &v1.LinkInfo{
		LinkId:   l.LinkID,
		KernelId: l.KernelID,
		Kind:     l.Kind.String(),
		Position: int32(l.Position),
		Metadata: l.Metadata,
	}
}
