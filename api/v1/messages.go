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

// Package v1 is the wire contract between the daemon and its RPC
// clients (the CLI, or any other caller over the Unix-domain socket):
// one message type per Program Manager operation, marshaled over
// google.golang.org/grpc with the standard protobuf struct-tag
// reflection the runtime falls back to for hand-declared message types
// that predate running a .proto file through protoc-gen-go.
package v1

import "fmt"

type Credentials struct {
	Username string `protobuf:"bytes,1,opt,name=username,proto3" json:"username,omitempty"`
	Password string `protobuf:"bytes,2,opt,name=password,proto3" json:"password,omitempty"`
}

func (m *Credentials) Reset()         { *m = Credentials{} }
func (m *Credentials) String() string { return fmt.Sprintf("%+v", *m) }
func (m *Credentials) ProtoMessage()  {}

// LoadRequest carries exactly one of (ImageUrl, FilePath) per
// location_type, mirroring model.Source.
type LoadRequest struct {
	Kind        string            `protobuf:"bytes,1,opt,name=kind,proto3" json:"kind,omitempty"`
	ImageUrl    string            `protobuf:"bytes,2,opt,name=image_url,json=imageUrl,proto3" json:"image_url,omitempty"`
	PullPolicy  string            `protobuf:"bytes,3,opt,name=pull_policy,json=pullPolicy,proto3" json:"pull_policy,omitempty"`
	Credentials *Credentials      `protobuf:"bytes,4,opt,name=credentials,proto3" json:"credentials,omitempty"`
	FilePath    string            `protobuf:"bytes,5,opt,name=file_path,json=filePath,proto3" json:"file_path,omitempty"`
	FnName      string            `protobuf:"bytes,6,opt,name=fn_name,json=fnName,proto3" json:"fn_name,omitempty"`
	GlobalData  map[string][]byte `protobuf:"bytes,7,rep,name=global_data,json=globalData,proto3" json:"global_data,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
	Metadata    map[string]string `protobuf:"bytes,8,rep,name=metadata,proto3" json:"metadata,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
	MapOwnerId  uint32            `protobuf:"varint,9,opt,name=map_owner_id,json=mapOwnerId,proto3" json:"map_owner_id,omitempty"`
}

func (m *LoadRequest) Reset()         { *m = LoadRequest{} }
func (m *LoadRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *LoadRequest) ProtoMessage()  {}

type ProgramInfo struct {
	KernelId uint32            `protobuf:"varint,1,opt,name=kernel_id,json=kernelId,proto3" json:"kernel_id,omitempty"`
	Kind     string            `protobuf:"bytes,2,opt,name=kind,proto3" json:"kind,omitempty"`
	State    string            `protobuf:"bytes,3,opt,name=state,proto3" json:"state,omitempty"`
	Metadata map[string]string `protobuf:"bytes,4,rep,name=metadata,proto3" json:"metadata,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
}

func (m *ProgramInfo) Reset()         { *m = ProgramInfo{} }
func (m *ProgramInfo) String() string { return fmt.Sprintf("%+v", *m) }
func (m *ProgramInfo) ProtoMessage()  {}

// AttachRequest carries the union of every kind-specific attach
// parameter; exactly the fields relevant to KernelId's Program kind are
// meaningful, mirroring kernel.AttachParams.
type AttachRequest struct {
	KernelId  uint32 `protobuf:"varint,1,opt,name=kernel_id,json=kernelId,proto3" json:"kernel_id,omitempty"`
	Kind      string `protobuf:"bytes,2,opt,name=kind,proto3" json:"kind,omitempty"`
	NetnsId   uint64 `protobuf:"varint,3,opt,name=netns_id,json=netnsId,proto3" json:"netns_id,omitempty"`
	IfIndex   int32  `protobuf:"varint,4,opt,name=if_index,json=ifIndex,proto3" json:"if_index,omitempty"`
	IfName    string `protobuf:"bytes,5,opt,name=if_name,json=ifName,proto3" json:"if_name,omitempty"`
	Priority  int32  `protobuf:"varint,6,opt,name=priority,proto3" json:"priority,omitempty"`
	Direction string `protobuf:"bytes,7,opt,name=direction,proto3" json:"direction,omitempty"`
	ProceedOn uint32 `protobuf:"varint,8,opt,name=proceed_on,json=proceedOn,proto3" json:"proceed_on,omitempty"`
	Mode      string `protobuf:"bytes,9,opt,name=mode,proto3" json:"mode,omitempty"`

	TracepointName string `protobuf:"bytes,10,opt,name=tracepoint_name,json=tracepointName,proto3" json:"tracepoint_name,omitempty"`

	FnName       string `protobuf:"bytes,11,opt,name=fn_name,json=fnName,proto3" json:"fn_name,omitempty"`
	Offset       uint64 `protobuf:"varint,12,opt,name=offset,proto3" json:"offset,omitempty"`
	Target       string `protobuf:"bytes,13,opt,name=target,proto3" json:"target,omitempty"`
	Pid          int64  `protobuf:"varint,14,opt,name=pid,proto3" json:"pid,omitempty"`
	ContainerPid int64  `protobuf:"varint,15,opt,name=container_pid,json=containerPid,proto3" json:"container_pid,omitempty"`
	RetProbe     bool   `protobuf:"varint,16,opt,name=ret_probe,json=retProbe,proto3" json:"ret_probe,omitempty"`

	AttachFn string `protobuf:"bytes,17,opt,name=attach_fn,json=attachFn,proto3" json:"attach_fn,omitempty"`

	Metadata map[string]string `protobuf:"bytes,18,rep,name=metadata,proto3" json:"metadata,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
}

func (m *AttachRequest) Reset()         { *m = AttachRequest{} }
func (m *AttachRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *AttachRequest) ProtoMessage()  {}

type LinkInfo struct {
	LinkId   string            `protobuf:"bytes,1,opt,name=link_id,json=linkId,proto3" json:"link_id,omitempty"`
	KernelId uint32            `protobuf:"varint,2,opt,name=kernel_id,json=kernelId,proto3" json:"kernel_id,omitempty"`
	Kind     string            `protobuf:"bytes,3,opt,name=kind,proto3" json:"kind,omitempty"`
	Position int32             `protobuf:"varint,4,opt,name=position,proto3" json:"position,omitempty"`
	Metadata map[string]string `protobuf:"bytes,5,rep,name=metadata,proto3" json:"metadata,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
}

func (m *LinkInfo) Reset()         { *m = LinkInfo{} }
func (m *LinkInfo) String() string { return fmt.Sprintf("%+v", *m) }
func (m *LinkInfo) ProtoMessage()  {}

type DetachRequest struct {
	LinkId string `protobuf:"bytes,1,opt,name=link_id,json=linkId,proto3" json:"link_id,omitempty"`
}

func (m *DetachRequest) Reset()         { *m = DetachRequest{} }
func (m *DetachRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *DetachRequest) ProtoMessage()  {}

type UnloadRequest struct {
	KernelId uint32 `protobuf:"varint,1,opt,name=kernel_id,json=kernelId,proto3" json:"kernel_id,omitempty"`
}

func (m *UnloadRequest) Reset()         { *m = UnloadRequest{} }
func (m *UnloadRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *UnloadRequest) ProtoMessage()  {}

type GetRequest struct {
	KernelId uint32 `protobuf:"varint,1,opt,name=kernel_id,json=kernelId,proto3" json:"kernel_id,omitempty"`
}

func (m *GetRequest) Reset()         { *m = GetRequest{} }
func (m *GetRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *GetRequest) ProtoMessage()  {}

type ListRequest struct {
	Kind             string `protobuf:"bytes,1,opt,name=kind,proto3" json:"kind,omitempty"`
	MetadataKey      string `protobuf:"bytes,2,opt,name=metadata_key,json=metadataKey,proto3" json:"metadata_key,omitempty"`
	MetadataValue    string `protobuf:"bytes,3,opt,name=metadata_value,json=metadataValue,proto3" json:"metadata_value,omitempty"`
	ManagerOwnedOnly bool   `protobuf:"varint,4,opt,name=manager_owned_only,json=managerOwnedOnly,proto3" json:"manager_owned_only,omitempty"`
}

func (m *ListRequest) Reset()         { *m = ListRequest{} }
func (m *ListRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (m *ListRequest) ProtoMessage()  {}

type ListResponse struct {
	Programs []*ProgramInfo `protobuf:"bytes,1,rep,name=programs,proto3" json:"programs,omitempty"`
}

func (m *ListResponse) Reset()         { *m = ListResponse{} }
func (m *ListResponse) String() string { return fmt.Sprintf("%+v", *m) }
func (m *ListResponse) ProtoMessage()  {}
