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

// Command ebpfmanctl is the operator-facing client for ebpfmand's
// Unix-domain RPC socket: one subcommand per Program Manager operation.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	v1 "github.com/ebpfmand/ebpfmand/api/v1"
	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/internal/table"
)

func main() {
	var socketPath string

	root := &cobra.Command{
		Use:   "ebpfmanctl",
		Short: "client for the ebpfmand node daemon",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "/run/ebpfmand/ebpfmand.sock", "daemon rpc socket path")

	root.AddCommand(
		newLoadCmd(&socketPath),
		newAttachCmd(&socketPath),
		newDetachCmd(&socketPath),
		newUnloadCmd(&socketPath),
		newListCmd(&socketPath),
		newGetCmd(&socketPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial(ctx context.Context, socketPath string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, "unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
}

func withClient(socketPath string, fn func(ctx context.Context, c v1.LoaderClient) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := dial(ctx, socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	return fn(ctx, v1.NewLoaderClient(conn))
}

func newLoadCmd(socketPath *string) *cobra.Command {
	var (
		kind, image, filePath, fnName, pullPolicy string
		metadata                                  []string
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "load a program from an OCI image or a local file",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &v1.LoadRequest{
				Kind:       kind,
				ImageUrl:   image,
				FilePath:   filePath,
				FnName:     fnName,
				PullPolicy: pullPolicy,
				Metadata:   parseKV(metadata),
			}
			return withClient(*socketPath, func(ctx context.Context, c v1.LoaderClient) error {
				info, err := c.Load(ctx, req)
				if err != nil {
					return err
				}
				table.RenderPrograms(os.Stdout, []model.Program{programFromWire(info)})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "program kind (xdp, tc, tcx, tracepoint, kprobe, kretprobe, uprobe, uretprobe, fentry, fexit)")
	cmd.Flags().StringVar(&image, "image", "", "OCI image url for the bytecode")
	cmd.Flags().StringVar(&filePath, "path", "", "local file path for the bytecode")
	cmd.Flags().StringVar(&fnName, "fn-name", "", "BPF entry function name")
	cmd.Flags().StringVar(&pullPolicy, "pull-policy", "IfNotPresent", "image pull policy (Always, IfNotPresent, Never)")
	cmd.Flags().StringArrayVar(&metadata, "metadata", nil, "key=value metadata, repeatable")
	return cmd
}

func newAttachCmd(socketPath *string) *cobra.Command {
	var (
		kernelID                          uint32
		kind, ifName, direction, mode     string
		priority                          int32
	)
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "attach a loaded program to an attach point",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &v1.AttachRequest{
				KernelId:  kernelID,
				Kind:      kind,
				IfName:    ifName,
				Direction: direction,
				Mode:      mode,
				Priority:  priority,
			}
			return withClient(*socketPath, func(ctx context.Context, c v1.LoaderClient) error {
				link, err := c.Attach(ctx, req)
				if err != nil {
					return err
				}
				fmt.Printf("attached link %s\n", link.LinkId)
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&kernelID, "id", 0, "kernel id of the program to attach")
	cmd.Flags().StringVar(&kind, "kind", "", "program kind")
	cmd.Flags().StringVar(&ifName, "iface", "", "network interface name")
	cmd.Flags().StringVar(&direction, "direction", "", "tc direction (ingress, egress)")
	cmd.Flags().StringVar(&mode, "mode", "skb", "xdp mode (skb, drv, hw)")
	cmd.Flags().Int32Var(&priority, "priority", 0, "chain priority")
	return cmd
}

func newDetachCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <link-id>",
		Short: "detach a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(*socketPath, func(ctx context.Context, c v1.LoaderClient) error {
				_, err := c.Detach(ctx, &v1.DetachRequest{LinkId: args[0]})
				return err
			})
		},
	}
}

func newUnloadCmd(socketPath *string) *cobra.Command {
	var kernelID uint32
	cmd := &cobra.Command{
		Use:   "unload",
		Short: "unload a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(*socketPath, func(ctx context.Context, c v1.LoaderClient) error {
				_, err := c.Unload(ctx, &v1.UnloadRequest{KernelId: kernelID})
				return err
			})
		},
	}
	cmd.Flags().Uint32Var(&kernelID, "id", 0, "kernel id of the program to unload")
	return cmd
}

func newListCmd(socketPath *string) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "list programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(*socketPath, func(ctx context.Context, c v1.LoaderClient) error {
				resp, err := c.List(ctx, &v1.ListRequest{Kind: kind})
				if err != nil {
					return err
				}
				progs := make([]model.Program, 0, len(resp.Programs))
				for _, p := range resp.Programs {
					progs = append(progs, programFromWire(p))
				}
				table.RenderPrograms(os.Stdout, progs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by program kind")
	return cmd
}

func newGetCmd(socketPath *string) *cobra.Command {
	var kernelID uint32
	cmd := &cobra.Command{
		Use:   "get",
		Short: "show one program's detail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(*socketPath, func(ctx context.Context, c v1.LoaderClient) error {
				info, err := c.Get(ctx, &v1.GetRequest{KernelId: kernelID})
				if err != nil {
					return err
				}
				table.RenderProgram(os.Stdout, programFromWire(info))
				return nil
			})
		},
	}
	cmd.Flags().Uint32Var(&kernelID, "id", 0, "kernel id of the program")
	return cmd
}

func parseKV(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// programFromWire builds just enough of a model.Program to drive table
// rendering from a ProgramInfo; fields the wire summary does not carry
// (bytecode, pin paths) are left at their zero value.
func programFromWire(p *v1.ProgramInfo) model.Program {
	kind, _ := model.ProgramKindFromString(p.Kind)
	state := model.StatePreLoad
	if p.State == "loaded" {
		state = model.StateLoaded
	}
	return model.Program{
		KernelID: p.KernelId,
		Kind:     kind,
		State:    state,
		Metadata: p.Metadata,
	}
}
