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

// Command ebpfmand is the node-local daemon: it owns the bpffs pin tree,
// the state store, and every Program/Link/DispatcherSlot mutation, all
// serialized through one command loop goroutine. RPC and CLI clients
// reach it over a Unix-domain socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ebpfmand/ebpfmand/internal/command"
	"github.com/ebpfmand/ebpfmand/internal/config"
	"github.com/ebpfmand/ebpfmand/internal/csi"
	"github.com/ebpfmand/ebpfmand/internal/dispatcher"
	"github.com/ebpfmand/ebpfmand/internal/fs"
	"github.com/ebpfmand/ebpfmand/internal/kernel"
	"github.com/ebpfmand/ebpfmand/internal/netlinkutil"
	"github.com/ebpfmand/ebpfmand/internal/oci"
	"github.com/ebpfmand/ebpfmand/internal/program"
	"github.com/ebpfmand/ebpfmand/internal/rpcapi"
	"github.com/ebpfmand/ebpfmand/internal/state"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "ebpfmand",
		Short: "node-local eBPF program lifecycle daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "/etc/ebpfmand/ebpfmand.toml", "path to the daemon's TOML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	layout := fs.New(cfg.RuntimeRoot, cfg.StateDir, cfg.ImageRoot, cfg.CSISocketPath)
	if err := layout.EnsureBpfFSMounted(); err != nil {
		return fmt.Errorf("mount bpffs: %w", err)
	}

	store, err := state.Open(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()
	repo := state.NewRepository(store)

	snap, err := repo.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("load state snapshot: %w", err)
	}

	var verifier oci.SignatureVerifier
	if cfg.RequireSignedImages || !cfg.AllowUnsigned {
		tuf, err := oci.NewTUFVerifier(ctx, log.WithName("oci"))
		if err != nil {
			return fmt.Errorf("build signature verifier: %w", err)
		}
		if err := tuf.RequireStartup(cfg.RequireSignedImages); err != nil {
			return fmt.Errorf("signature verification: %w", err)
		}
		verifier = tuf
	} else {
		verifier = oci.NoopVerifier{}
	}

	imageStore := oci.NewStore(cfg.ImageRoot, verifier, log.WithName("oci"))
	images := oci.NewCoalescingStore(imageStore)

	kern := kernel.NewImpl(log.WithName("kernel"))
	nl := netlinkutil.New()

	dispatch := dispatcher.NewEngine(kern, images, layout, nl, repo, log.WithName("dispatcher"))
	dispatch.LoadSnapshot(snap)

	mgr := program.NewManager(kern, images, layout, repo, dispatch, log.WithName("program"))
	mgr.LoadSnapshot(snap)

	if len(cfg.StaticPrograms) > 0 {
		if _, err := mgr.LoadStatic(ctx, cfg.StaticPrograms); err != nil {
			return fmt.Errorf("load static programs: %w", err)
		}
	}

	loop := command.NewLoop(64, log.WithName("command"))
	go loop.Run(ctx)

	srv, lis, err := rpcapi.Listen(cfg.RPCSocketPath, loop, mgr, log.WithName("rpcapi"))
	if err != nil {
		return fmt.Errorf("start rpc listener: %w", err)
	}

	csiStub := csi.NewStub(cfg.CSISocketPath)
	go func() {
		if err := csiStub.Serve(ctx); err != nil {
			log.V(1).Info("csi boundary not served", "reason", err.Error())
		}
	}()

	log.Info("ebpfmand starting", "socket", cfg.RPCSocketPath)
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Error(err, "rpc server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("ebpfmand shutting down")
	srv.GracefulStop()
	return nil
}

func newLogger(level string) (logr.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(parseLevel(level))
	zl, err := zc.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}
