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

// Package command is the single-owner serializer every Program Manager
// and Dispatcher Engine mutation runs through. RPC handlers and the CLI's
// in-process path never touch those packages directly; they Submit a
// closure and block for its reply. Blocking work (image pulls, bpffs
// syscalls) runs inline on the loop's one goroutine, exactly like the
// mutation path itself — there is no separate worker pool to keep in
// sync with it.
package command

import (
	"context"

	"github.com/go-logr/logr"
)

// Loop owns the bounded job channel. Exactly one goroutine may call Run
// for a given Loop; that goroutine is the single writer every
// Program/Link/DispatcherSlot mutation is serialized through.
type Loop struct {
	jobs chan func()
	log  logr.Logger
}

// NewLoop builds a Loop with a bounded job channel of the given capacity.
// Submit blocks once the channel is full, applying natural backpressure
// to callers rather than letting queued work grow without bound.
func NewLoop(capacity int, log logr.Logger) *Loop {
	return &Loop{
		jobs: make(chan func(), capacity),
		log:  log,
	}
}

// Run drains jobs until ctx is cancelled. Call it from exactly one
// goroutine, started once at daemon startup.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.log.Info("command loop shutting down")
			return
		case job := <-l.jobs:
			job()
		}
	}
}

type submitResult[T any] struct {
	val T
	err error
}

// Submit enqueues fn to run on the loop's goroutine and blocks until it
// completes, returning whatever fn returned. If ctx is done before fn is
// queued or before its result arrives, Submit returns ctx.Err() instead;
// a job already queued still runs. Safe to call concurrently
// from many goroutines; Submit itself never mutates manager state, it
// only hands a closure to the one goroutine that does.
func Submit[T any](ctx context.Context, l *Loop, fn func(ctx context.Context) (T, error)) (T, error) {
	reply := make(chan submitResult[T], 1)
	job := func() {
		v, err := fn(ctx)
		reply <- submitResult[T]{val: v, err: err}
	}

	select {
	case l.jobs <- job:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// SubmitVoid is Submit for closures with no result value worth reporting
// beyond success/failure.
func SubmitVoid(ctx context.Context, l *Loop, fn func(ctx context.Context) error) error {
	_, err := Submit(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Pull schedules a cooperative background task (an image pull) on its
// own goroutine; the task must report any resulting mutation back
// through Submit rather than touching manager state directly, preserving
// the single-writer discipline for everything that isn't itself
// read-only network I/O.
func Pull(task func()) {
	go task()
}
