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

// Package ebpferrors defines the boundary error taxonomy shared by every
// component that the Program Manager and Dispatcher Engine surface errors
// through. Inner subsystems return concrete Go errors; this package is the
// single place those get classified into a Kind a caller can branch on.
package ebpferrors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classifications surfaced across the
// Program Manager / Dispatcher Engine boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindAlreadyExists
	KindPermissionDenied
	KindResourceExhausted
	KindFailedPrecondition
	KindUnavailable
	KindDataLoss
	KindNotAuthorized

	// Finer-grained kinds surfaced across the program manager boundary,
	// kept distinct so component code can construct them precisely.
	// String() reports most of them under their own name; only
	// TooManyPrograms, DispatcherImageMissingProgram and IncompatibleQdisc
	// report the coarser name they fall under. rpcapi maps every kind to
	// a grpc code.
	KindInterfaceNotFound
	KindAttachPointBusy
	KindVerifierRejected
	KindFunctionNotFound
	KindProgramTypeMismatch
	KindMapOwnerInUse
	KindMapOwnerNotFound
	KindImageUnavailable
	KindImageIntegrity
	KindTooManyPrograms
	KindDispatcherImageMissingProgram
	KindIncompatibleQdisc
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindFailedPrecondition:
		return "FailedPrecondition"
	case KindUnavailable:
		return "Unavailable"
	case KindDataLoss:
		return "DataLoss"
	case KindNotAuthorized:
		return "NotAuthorized"
	case KindInterfaceNotFound:
		return "InterfaceNotFound"
	case KindAttachPointBusy:
		return "AttachPointBusy"
	case KindVerifierRejected:
		return "VerifierRejected"
	case KindFunctionNotFound:
		return "FunctionNotFound"
	case KindProgramTypeMismatch:
		return "ProgramTypeMismatch"
	case KindMapOwnerInUse:
		return "MapOwnerInUse"
	case KindMapOwnerNotFound:
		return "MapOwnerNotFound"
	case KindImageUnavailable:
		return "ImageUnavailable"
	case KindImageIntegrity:
		return "ImageIntegrity"
	case KindTooManyPrograms:
		return "ResourceExhausted"
	case KindDispatcherImageMissingProgram:
		return "FailedPrecondition"
	case KindIncompatibleQdisc:
		return "FailedPrecondition"
	default:
		return "Internal"
	}
}

// Error is the concrete boundary error type. Compensating-action failures
// are attached as Aggregate but never replace Cause as the reported error.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	Aggregate []error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds a boundary error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause under kind, preserving it for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithAggregate attaches best-effort compensating-action failures collected
// alongside the originating error. These never mask the original
// error; they ride along for diagnostics only.
func (e *Error) WithAggregate(errs []error) *Error {
	e.Aggregate = errs
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it reports KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
