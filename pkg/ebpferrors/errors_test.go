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

package ebpferrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsErrorWithoutCause(t *testing.T) {
	err := New(KindNotFound, "program 7 missing")
	require.EqualError(t, err, "NotFound: program 7 missing")
	require.Nil(t, err.Unwrap())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("bolt: key not found")
	err := Wrap(KindInternal, "read program record", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "read program record")
	require.Contains(t, err.Error(), "bolt: key not found")
}

func TestKindOfExtractsKindFromWrappedError(t *testing.T) {
	err := New(KindAttachPointBusy, "slot busy")
	wrapped := errors.New("outer: " + err.Error())
	require.Equal(t, KindInternal, KindOf(wrapped))
	require.Equal(t, KindAttachPointBusy, KindOf(err))
	require.Equal(t, KindAttachPointBusy, KindOf(fmt.Errorf("outer: %w", err)))
}

func TestKindOfDefaultsToInternalForPlainError(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWithAggregateAttachesCompensatingFailuresWithoutMaskingCause(t *testing.T) {
	cause := errors.New("primary failure")
	compA := errors.New("compensating unpin failed")
	err := Wrap(KindInternal, "teardown dispatcher", cause).WithAggregate([]error{compA})
	require.ErrorIs(t, err, cause)
	require.Len(t, err.Aggregate, 1)
	require.Equal(t, compA, err.Aggregate[0])
}

func TestKindStringMapsCoarseAndFineKinds(t *testing.T) {
	require.Equal(t, "NotFound", KindNotFound.String())
	require.Equal(t, "ResourceExhausted", KindTooManyPrograms.String())
	require.Equal(t, "FailedPrecondition", KindDispatcherImageMissingProgram.String())
	require.Equal(t, "FailedPrecondition", KindIncompatibleQdisc.String())
	require.Equal(t, "Internal", Kind(9999).String())
}
