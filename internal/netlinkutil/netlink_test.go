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

package netlinkutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

func TestClassifyEmptyIsNone(t *testing.T) {
	require.Equal(t, QdiscNone, classify(nil))
}

func TestClassifyFindsClsact(t *testing.T) {
	qdiscs := []netlink.Qdisc{
		&netlink.GenericQdisc{QdiscType: "pfifo_fast"},
		&netlink.GenericQdisc{QdiscType: "clsact"},
	}
	require.Equal(t, QdiscClsact, classify(qdiscs))
}

func TestClassifyFindsIngressAmongOthers(t *testing.T) {
	qdiscs := []netlink.Qdisc{
		&netlink.GenericQdisc{QdiscType: "pfifo_fast"},
		&netlink.GenericQdisc{QdiscType: "ingress"},
	}
	require.Equal(t, QdiscIngress, classify(qdiscs))
}

func TestClassifyFallsBackToOther(t *testing.T) {
	qdiscs := []netlink.Qdisc{&netlink.GenericQdisc{QdiscType: "pfifo_fast"}}
	require.Equal(t, QdiscOther, classify(qdiscs))
}

func TestWithNamespaceRunsFnDirectlyWhenPathEmpty(t *testing.T) {
	called := false
	err := WithNamespace("", func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}
