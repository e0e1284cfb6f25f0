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

package oci

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/containers/image/docker/reference"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

// writeTestImage lays out a manifest/config/layer triple under dir exactly
// as Pull would, so GetBytecode/Labels/readCachedFnName can be exercised
// without a network fetch.
func writeTestImage(t *testing.T, dir string, fnName string, fileName string, fileContents []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))

	var tb bytes.Buffer
	gz := gzip.NewWriter(&tb)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: fileName, Mode: 0o640, Size: int64(len(fileContents))}))
	_, err := tw.Write(fileContents)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	layerBytes := tb.Bytes()

	sum := sha256.Sum256(layerBytes)
	layerDigest := "sha256:" + hex.EncodeToString(sum[:])

	require.NoError(t, os.WriteFile(filepath.Join(dir, sanitize(layerDigest)), layerBytes, 0o440))

	cfg := imageConfig{}
	cfg.Config.Labels = map[string]string{
		labelFnName:   fnName,
		labelFilename: fileName,
	}
	cfgBytes, err := json.Marshal(cfg)
	require.NoError(t, err)
	configDigest := "sha256:configdigest"
	require.NoError(t, os.WriteFile(filepath.Join(dir, sanitize(configDigest)), cfgBytes, 0o440))

	m := manifest{SchemaVersion: 2, MediaType: mediaTypeDockerLayer}
	m.Config.Digest = configDigest
	m.Layers = append(m.Layers, struct {
		MediaType string `json:"mediaType"`
		Digest    string `json:"digest"`
		Size      int64  `json:"size"`
	}{MediaType: mediaTypeLayerGzip, Digest: layerDigest, Size: int64(len(layerBytes))})
	mb, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFilename), mb, 0o440))
}

func TestStoreGetBytecodeExtractsNamedFile(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "prog_entry", "bytecode.o", []byte("ELF_BYTES_HERE"))

	s := NewStore(t.TempDir(), nil, logr.Discard())
	out, err := s.GetBytecode(dir)
	require.NoError(t, err)
	require.Equal(t, []byte("ELF_BYTES_HERE"), out)
}

func TestStoreGetBytecodeRejectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "prog_entry", "bytecode.o", []byte("ELF_BYTES_HERE"))

	var m manifest
	mb, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(mb, &m))
	corruptPath := filepath.Join(dir, sanitize(m.Layers[0].Digest))
	require.NoError(t, os.WriteFile(corruptPath, []byte("tampered"), 0o640))

	s := NewStore(t.TempDir(), nil, logr.Discard())
	_, err = s.GetBytecode(dir)
	require.Error(t, err)
	require.Equal(t, ebpferrors.KindImageIntegrity, ebpferrors.KindOf(err))
}

func TestStoreLabelsReadsConfigLabels(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "prog_entry", "bytecode.o", []byte("x"))

	s := NewStore(t.TempDir(), nil, logr.Discard())
	labels, err := s.Labels(dir)
	require.NoError(t, err)
	require.Equal(t, "prog_entry", labels[labelFnName])
	require.Equal(t, "bytecode.o", labels[labelFilename])
}

func TestStorePullNeverWithoutCacheFails(t *testing.T) {
	s := NewStore(t.TempDir(), nil, logr.Discard())
	_, _, err := s.Pull(context.Background(), "docker.io/library/ebpf-prog:latest", model.PullNever, nil)
	require.Error(t, err)
	require.Equal(t, ebpferrors.KindUnavailable, ebpferrors.KindOf(err))
}

func TestStorePullIfNotPresentServesFromCache(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil, logr.Discard())

	dir := s.localDir(mustParseRef(t, "docker.io/library/ebpf-prog:latest"))
	writeTestImage(t, dir, "cached_entry", "bytecode.o", []byte("x"))

	gotDir, fnName, err := s.Pull(context.Background(), "docker.io/library/ebpf-prog:latest", model.PullIfNotPresent, nil)
	require.NoError(t, err)
	require.Equal(t, dir, gotDir)
	require.Equal(t, "cached_entry", fnName)
}

func TestNoopVerifierAlwaysSucceeds(t *testing.T) {
	require.NoError(t, NoopVerifier{}.Verify(context.Background(), "any/image:tag", false))
}

func TestTUFVerifierRequireStartupFailsWhenRootMissingAndSignaturesRequired(t *testing.T) {
	v, err := NewTUFVerifier(context.Background(), logr.Discard())
	require.NoError(t, err)
	require.Error(t, v.RequireStartup(true))
	require.NoError(t, v.RequireStartup(false))
}

func TestTUFVerifierVerifyAllowsUnsignedWhenRootMissing(t *testing.T) {
	v, err := NewTUFVerifier(context.Background(), logr.Discard())
	require.NoError(t, err)
	require.NoError(t, v.Verify(context.Background(), "any/image:tag", false))
}

func TestCoalescingStoreConcurrentPullsAgree(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil, logr.Discard())
	cs := NewCoalescingStore(s)

	dir := s.localDir(mustParseRef(t, "docker.io/library/ebpf-prog:latest"))
	writeTestImage(t, dir, "shared_entry", "bytecode.o", []byte("x"))

	const n = 8
	var wg sync.WaitGroup
	dirs := make([]string, n)
	fnNames := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, fn, err := cs.Pull(context.Background(), "docker.io/library/ebpf-prog:latest", model.PullIfNotPresent, nil)
			dirs[i], fnNames[i], errs[i] = d, fn, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, dir, dirs[i])
		require.Equal(t, "shared_entry", fnNames[i])
	}
}

func mustParseRef(t *testing.T, url string) reference.Named {
	t.Helper()
	ref, err := reference.ParseNamed(url)
	require.NoError(t, err)
	return ref
}
