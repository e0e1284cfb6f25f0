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

// Package oci is the Image Store: it pulls, content-addressably caches,
// integrity-checks and extracts program bytecode OCI images. Reference
// parsing uses github.com/containers/image/docker/reference; the
// registry fetch itself is a minimal Docker Registry v2 client over the
// standard library rather than a full OCI client stack (see DESIGN.md).
package oci

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/containers/image/docker/reference"
	"github.com/go-logr/logr"

	"github.com/ebpfmand/ebpfmand/internal/model"
	"github.com/ebpfmand/ebpfmand/pkg/ebpferrors"
)

const (
	manifestFilename = "manifest.json"

	labelProgramName  = "io.ebpf.program_name"
	labelFnName       = "io.ebpf.bpf_function_name"
	labelProgramType  = "io.ebpf.program_type"
	labelFilename     = "io.ebpf.filename"
	labelDispatcherABI = "io.ebpf.dispatcher_abi"

	mediaTypeLayerGzip    = "application/vnd.oci.image.layer.v1.tar+gzip"
	mediaTypeDockerLayer  = "application/vnd.docker.image.rootfs.diff.tar.gzip"
)

// Store is the Image Store process-wide handle.
type Store struct {
	root   string
	client *http.Client
	log    logr.Logger

	verifier SignatureVerifier
}

// SignatureVerifier is the optional sigstore/TUF verification hook,
// feature-flagged in config. A no-op Verifier is used when signature
// verification is disabled.
type SignatureVerifier interface {
	// Verify returns nil if img is acceptably signed (or verification is
	// disabled). allowUnsigned controls whether an unsigned image is a
	// warning or a hard failure.
	Verify(ctx context.Context, imageURL string, allowUnsigned bool) error
}

func NewStore(root string, verifier SignatureVerifier, log logr.Logger) *Store {
	if verifier == nil {
		verifier = NoopVerifier{}
	}
	return &Store{root: root, client: &http.Client{}, verifier: verifier, log: log}
}

// manifest is the subset of the OCI/Docker manifest this store needs.
type manifest struct {
	SchemaVersion int    `json:"schemaVersion"`
	MediaType     string `json:"mediaType"`
	Config        struct {
		Digest string `json:"digest"`
	} `json:"config"`
	Layers []struct {
		MediaType string `json:"mediaType"`
		Digest    string `json:"digest"`
		Size      int64  `json:"size"`
	} `json:"layers"`
}

type imageConfig struct {
	Config struct {
		Labels map[string]string `json:"Labels"`
	} `json:"config"`
}

// localDir derives <image-store-root>/<registry>/<repo>/<tag-or-digest>.
func (s *Store) localDir(ref reference.Named) string {
	domain := reference.Domain(ref)
	if domain == "" {
		domain = "docker.io"
	}
	path := reference.Path(ref)
	tag := "latest"
	if tagged, ok := ref.(reference.Tagged); ok {
		tag = tagged.Tag()
	}
	if digested, ok := ref.(reference.Digested); ok {
		tag = digested.Digest().String()
	}
	return filepath.Join(s.root, domain, path, sanitize(tag))
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, ":", "@")
}

// Pull resolves the pull policy, fetches manifest/config/layer as
// needed, and returns the local cache directory and entry function name.
func (s *Store) Pull(ctx context.Context, url string, policy model.PullPolicy, creds *model.Credentials) (string, string, error) {
	ref, err := reference.ParseNamed(url)
	if err != nil {
		return "", "", ebpferrors.Wrap(ebpferrors.KindInvalidArgument, fmt.Sprintf("invalid image reference %q", url), err)
	}

	dir := s.localDir(ref)

	manifestPath := filepath.Join(dir, manifestFilename)
	cached := fileExists(manifestPath)

	switch policy {
	case model.PullNever:
		if !cached {
			return "", "", ebpferrors.New(ebpferrors.KindUnavailable, fmt.Sprintf("image %q not cached and pull policy is Never", url))
		}
		return s.readCachedFnName(dir)

	case model.PullIfNotPresent:
		if cached {
			return s.readCachedFnName(dir)
		}
	case model.PullAlways:
		// fall through to network fetch unconditionally.
	}

	if err := s.verifier.Verify(ctx, url, true); err != nil {
		return "", "", ebpferrors.Wrap(ebpferrors.KindNotAuthorized, fmt.Sprintf("signature verification failed for %q", url), err)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", "", fmt.Errorf("create image dir %s: %w", dir, err)
	}

	m, cfg, err := s.fetchManifestAndConfig(ctx, ref, creds)
	if err != nil {
		return "", "", ebpferrors.Wrap(ebpferrors.KindImageUnavailable, fmt.Sprintf("pull %q", url), err)
	}

	if err := s.fetchLayer(ctx, ref, creds, m, dir); err != nil {
		return "", "", ebpferrors.Wrap(ebpferrors.KindImageUnavailable, fmt.Sprintf("pull layer for %q", url), err)
	}

	manifestBytes, _ := json.MarshalIndent(m, "", "  ")
	if err := os.WriteFile(manifestPath, manifestBytes, 0440); err != nil {
		return "", "", fmt.Errorf("write manifest: %w", err)
	}

	configBytes, _ := json.MarshalIndent(cfg, "", "  ")
	configPath := filepath.Join(dir, sanitize(m.Config.Digest))
	if err := os.WriteFile(configPath, configBytes, 0440); err != nil {
		return "", "", fmt.Errorf("write config: %w", err)
	}

	fnName := cfg.Config.Labels[labelFnName]
	return dir, fnName, nil
}

func (s *Store) readCachedFnName(dir string) (string, string, error) {
	b, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return "", "", fmt.Errorf("read cached manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return "", "", fmt.Errorf("decode cached manifest: %w", err)
	}
	cfgPath := filepath.Join(dir, sanitize(m.Config.Digest))
	cb, err := os.ReadFile(cfgPath)
	if err != nil {
		return "", "", fmt.Errorf("read cached config: %w", err)
	}
	var cfg imageConfig
	if err := json.Unmarshal(cb, &cfg); err != nil {
		return "", "", fmt.Errorf("decode cached config: %w", err)
	}
	return dir, cfg.Config.Labels[labelFnName], nil
}

func (s *Store) fetchManifestAndConfig(ctx context.Context, ref reference.Named, creds *model.Credentials) (*manifest, *imageConfig, error) {
	domain := reference.Domain(ref)
	if domain == "" || domain == "docker.io" {
		domain = "registry-1.docker.io"
	}
	repoPath := reference.Path(ref)
	tagOrDigest := "latest"
	if tagged, ok := ref.(reference.Tagged); ok {
		tagOrDigest = tagged.Tag()
	}
	if digested, ok := ref.(reference.Digested); ok {
		tagOrDigest = digested.Digest().String()
	}

	manifestURL := fmt.Sprintf("https://%s/v2/%s/manifests/%s", domain, repoPath, tagOrDigest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/vnd.docker.distribution.manifest.v2+json, application/vnd.oci.image.manifest.v1+json")
	s.applyAuth(req, creds)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch manifest: unexpected status %d", resp.StatusCode)
	}

	var m manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}

	configURL := fmt.Sprintf("https://%s/v2/%s/blobs/%s", domain, repoPath, m.Config.Digest)
	creq, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return nil, nil, err
	}
	s.applyAuth(creq, creds)
	cresp, err := s.client.Do(creq)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch config: %w", err)
	}
	defer cresp.Body.Close()
	if cresp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch config: unexpected status %d", cresp.StatusCode)
	}

	var cfg imageConfig
	if err := json.NewDecoder(cresp.Body).Decode(&cfg); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}

	return &m, &cfg, nil
}

func (s *Store) fetchLayer(ctx context.Context, ref reference.Named, creds *model.Credentials, m *manifest, dir string) error {
	if len(m.Layers) == 0 {
		return fmt.Errorf("manifest has no layers")
	}

	var layer *struct {
		MediaType string `json:"mediaType"`
		Digest    string `json:"digest"`
		Size      int64  `json:"size"`
	}
	for i := range m.Layers {
		l := &m.Layers[i]
		if l.MediaType == mediaTypeLayerGzip || l.MediaType == mediaTypeDockerLayer {
			layer = l
			break
		}
	}
	if layer == nil {
		layer = &m.Layers[0]
	}

	domain := reference.Domain(ref)
	if domain == "" || domain == "docker.io" {
		domain = "registry-1.docker.io"
	}
	repoPath := reference.Path(ref)

	layerURL := fmt.Sprintf("https://%s/v2/%s/blobs/%s", domain, repoPath, layer.Digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, layerURL, nil)
	if err != nil {
		return err
	}
	s.applyAuth(req, creds)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch layer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch layer: unexpected status %d", resp.StatusCode)
	}

	layerPath := filepath.Join(dir, sanitize(layer.Digest))
	f, err := os.OpenFile(layerPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create layer file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write layer: %w", err)
	}
	if err := f.Chmod(0440); err != nil {
		return fmt.Errorf("make layer read-only: %w", err)
	}

	return nil
}

func (s *Store) applyAuth(req *http.Request, creds *model.Credentials) {
	if creds != nil && creds.Username != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetBytecode reads the manifest, recomputes the layer's SHA-256 and
// compares against the manifest-recorded digest, and on match
// decompresses/untars and returns the named file's bytes.
func (s *Store) GetBytecode(localDir string) ([]byte, error) {
	mb, err := os.ReadFile(filepath.Join(localDir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(m.Layers) == 0 {
		return nil, fmt.Errorf("manifest has no layers")
	}
	layerDigest := m.Layers[0].Digest
	for _, l := range m.Layers {
		if l.MediaType == mediaTypeLayerGzip || l.MediaType == mediaTypeDockerLayer {
			layerDigest = l.Digest
			break
		}
	}

	layerPath := filepath.Join(localDir, sanitize(layerDigest))
	raw, err := os.ReadFile(layerPath)
	if err != nil {
		return nil, fmt.Errorf("read layer: %w", err)
	}

	sum := sha256.Sum256(raw)
	got := "sha256:" + hex.EncodeToString(sum[:])
	if got != layerDigest {
		return nil, ebpferrors.New(ebpferrors.KindImageIntegrity, fmt.Sprintf("layer digest mismatch: want %s got %s", layerDigest, got))
	}

	cfgPath := filepath.Join(localDir, sanitize(m.Config.Digest))
	cb, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg imageConfig
	if err := json.Unmarshal(cb, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	wantFile := cfg.Config.Labels[labelFilename]

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open gzip layer: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		if filepath.Base(hdr.Name) == wantFile || wantFile == "" {
			buf, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read tar file %s: %w", hdr.Name, err)
			}
			return buf, nil
		}
	}

	return nil, fmt.Errorf("file %q not found in layer", wantFile)
}

// Labels reads back the OCI labels for an already-pulled image
// directory, used to check a dispatcher image's declared ABI version
// (its declared entry function already comes back from Pull).
func (s *Store) Labels(localDir string) (map[string]string, error) {
	mb, err := os.ReadFile(filepath.Join(localDir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	cb, err := os.ReadFile(filepath.Join(localDir, sanitize(m.Config.Digest)))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg imageConfig
	if err := json.Unmarshal(cb, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg.Config.Labels, nil
}
