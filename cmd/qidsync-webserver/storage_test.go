// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

// fakeStorageClient is a fake implementation of the storageClient
// interface, for use in unit tests.
type fakeStorageClient struct {
	objects    map[string]minio.ObjectInfo
	content    map[string]string
	fetchCalls int
}

func (c *fakeStorageClient) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	keys := make([]string, 0, len(c.objects))
	for key := range c.objects {
		if strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	ch := make(chan minio.ObjectInfo)
	go func() {
		defer close(ch)
		for _, key := range keys {
			ch <- c.objects[key]
		}
	}()
	return ch
}

func (c *fakeStorageClient) FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error {
	body, found := c.content[objectName]
	if !found {
		return os.ErrNotExist
	}
	c.fetchCalls++
	return os.WriteFile(filePath, []byte(body), 0644)
}

func makeFakeStorageClient() *fakeStorageClient {
	august := time.Date(2024, 8, 1, 3, 0, 0, 0, time.UTC)
	september := time.Date(2024, 9, 1, 3, 0, 0, 0, time.UTC)
	client := &fakeStorageClient{
		objects: make(map[string]minio.ObjectInfo, 6),
		content: map[string]string{
			"public/qid-claims-20240801.csv.gz":     "old claims",
			"public/qid-claims-20240901.csv.gz":     "new claims",
			"public/qid-duplicates-20240901.csv.gz": "duplicates",
			"public/registry-20240901.br":           "registry snapshot",
			"public/chains-20240901.bz2":            "redirect chains",
			"public/notes.txt":                      "not a dated artifact",
		},
	}
	for key, body := range client.content {
		modified := september
		if strings.Contains(key, "20240801") {
			modified = august
		}
		client.objects[key] = minio.ObjectInfo{
			Key:          key,
			ETag:         "etag-" + key,
			LastModified: modified,
			Size:         int64(len(body)),
		}
	}
	return client
}

func TestReload(t *testing.T) {
	client := makeFakeStorageClient()
	storage := &Storage{
		client:  client,
		workdir: t.TempDir(),
		files:   make(map[string]*localFile),
	}

	stale := filepath.Join(storage.workdir, "stale-chains.bz2")
	if err := os.WriteFile(stale, []byte("obsolete"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := storage.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	names := make([]string, 0, len(storage.files))
	for name := range storage.files {
		names = append(names, name)
	}
	sort.Strings(names)
	want := []string{"chains.bz2", "qid-claims.csv.gz", "qid-duplicates.csv.gz", "registry.br"}
	if got := strings.Join(names, "|"); got != strings.Join(want, "|") {
		t.Fatalf("got files %v, want %v", names, want)
	}

	// The newest dated version wins.
	claims := storage.files["qid-claims.csv.gz"]
	if got, want := claims.ETag, "etag-public/qid-claims-20240901.csv.gz"; got != want {
		t.Errorf("got ETag %q, want %q", got, want)
	}
	body, err := os.ReadFile(claims.Path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(body), "new claims"; got != want {
		t.Errorf("got cached content %q, want %q", got, want)
	}

	for name, want := range map[string]string{
		"qid-claims.csv.gz": "application/gzip",
		"registry.br":       "application/x-brotli",
		"chains.bz2":        "application/x-bzip2",
	} {
		if got := storage.files[name].ContentType; got != want {
			t.Errorf("got ContentType %q for %s, want %q", got, name, want)
		}
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("obsolete local file should have been deleted, got err=%v", err)
	}

	// Reloading unchanged storage must not fetch anything again.
	fetched := client.fetchCalls
	if err := storage.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.fetchCalls != fetched {
		t.Errorf("got %d fetches after second reload, want %d", client.fetchCalls, fetched)
	}
}

func TestRetrieve(t *testing.T) {
	storage := &Storage{
		client:  makeFakeStorageClient(),
		workdir: t.TempDir(),
		files:   make(map[string]*localFile),
	}
	if err := storage.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	c, err := storage.Retrieve("registry.br")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if got, want := c.ContentType, "application/x-brotli"; got != want {
		t.Errorf("got ContentType %q, want %q", got, want)
	}
	body, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(body), "registry snapshot"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := storage.Retrieve("no-such-file.txt"); err == nil {
		t.Error("want error for unknown file")
	}
}

func TestNewStorageMissingKeyfile(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewStorage(filepath.Join(dir, "no-such-key"), filepath.Join(dir, "work"))
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := storage.Retrieve("qid-claims.csv.gz"); err == nil {
		t.Error("want error, storage has no artifacts without a key")
	}
}

func TestNewStorageBadKeyfile(t *testing.T) {
	dir := t.TempDir()
	keypath := filepath.Join(dir, "storage-key")
	if err := os.WriteFile(keypath, []byte("not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStorage(keypath, filepath.Join(dir, "work")); err == nil {
		t.Error("want error for malformed keyfile")
	}
}

func TestNewStorage(t *testing.T) {
	dir := t.TempDir()
	key, err := json.Marshal(map[string]string{
		"Endpoint": "minio.example.net:9000",
		"Key":      "emmabot",
		"Secret":   "hunter2",
	})
	if err != nil {
		t.Fatal(err)
	}
	keypath := filepath.Join(dir, "storage-key")
	if err := os.WriteFile(keypath, key, 0600); err != nil {
		t.Fatal(err)
	}
	storage, err := NewStorage(keypath, filepath.Join(dir, "work"))
	if err != nil {
		t.Fatal(err)
	}
	if storage.client == nil {
		t.Error("want a configured storage client")
	}
}
