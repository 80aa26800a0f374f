// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Storage struct {
	client  storageClient
	workdir string
	mutex   sync.RWMutex
	files   map[string]*localFile
}

// localFile is a cached copy on local disk of a servable artifact in
// remote storage.
type localFile struct {
	Path         string
	ContentType  string
	ETag         string
	LastModified time.Time
}

// storageClient is the subset of minio.Client used in this program.
// For testing, struct fakeStorageClient provides a fake implementation.
type storageClient interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// NewStorage sets up a client for accessing S3-compatible object
// storage. Without a keyfile the server still starts and serves an
// empty artifact list; crash-looping would not get the key
// provisioned any faster.
func NewStorage(keypath, workdir string) (*Storage, error) {
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(keypath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("no storage key at %s, serving without artifacts", keypath)
			return &Storage{workdir: workdir, files: make(map[string]*localFile, 10)}, nil
		}
		return nil, err
	}

	var config struct{ Endpoint, Key, Secret string }
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Key, config.Secret, ""),
		Secure: true,
	})
	if err != nil {
		return nil, err
	}

	client.SetAppInfo("qidsync-webserver", "0.1")
	return &Storage{
		client:  client,
		workdir: workdir,
		files:   make(map[string]*localFile, 10),
	}, nil
}

var objRegexp = regexp.MustCompile(`public/([a-z\-]+)\-(2[0-9]{7})\.([a-z0-9\.]+)`)

// Reload caches the newest dated version of each public artifact to
// local disk under its stable name, so qid-claims-20240901.csv.gz is
// served as qid-claims.csv.gz. Old local content is deleted.
func (s *Storage) Reload(ctx context.Context) error {
	if s.client == nil {
		return nil
	}

	objects := s.client.ListObjects(ctx, "qidsync", minio.ListObjectsOptions{
		Prefix:    "public/",
		Recursive: false,
	})
	inStorage := make(map[string]minio.ObjectInfo, 5)
	for obj := range objects {
		if m := objRegexp.FindStringSubmatch(obj.Key); m != nil {
			filename := fmt.Sprintf("%s.%s", m[1], m[3])
			info := inStorage[filename]
			if obj.LastModified.After(info.LastModified) {
				inStorage[filename] = obj
			}
		}
	}

	files := make(map[string]*localFile, len(inStorage))
	for filename, obj := range inStorage {
		mangled := base32.HexEncoding.EncodeToString([]byte(obj.ETag))
		path, err := filepath.Abs(filepath.Join(
			s.workdir,
			fmt.Sprintf("%s-%s", mangled, filename)))
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			tmpPath := path + ".tmp"
			if err := s.client.FGetObject(ctx, "qidsync", obj.Key, tmpPath, minio.GetObjectOptions{}); err != nil {
				return err
			}
			if err := os.Chtimes(tmpPath, time.Now(), obj.LastModified); err != nil {
				return err
			}
			if err := os.Rename(tmpPath, path); err != nil {
				return err
			}
		}

		loc := &localFile{
			LastModified: obj.LastModified.UTC(),
			ContentType:  "application/octet-stream",
			ETag:         obj.ETag,
			Path:         path,
		}

		switch filepath.Ext(filename) {
		case ".gz":
			loc.ContentType = "application/gzip"
		case ".br":
			loc.ContentType = "application/x-brotli"
		case ".bz2":
			loc.ContentType = "application/x-bzip2"
		case ".json":
			loc.ContentType = "application/json"
		case ".txt":
			loc.ContentType = "text/plain"
		}

		files[filename] = loc
	}

	live := make(map[string]bool, len(files))
	for _, f := range files {
		live[f.Path] = true
	}

	s.mutex.Lock()
	s.files = files
	s.mutex.Unlock()

	// Only live files may stay in the workdir. Deleting a file that an
	// in-flight request still serves is fine: the open handle keeps
	// reading, and the inode goes away once the last handle closes.
	ff, err := os.ReadDir(s.workdir)
	if err != nil {
		return err
	}
	for _, f := range ff {
		fp, err := filepath.Abs(filepath.Join(s.workdir, f.Name()))
		if err != nil {
			return err
		}
		if !live[fp] {
			log.Printf("deleting obsolete local file: %s", fp)
			if err := os.Remove(fp); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Storage) Watch(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				if err == ctx.Err() {
					return err
				} else {
					log.Println(err)
				}
			}
		}
	}
}

type Content struct {
	f            *os.File
	ContentType  string
	ETag         string
	LastModified time.Time
}

func (c *Content) Read(p []byte) (int, error) {
	return c.f.Read(p)
}

func (c *Content) Seek(offset int64, whence int) (int64, error) {
	return c.f.Seek(offset, whence)
}

func (c *Content) Close() error {
	return c.f.Close()
}

func (s *Storage) Retrieve(filename string) (*Content, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	loc, found := s.files[filename]
	if !found {
		return nil, fmt.Errorf("not found")
	}

	f, err := os.Open(loc.Path)
	if err != nil {
		return nil, err
	}

	return &Content{
		f:            f,
		ContentType:  loc.ContentType,
		ETag:         loc.ETag,
		LastModified: loc.LastModified,
	}, nil
}
