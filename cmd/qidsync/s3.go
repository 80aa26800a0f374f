// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// storageBucket holds the published artifacts; the webserver serves
// its public/ area.
const storageBucket = "qidsync"

type ObjectInfo struct {
	Key         string
	ContentType string
	ETag        string
}

type Storage interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Stat(ctx context.Context, bucket, path string) (ObjectInfo, error)
	PutFile(ctx context.Context, bucket string, remotepath string, localpath string, contentType string) error
	Remove(ctx context.Context, bucket, path string) error
}

// remoteStorage is an implementation of interface Storage that talks
// to a remote S3-compatible server. The other implementation is
// FakeStorage, which is used for testing.
type remoteStorage struct {
	client *minio.Client
}

func (s *remoteStorage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return s.client.BucketExists(ctx, bucket)
}

func (s *remoteStorage) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	result := make([]ObjectInfo, 0)
	for f := range s.client.ListObjects(ctx, bucket, opts) {
		o := ObjectInfo{Key: f.Key, ContentType: f.ContentType, ETag: f.ETag}
		result = append(result, o)
	}
	return result, nil
}

func (s *remoteStorage) Stat(ctx context.Context, bucket, path string) (ObjectInfo, error) {
	st, err := s.client.StatObject(ctx, bucket, path, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, err
	}
	info := ObjectInfo{Key: st.Key, ContentType: st.ContentType, ETag: st.ETag}
	return info, nil
}

func (s *remoteStorage) PutFile(ctx context.Context, bucket string, remotepath string, localpath string, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.FPutObject(ctx, bucket, remotepath, localpath, opts)
	return err
}

func (s *remoteStorage) Remove(ctx context.Context, bucket, path string) error {
	return s.client.RemoveObject(ctx, bucket, path, minio.RemoveObjectOptions{})
}

// NewStorage sets up a client for accessing S3-compatible object storage.
func NewStorage(keypath string) (Storage, error) {
	data, err := os.ReadFile(keypath)
	if err != nil {
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

	client.SetAppInfo("qidsync", "0.1")
	return &remoteStorage{client: client}, nil
}

// fileETag computes the checksum S3 reports for objects uploaded in a
// single part, which all our artifacts are small enough to be.
func fileETag(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type artifact struct {
	LocalPath   string
	ContentType string
}

// uploadArtifacts mirrors freshly built artifacts into the public/
// area of the storage bucket. Objects whose ETag already matches the
// local file are left alone, so re-running an already finished day
// uploads nothing.
func uploadArtifacts(ctx context.Context, s Storage, artifacts []artifact) error {
	for _, a := range artifacts {
		remotepath := path.Join("public", filepath.Base(a.LocalPath))
		etag, err := fileETag(a.LocalPath)
		if err != nil {
			return err
		}
		if remote, err := s.Stat(ctx, storageBucket, remotepath); err == nil && remote.ETag == etag {
			logger.Printf("already in storage: %s/%s", storageBucket, remotepath)
			continue
		}
		if err := s.PutFile(ctx, storageBucket, remotepath, a.LocalPath, a.ContentType); err != nil {
			return fmt.Errorf("uploading %s: %w", remotepath, err)
		}
		logger.Printf("uploaded to storage: %s/%s, ETag: %s", storageBucket, remotepath, etag)
	}
	return nil
}

// CleanupStorage deletes outdated artifacts from the storage bucket,
// keeping the most recent few of each kind.
func CleanupStorage(s Storage) error {
	for _, p := range []struct {
		prefix, pattern string
		keep            int
	}{
		{"public/qid-claims-", `public/qid-claims-\d{8}\.csv\.gz`, 3},
		{"public/qid-duplicates-", `public/qid-duplicates-\d{8}\.csv\.gz`, 3},
		{"public/registry-", `public/registry-\d{8}\.br`, 3},
		{"public/chains-", `public/chains-\d{8}\.bz2`, 3},
	} {
		if err := cleanupPath(storageBucket, p.prefix, p.pattern, p.keep, s); err != nil {
			return err
		}
	}
	return nil
}

func cleanupPath(bucket, prefix, pattern string, keep int, s Storage) error {
	ctx := context.Background()
	re := regexp.MustCompile(pattern)

	found := make([]string, 0, keep+10)
	files, err := s.List(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if re.MatchString(f.Key) {
			found = append(found, f.Key)
		}
	}

	if len(found) > keep {
		sort.Strings(found)
		for _, path := range found[0 : len(found)-keep] {
			logger.Printf("deleting from storage: %s/%s", bucket, path)
			if err := s.Remove(ctx, bucket, path); err != nil {
				return err
			}
		}
	}

	return nil
}
