// SPDX-License-Identifier: MIT

package main

import (
	"compress/gzip"
	"io"
	"os"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
)

func readGzipFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	reader, err := gzip.NewReader(f)
	if err != nil {
		panic(err)
	}

	b, err := io.ReadAll(reader)
	if err != nil {
		panic(err)
	}

	return string(b)
}

func readBzip2File(path string) string {
	f, err := os.Open(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	reader, err := bzip2.NewReader(f, &bzip2.ReaderConfig{})
	if err != nil {
		panic(err)
	}

	b, err := io.ReadAll(reader)
	if err != nil {
		panic(err)
	}

	return string(b)
}

func writeBrotli(path string, content string) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	s := brotli.NewWriterLevel(f, 1)
	s.Write([]byte(content))
	if err := s.Close(); err != nil {
		panic(err)
	}
	if err := f.Close(); err != nil {
		panic(err)
	}
}

func writeGzipFile(path string, content string) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	s, err := gzip.NewWriterLevel(f, 1)
	if err != nil {
		panic(err)
	}
	s.Write([]byte(content))
	if err := s.Close(); err != nil {
		panic(err)
	}
	if err := f.Close(); err != nil {
		panic(err)
	}
}

func writeBzip2File(path string, content string) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()
	s, err := bzip2.NewWriter(f, &bzip2.WriterConfig{Level: 1})
	if err != nil {
		panic(err)
	}
	s.Write([]byte(content))
	if err := s.Close(); err != nil {
		panic(err)
	}
	if err := f.Close(); err != nil {
		panic(err)
	}
}
