// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteStats(t *testing.T) {
	workdir := t.TempDir()
	stats := &RunStats{
		RunID:      "3e1b6a84-9b53-4a4e-8d8a-0f5f6f7b1c2d",
		Wiki:       "https://wiki.example.org/w/api.php",
		Command:    "sweep",
		Pages:      411,
		QIDs:       87,
		Duplicates: 3,
		Conflicts:  1,
		Edits:      5,
	}

	date := time.Date(2024, 9, 1, 15, 0, 0, 0, time.UTC)
	path, err := stats.WriteStats(workdir, date)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := filepath.Base(path), "stats-20240901.json"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var read RunStats
	if err := json.Unmarshal(data, &read); err != nil {
		t.Fatal(err)
	}
	if read != *stats {
		t.Errorf("got %+v, want %+v", read, *stats)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should be gone, got err=%v", err)
	}
}

func TestStatsSkipAndFail(t *testing.T) {
	var buf bytes.Buffer
	logger = log.New(&buf, "", log.Lshortfile)

	stats := &RunStats{}
	stats.Skip("Some Page", errors.New("page does not exist"))
	stats.Skip("Other Page", errors.New("edit conflict"))
	stats.Fail("Bad Page", errors.New("boom"))

	if stats.Skips != 2 || stats.Failures != 1 {
		t.Errorf("got %d skips and %d failures, want 2 and 1", stats.Skips, stats.Failures)
	}
	for _, want := range []string{
		`skipping "Some Page": page does not exist`,
		`failed on "Bad Page": boom`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log should contain %q, got %q", want, buf.String())
		}
	}
}
