// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
)

// RunStats is the run-end summary: what a run looked at, what it
// changed, and what it had to skip. A copy is written to the work
// directory as stats-YYYYMMDD.json, which doubles as the marker of the
// last successful run for cache cleanup.
type RunStats struct {
	RunID      string `json:"run-id"`
	Wiki       string `json:"wiki"`
	Command    string `json:"command"`
	Pages      int    `json:"pages"`
	QIDs       int    `json:"qids"`
	Duplicates int    `json:"duplicate-qids"`
	Conflicts  int    `json:"conflicting-pages"`
	Edits      int    `json:"edits"`
	Planned    int    `json:"planned-edits"`
	Skips      int    `json:"skips"`
	Failures   int    `json:"failures"`
}

// Skip records a per-item skip with its reason, keeping the log and
// the counters in agreement.
func (s *RunStats) Skip(item string, err error) {
	s.Skips++
	logger.Printf("skipping %q: %v", item, err)
}

// Fail records a per-item failure. Processing continues with the next
// item; there is no whole-run abort below main.
func (s *RunStats) Fail(item string, err error) {
	s.Failures++
	logger.Printf("failed on %q: %v", item, err)
}

// Print writes the colored run summary to stdout, the only console
// output of a normal run.
func (s *RunStats) Print() {
	bold := color.New(color.Bold)
	bold.Printf("%s on %s\n", s.Command, s.Wiki)
	fmt.Printf("  pages seen:        %d\n", s.Pages)
	if s.QIDs > 0 || s.Duplicates > 0 {
		fmt.Printf("  qids found:        %d\n", s.QIDs)
		fmt.Printf("  duplicate qids:    %d\n", s.Duplicates)
		fmt.Printf("  conflicting pages: %d\n", s.Conflicts)
	}
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	green.Printf("  edits applied:     %d\n", s.Edits)
	if s.Planned > 0 {
		yellow.Printf("  edits planned:     %d (dry run, use --apply)\n", s.Planned)
	}
	if s.Skips > 0 {
		yellow.Printf("  skipped:           %d\n", s.Skips)
	}
	if s.Failures > 0 {
		red.Printf("  failed:            %d\n", s.Failures)
	}
}

// WriteStats writes the stats file for this run into the work
// directory, atomically, named after the given date.
func (s *RunStats) WriteStats(workdir string, date time.Time) (string, error) {
	statsPath := filepath.Join(
		workdir,
		fmt.Sprintf("stats-%04d%02d%02d.json", date.Year(), date.Month(), date.Day()))
	tmpPath := statsPath + ".tmp"

	j, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return "", err
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(j); err != nil {
		return "", err
	}
	if err := f.Sync(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, statsPath); err != nil {
		return "", err
	}
	return statsPath, nil
}
