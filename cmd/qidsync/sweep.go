// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"os"
	"time"
)

// runSweep is the periodic full pass: enumerate the corpus, build the
// registry, write the artifacts, refresh the on-wiki report, and tag
// conflicting pages. Sweeps accept a shard only for smoke tests; a
// sharded sweep sees a partial corpus, so its artifacts stay local
// instead of overwriting the published full ones.
func runSweep(ctx context.Context, w Wiki, storage Storage, config *Config, shard Shard, date time.Time, stats *RunStats) error {
	registry, err := BuildRegistry(ctx, w, config.Category, shard, stats)
	if err != nil {
		return err
	}
	classification := Classify(registry)
	stats.Duplicates = len(classification.DuplicateQIDs)
	stats.Conflicts = len(classification.ConflictingPages)

	if err := os.MkdirAll(config.WorkDir, 0755); err != nil {
		return err
	}
	claimsPath := datedPath(config.WorkDir, "qid-claims", date, "csv.gz")
	if err := writeClaimsCSV(registry, claimsPath); err != nil {
		return err
	}
	duplicatesPath := datedPath(config.WorkDir, "qid-duplicates", date, "csv.gz")
	if err := writeDuplicatesCSV(registry, classification, duplicatesPath); err != nil {
		return err
	}
	snapshotPath := datedPath(config.WorkDir, "registry", date, "br")
	if err := registry.WriteSnapshot(ctx, snapshotPath); err != nil {
		return err
	}

	if config.ReportPage != "" {
		err := updateReportPage(ctx, w, config.ReportPage,
			duplicatesReport(registry, classification))
		switch {
		case err == nil:
		case errors.Is(err, errEditBudget):
			logger.Printf("edit budget reached, leaving report page as is")
		case isSkippable(err):
			stats.Skip(config.ReportPage, err)
		default:
			return err
		}
	}

	if config.TagConflicts {
		if err := tagConflictingPages(ctx, w, classification, stats); err != nil {
			return err
		}
	}

	if storage == nil {
		return nil
	}
	if shard.Count > 1 {
		logger.Printf("sharded sweep, not uploading partial artifacts")
		return nil
	}
	artifacts := []artifact{
		{claimsPath, "application/gzip"},
		{duplicatesPath, "application/gzip"},
		{snapshotPath, "application/x-brotli"},
	}
	return uploadArtifacts(ctx, storage, artifacts)
}

// loadRegistry either replays a sweep's snapshot or enumerates the
// live corpus. Replaying keeps sync and merge runs off the expensive
// category walk; the snapshot may be slightly stale, which is safe
// because every write re-reads its page first.
func loadRegistry(ctx context.Context, w Wiki, config *Config, snapshotPath string, stats *RunStats) (*Registry, error) {
	if snapshotPath != "" {
		registry, err := ReadSnapshot(snapshotPath)
		if err != nil {
			return nil, err
		}
		stats.Pages = len(registry.Pages())
		stats.QIDs = len(registry.QIDs())
		return registry, nil
	}
	return BuildRegistry(ctx, w, config.Category, Shard{}, stats)
}
