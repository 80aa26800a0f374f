// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// findLatestStats returns the date of the newest stats-YYYYMMDD.json
// in the work directory. Stats files are written at the end of a
// successful run, so this is the date of the last good one.
func findLatestStats(path string) (time.Time, error) {
	var latest time.Time
	files, err := os.ReadDir(path)
	if err != nil {
		return latest, err
	}

	for _, f := range files {
		fn := f.Name()
		if strings.HasPrefix(fn, "stats-") && strings.HasSuffix(fn, ".json") {
			d := fn[6 : len(fn)-5]
			if len(d) != 8 {
				continue
			}
			if t, err := time.Parse("20060102", d); err == nil && t.After(latest) {
				latest = t
			}
		}
	}

	return latest, nil
}

// CleanupCache deletes work-directory artifacts more than one month
// older than the last successful run. Without any stats file the bot
// has never finished a run here, and nothing is deleted.
func CleanupCache(path string) error {
	re, err := regexp.Compile(`^(qid-claims|qid-duplicates|registry|chains|stats)-(\d{8})\.(csv\.gz|br|bz2|json)$`)
	if err != nil {
		return err
	}

	files, err := os.ReadDir(path)
	if err != nil {
		return err
	}

	latest, err := findLatestStats(path)
	if err != nil {
		return err
	}
	if latest.IsZero() {
		return nil
	}

	ageLimit := latest.AddDate(0, -1, 0)
	for _, f := range files {
		match := re.FindStringSubmatch(f.Name())
		if match == nil {
			continue
		}
		d, err := time.Parse("20060102", match[2])
		if err != nil {
			continue
		}
		if d.Before(ageLimit) {
			fpath := filepath.Join(path, f.Name())
			if logger != nil {
				logger.Printf("deleting %s, more than 1 month older than the last successful run on %04d-%02d-%02d",
					fpath, latest.Year(), latest.Month(), latest.Day())
			}
			if err := os.Remove(fpath); err != nil {
				return err
			}
		}
	}

	return nil
}
