// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// conflictCategory tags pages whose own text references several
// different items. The bot cannot know which claim is real, so it only
// flags them for humans.
const conflictCategory = "[[Category:Pages with conflicting QIDs]]"

func datedPath(dir, kind string, date time.Time, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%04d%02d%02d.%s",
		kind, date.Year(), date.Month(), date.Day(), ext))
}

// writeClaimsCSV writes the full claim table, one row per (item, page)
// pair, as a gzipped CSV for offline analysis.
func writeClaimsCSV(r *Registry, path string) error {
	return writeGzipCSV(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"QID", "Page"}); err != nil {
			return err
		}
		for _, qid := range r.QIDs() {
			for _, page := range r.PagesFor(qid) {
				if err := w.Write([]string{qid, page}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// writeDuplicatesCSV writes one row per duplicate item: the QID, the
// claimant count, and the claimants in canonical order. The header is
// as wide as the widest row.
func writeDuplicatesCSV(r *Registry, c *Classification, path string) error {
	widest := 0
	for _, qid := range c.DuplicateQIDs {
		if n := len(r.PagesFor(qid)); n > widest {
			widest = n
		}
	}
	return writeGzipCSV(path, func(w *csv.Writer) error {
		header := []string{"Wikidata QID", "Number of Pages"}
		for i := 1; i <= widest; i++ {
			header = append(header, "Page "+strconv.Itoa(i))
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, qid := range c.DuplicateQIDs {
			claimants := r.PagesFor(qid)
			row := append([]string{qid, strconv.Itoa(len(claimants))}, claimants...)
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeGzipCSV(path string, fill func(*csv.Writer) error) error {
	tmpPath := path + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer tmpFile.Close()

	compressor, err := gzip.NewWriterLevel(tmpFile, 9)
	if err != nil {
		return err
	}
	w := csv.NewWriter(compressor)
	if err := fill(w); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := compressor.Close(); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// duplicatesReport renders the on-wiki report of duplicate claims.
// The wikitext carries no timestamp: rebuilding an unchanged report
// must yield identical text so that the page write is skipped.
func duplicatesReport(r *Registry, c *Classification) string {
	var sb strings.Builder
	sb.WriteString("This report lists Wikidata items claimed by more than one page. ")
	sb.WriteString("It is rebuilt by the reconciliation bot; manual edits will be lost.\n\n")
	if len(c.DuplicateQIDs) == 0 {
		sb.WriteString("No duplicate claims found.")
		return sb.String()
	}
	sb.WriteString("{| class=\"wikitable sortable\"\n")
	sb.WriteString("! Wikidata QID !! Claimed by\n")
	for _, qid := range c.DuplicateQIDs {
		links := make([]string, 0, 4)
		for _, page := range r.PagesFor(qid) {
			links = append(links, "[["+page+"]]")
		}
		sb.WriteString("|-\n")
		sb.WriteString("| [[" + qid + "]] || " + strings.Join(links, ", ") + "\n")
	}
	sb.WriteString("|}")
	return sb.String()
}

// updateReportPage writes text to the report page, unless it already
// has exactly that text.
func updateReportPage(ctx context.Context, w Wiki, title, text string) error {
	current, base := "", ""
	page, err := w.ReadPage(ctx, title)
	switch {
	case err == nil:
		current, base = page.Text, page.Timestamp
	case errors.Is(err, errNotFound):
	default:
		return err
	}
	if current == text {
		return nil
	}
	return w.SavePage(ctx, title, text, "Bot: updating duplicate claims report", base)
}

// tagConflictingPages appends the tracking category to every page the
// classifier found referencing several items, once per page.
func tagConflictingPages(ctx context.Context, w Wiki, c *Classification, stats *RunStats) error {
	for _, title := range c.ConflictingPages {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := w.ReadPage(ctx, title)
		if err != nil {
			if isSkippable(err) {
				stats.Skip(title, err)
			} else {
				stats.Fail(title, err)
			}
			continue
		}
		if strings.Contains(page.Text, conflictCategory) {
			continue
		}
		text := strings.TrimRight(page.Text, "\n") + "\n\n" + conflictCategory
		err = w.SavePage(ctx, title, text,
			"Bot: page references multiple Wikidata items", page.Timestamp)
		if err == nil {
			continue
		}
		if errors.Is(err, errEditBudget) {
			logger.Printf("edit budget reached after %d edits, ending tagging", stats.Edits)
			return nil
		}
		if isSkippable(err) {
			stats.Skip(title, err)
		} else {
			stats.Fail(title, err)
		}
	}
	return nil
}
