// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/lanrat/extsort"
	"golang.org/x/sync/errgroup"
)

// Registry is the bidirectional mapping between Wikidata item IDs and
// the pages claiming them, built fresh for every run. Construction is
// read-only with respect to the wiki; after Freeze the registry never
// changes, so it can be handed around without copying.
type Registry struct {
	pagesByQID map[string][]string
	qidsByPage map[string][]string
	frozen     bool
}

func NewRegistry() *Registry {
	return &Registry{
		pagesByQID: make(map[string][]string, 1024),
		qidsByPage: make(map[string][]string, 1024),
	}
}

// Add records that a page's text references a QID. Inserting after
// Freeze is a programming error.
func (r *Registry) Add(qid, title string) {
	if r.frozen {
		panic("Add on frozen registry")
	}
	if !IsQID(qid) {
		return
	}
	title, _ = NormalizeTitle(title)
	if title == "" {
		return
	}
	if !containsString(r.pagesByQID[qid], title) {
		r.pagesByQID[qid] = append(r.pagesByQID[qid], title)
	}
	if !containsString(r.qidsByPage[title], qid) {
		r.qidsByPage[title] = append(r.qidsByPage[title], qid)
	}
}

// Freeze sorts all entry lists and makes the registry immutable.
// PagesFor order is normalized-title sort order, which is also the
// canonical-page tie break.
func (r *Registry) Freeze() *Registry {
	for _, pages := range r.pagesByQID {
		sort.Strings(pages)
	}
	for _, qids := range r.qidsByPage {
		sort.Sort(byQIDNumber(qids))
	}
	r.frozen = true
	return r
}

// PagesFor returns the pages claiming a QID, in title sort order.
func (r *Registry) PagesFor(qid string) []string {
	return r.pagesByQID[qid]
}

// QIDsFor returns the QIDs referenced from a page, sorted.
func (r *Registry) QIDsFor(title string) []string {
	normalized, _ := NormalizeTitle(title)
	return r.qidsByPage[normalized]
}

// QIDs returns every known QID, sorted.
func (r *Registry) QIDs() []string {
	qids := make([]string, 0, len(r.pagesByQID))
	for qid := range r.pagesByQID {
		qids = append(qids, qid)
	}
	sort.Sort(byQIDNumber(qids))
	return qids
}

// Pages returns every page holding at least one reference, sorted.
func (r *Registry) Pages() []string {
	pages := make([]string, 0, len(r.qidsByPage))
	for title := range r.qidsByPage {
		pages = append(pages, title)
	}
	sort.Strings(pages)
	return pages
}

// ConflictingQIDs returns the QIDs claimed by more than one page.
func (r *Registry) ConflictingQIDs() []string {
	qids := make([]string, 0, 16)
	for qid, pages := range r.pagesByQID {
		if len(pages) > 1 {
			qids = append(qids, qid)
		}
	}
	sort.Sort(byQIDNumber(qids))
	return qids
}

// ConflictingPages returns the pages whose text references more than
// one distinct QID.
func (r *Registry) ConflictingPages() []string {
	pages := make([]string, 0, 16)
	for title, qids := range r.qidsByPage {
		if len(qids) > 1 {
			pages = append(pages, title)
		}
	}
	sort.Strings(pages)
	return pages
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// BuildRegistry sweeps the corpus category and builds the registry for
// this run. Enumeration and page fetching overlap in a small pipeline,
// but the wiki sees at most one read at a time.
func BuildRegistry(ctx context.Context, w Wiki, category string, shard Shard, stats *RunStats) (*Registry, error) {
	start := time.Now()
	registry := NewRegistry()

	titles := make(chan string, 1000)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(titles)
		return w.CategoryMembers(groupCtx, category, titles)
	})
	group.Go(func() error {
		for title := range titles {
			if !shard.Contains(title) {
				continue
			}
			page, err := w.ReadPage(groupCtx, title)
			if err != nil {
				if isSkippable(err) {
					stats.Skip(title, err)
					continue
				}
				return err
			}
			stats.Pages++
			for _, qid := range ExtractQIDs(page.Text) {
				registry.Add(qid, title)
			}
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	registry.Freeze()
	stats.QIDs = len(registry.pagesByQID)
	logger.Printf("built registry from %q: %d pages, %d qids, in %.1fs",
		category, stats.Pages, stats.QIDs, time.Since(start).Seconds())
	return registry, nil
}

// isSkippable reports whether a per-item error should be skipped and
// logged rather than end the run.
func isSkippable(err error) bool {
	return errors.Is(err, errNotFound) || errors.Is(err, errEditConflict)
}

// WriteSnapshot serializes the registry as sorted "qid<TAB>title"
// claim lines, brotli compressed. The external sort keeps the output
// byte-identical no matter in which order the corpus was enumerated,
// and bounds memory on corpora far larger than this process.
func (r *Registry) WriteSnapshot(ctx context.Context, path string) error {
	lines := make(chan string, 10000)
	config := extsort.DefaultConfig()
	config.ChunkSize = 8 * 1024 * 1024 / 64 // 8 MiB, 64 Bytes/line avg
	config.NumWorkers = runtime.NumCPU()
	sorter, outChan, errChan := extsort.Strings(lines, config)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(lines)
		for qid, pages := range r.pagesByQID {
			for _, title := range pages {
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case lines <- qid + "\t" + title:
				}
			}
		}
		return nil
	})
	group.Go(func() error {
		sorter.Sort(groupCtx)
		return writeSnapshotLines(groupCtx, outChan, path)
	})
	if err := group.Wait(); err != nil {
		return err
	}
	if err := <-errChan; err != nil {
		return err
	}
	return nil
}

func writeSnapshotLines(ctx context.Context, lines <-chan string, path string) error {
	tmpPath := path + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer tmpFile.Close()

	writer := brotli.NewWriterLevel(tmpFile, 9)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, more := <-lines:
			if !more {
				if err := writer.Close(); err != nil {
					return err
				}
				if err := tmpFile.Close(); err != nil {
					return err
				}
				return os.Rename(tmpPath, path)
			}
			if _, err := writer.Write([]byte(line)); err != nil {
				return err
			}
			if _, err := writer.Write([]byte{'\n'}); err != nil {
				return err
			}
		}
	}
}

// ReadSnapshot rebuilds a registry from a snapshot file. The result is
// as stale as the file; writers still re-read the wiki before editing.
func ReadSnapshot(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	registry := NewRegistry()
	scanner := bufio.NewScanner(brotli.NewReader(f))
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if line == "" {
			continue
		}
		qid, title, found := strings.Cut(line, "\t")
		if !found || !IsQID(qid) {
			return nil, fmt.Errorf("%s:%d: malformed claim line %q", path, lineno, line)
		}
		registry.Add(qid, title)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return registry.Freeze(), nil
}
