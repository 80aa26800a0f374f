// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type dumpReader struct {
	io.Reader
	close func() error
}

func (d *dumpReader) Close() error { return d.close() }

// openDump opens a MediaWiki XML export, transparently decompressing
// by file extension. "-" reads from stdin.
func openDump(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	closeFile := func() error { return f.Close() }
	switch {
	case strings.HasSuffix(path, ".bz2"):
		r, err = bzip2.NewReader(f, &bzip2.ReaderConfig{})
	case strings.HasSuffix(path, ".gz"):
		r, err = gzip.NewReader(f)
	case strings.HasSuffix(path, ".xz"):
		r, err = xz.NewReader(f)
	case strings.HasSuffix(path, ".zst"):
		var decoder *zstd.Decoder
		decoder, err = zstd.NewReader(f)
		if err == nil {
			r = decoder
			closeFile = func() error {
				decoder.Close()
				return f.Close()
			}
		}
	default:
		r = f
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return &dumpReader{Reader: r, close: closeFile}, nil
}

// findLatestDump locates the newest pages-articles export for a wiki
// under a Wikimedia-style dumps tree by resolving its "latest"
// symlink. The date directory in the resolved path dates the scan's
// artifacts, so rescanning the same dump rewrites them in place.
func findLatestDump(dumpsPath, wiki string) (string, time.Time, error) {
	path := filepath.Join(dumpsPath, wiki, "latest", wiki+"-latest-pages-articles.xml.bz2")
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", time.Time{}, err
	}
	parts := strings.Split(resolved, string(os.PathSeparator))
	if len(parts) < 2 {
		return "", time.Time{}, fmt.Errorf("%s: no dump date in path", resolved)
	}
	date, err := time.Parse("20060102", parts[len(parts)-2])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: no dump date in path", resolved)
	}
	return resolved, date, nil
}

// dumpPage is one <page> element of a MediaWiki XML export. Dumps list
// revisions oldest first, so the page's current text is the last one.
type dumpPage struct {
	Title    string `xml:"title"`
	Ns       int    `xml:"ns"`
	Redirect *struct {
		Title string `xml:"title,attr"`
	} `xml:"redirect"`
	Revisions []struct {
		Text string `xml:"text"`
	} `xml:"revision"`
}

func (p *dumpPage) text() string {
	if len(p.Revisions) == 0 {
		return ""
	}
	return p.Revisions[len(p.Revisions)-1].Text
}

// redirectTarget returns where a dump page redirects to. The dump's
// own <redirect> element wins; parsing the wikitext is the fallback
// for exports written without it.
func (p *dumpPage) redirectTarget() (string, bool) {
	if p.Redirect != nil && p.Redirect.Title != "" {
		return p.Redirect.Title, true
	}
	return ParseRedirectTarget(p.text())
}

// dumpCorpus is what one pass over a dump collects: the claim
// registry, the redirect edges, and the set of all main-namespace
// titles, so chain walks can tell a plain article from a missing page.
type dumpCorpus struct {
	registry *Registry
	edges    map[string]string
	titles   map[string]bool
	origins  []string
}

// scanDump reads an export stream page by page. Only main-namespace
// pages count; redirect pages contribute an edge instead of claims.
func scanDump(ctx context.Context, r io.Reader, stats *RunStats) (*dumpCorpus, error) {
	corpus := &dumpCorpus{
		registry: NewRegistry(),
		edges:    make(map[string]string, 256),
		titles:   make(map[string]bool, 1024),
	}
	decoder := xml.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "page" {
			continue
		}
		var page dumpPage
		if err := decoder.DecodeElement(&page, &start); err != nil {
			return nil, err
		}
		if page.Ns != 0 {
			continue
		}
		title, _ := NormalizeTitle(page.Title)
		if title == "" {
			continue
		}
		stats.Pages++
		corpus.titles[TitleKey(title)] = true
		if target, ok := page.redirectTarget(); ok {
			corpus.edges[TitleKey(title)] = target
			corpus.origins = append(corpus.origins, title)
			continue
		}
		for _, qid := range ExtractQIDs(page.text()) {
			corpus.registry.Add(qid, title)
		}
	}
	corpus.registry.Freeze()
	stats.QIDs = len(corpus.registry.QIDs())
	return corpus, nil
}

// lookup adapts the collected edges to the chain walker. A title
// absent from the whole dump is a genuinely missing page.
func (c *dumpCorpus) lookup() redirectLookup {
	return func(ctx context.Context, title string) (string, bool, error) {
		key := TitleKey(title)
		if target, ok := c.edges[key]; ok {
			return target, true, nil
		}
		if c.titles[key] {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%q: %w", title, errNotFound)
	}
}

// chainReport walks every redirect in the corpus and reports the ones
// needing attention: chains of two or more hops, cycles, self
// redirects, and redirects to missing pages. Origins are visited in
// sorted order so the report is reproducible.
func chainReport(ctx context.Context, corpus *dumpCorpus) []string {
	lookup := corpus.lookup()
	origins := append([]string(nil), corpus.origins...)
	sort.Strings(origins)

	lines := make([]string, 0, 64)
	for _, origin := range origins {
		res := resolveChain(ctx, lookup, origin)
		path := strings.Join(append(res.Chain, res.Target), " -> ")
		switch res.State {
		case Resolved:
			if len(res.Chain) >= 2 {
				lines = append(lines, fmt.Sprintf("chain: %s (%d hops)", path, len(res.Chain)))
			}
		case SelfRedirect:
			lines = append(lines, "self: "+origin)
		case Cycle:
			lines = append(lines, "cycle: "+path)
		case Broken:
			lines = append(lines, "broken: "+path)
		}
	}
	return lines
}

func writeChainReport(path string, lines []string) error {
	tmpPath := path + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer tmpFile.Close()

	compressor, err := bzip2.NewWriter(tmpFile, &bzip2.WriterConfig{Level: 9})
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := io.WriteString(compressor, line+"\n"); err != nil {
			return err
		}
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

// runDumpScan is the offline counterpart of a sweep: it builds the
// registry and the chain report from an XML export without touching
// any wiki. The snapshot stays local; live sweeps are authoritative
// for published registry artifacts, so only the chain report is
// uploaded.
func runDumpScan(ctx context.Context, storage Storage, dumpPath, workdir string, date time.Time, stats *RunStats) error {
	reader, err := openDump(dumpPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	corpus, err := scanDump(ctx, reader, stats)
	if err != nil {
		return err
	}
	classification := Classify(corpus.registry)
	stats.Duplicates = len(classification.DuplicateQIDs)
	stats.Conflicts = len(classification.ConflictingPages)

	if err := os.MkdirAll(workdir, 0755); err != nil {
		return err
	}
	snapshotPath := datedPath(workdir, "registry", date, "br")
	if err := corpus.registry.WriteSnapshot(ctx, snapshotPath); err != nil {
		return err
	}
	chainsPath := datedPath(workdir, "chains", date, "bz2")
	if err := writeChainReport(chainsPath, chainReport(ctx, corpus)); err != nil {
		return err
	}
	logger.Printf("dump scan: %d pages, %d redirects, snapshot %s",
		stats.Pages, len(corpus.edges), snapshotPath)

	if storage == nil {
		return nil
	}
	return uploadArtifacts(ctx, storage, []artifact{{chainsPath, "application/x-bzip2"}})
}
