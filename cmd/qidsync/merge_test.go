// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestMergeDuplicate(t *testing.T) {
	wiki := NewFakeWiki()
	wiki.Put("X", "Alpha content. {{wikidata link|Q10}}")
	wiki.Put("Y", "Beta content. {{wikidata link|Q10}}")

	if err := MergeDuplicate(context.Background(), wiki, "X", "Y"); err != nil {
		t.Fatal(err)
	}

	want := "Alpha content. {{wikidata link|Q10}}\n\n" +
		"== Merged from Y ==\n" +
		"Beta content. {{wikidata link|Q10}}\n\n" +
		"[[Category:Merged pages]]"
	if got := wiki.Text("X"); got != want {
		t.Errorf("canonical: got %q, want %q", got, want)
	}
	if got, want := wiki.Text("Y"), "#REDIRECT [[X]]\n<!-- Merged into [[X]] -->"; got != want {
		t.Errorf("duplicate: got %q, want %q", got, want)
	}
}

func TestMergeDuplicateIdempotent(t *testing.T) {
	wiki := NewFakeWiki()
	wiki.Put("X", "Alpha content.")
	wiki.Put("Y", "Beta content.")

	if err := MergeDuplicate(context.Background(), wiki, "X", "Y"); err != nil {
		t.Fatal(err)
	}
	canonicalText := wiki.Text("X")
	writes := len(wiki.Log)

	if err := MergeDuplicate(context.Background(), wiki, "X", "Y"); err != nil {
		t.Fatal(err)
	}
	if len(wiki.Log) != writes {
		t.Errorf("second merge wrote again: %v", wiki.Log[writes:])
	}
	if wiki.Text("X") != canonicalText {
		t.Errorf("second merge changed the canonical page to %q", wiki.Text("X"))
	}
}

// Nothing either page said before the merge may be lost.
func TestMergeContentPreservation(t *testing.T) {
	canonicalBefore := "The canonical article.\n\nWith two paragraphs."
	duplicateBefore := "The duplicate article, with its own wording."

	wiki := NewFakeWiki()
	wiki.Put("X", canonicalBefore)
	wiki.Put("Y", duplicateBefore)
	if err := MergeDuplicate(context.Background(), wiki, "X", "Y"); err != nil {
		t.Fatal(err)
	}

	union := wiki.Text("X") + wiki.Text("Y")
	if !strings.Contains(union, canonicalBefore) {
		t.Error("canonical content lost in merge")
	}
	if !strings.Contains(union, duplicateBefore) {
		t.Error("duplicate content lost in merge")
	}
}

// A merge interrupted between its two writes leaves the appended
// content in place; the next run only finishes the redirect.
func TestMergeDuplicateResumes(t *testing.T) {
	wiki := NewFakeWiki()
	wiki.Put("X", "Alpha content.\n\n== Merged from Y ==\nBeta content.\n\n[[Category:Merged pages]]")
	wiki.Put("Y", "Beta content.")

	canonicalBefore := wiki.Text("X")
	if err := MergeDuplicate(context.Background(), wiki, "X", "Y"); err != nil {
		t.Fatal(err)
	}
	if wiki.Text("X") != canonicalBefore {
		t.Errorf("resumed merge appended again: %q", wiki.Text("X"))
	}
	if got := wiki.Text("Y"); !strings.HasPrefix(got, "#REDIRECT [[X]]") {
		t.Errorf("duplicate not redirected: %q", got)
	}
	if len(wiki.Log) != 1 {
		t.Errorf("expected exactly one write, got %v", wiki.Log)
	}
}

func TestMergeDuplicateRefusals(t *testing.T) {
	wiki := NewFakeWiki()
	wiki.Put("X", "Content.")
	wiki.Put("Elsewhere", "Other content.")
	wiki.Put("Y", "#REDIRECT [[Elsewhere]]")
	wiki.Put("R", "#REDIRECT [[X]]")
	ctx := context.Background()

	if err := MergeDuplicate(ctx, wiki, "X", "x"); err == nil {
		t.Error("expected merging a page into itself to fail")
	}
	if err := MergeDuplicate(ctx, wiki, "X", "Y"); err == nil {
		t.Error("expected merging a foreign redirect to fail")
	}
	if err := MergeDuplicate(ctx, wiki, "R", "X"); err == nil {
		t.Error("expected merging into a redirect to fail")
	}
	if err := MergeDuplicate(ctx, wiki, "X", "Gone"); !errors.Is(err, errNotFound) {
		t.Errorf("expected errNotFound, got %v", err)
	}
	if len(wiki.Log) != 0 {
		t.Errorf("refused merges must not write, got %v", wiki.Log)
	}
}

func TestMergeAllDuplicates(t *testing.T) {
	logger = log.New(&bytes.Buffer{}, "", log.Lshortfile)
	wiki := NewFakeWiki()
	wiki.Put("Penguin Facts", "Good article. {{wikidata link|Q10}}")
	wiki.Put("Penguin Facts (old)", "Outdated article. {{wikidata link|Q10}}")
	wiki.Put("Q10", "# [[Penguin Facts]]\n# [[Penguin Facts (old)]]\n\n[[Category:QID disambiguation pages]]")

	r := NewRegistry()
	r.Add("Q10", "Penguin Facts")
	r.Add("Q10", "Penguin Facts (old)")
	r.Freeze()

	stats := &RunStats{}
	err := mergeAllDuplicates(context.Background(), guardWiki(wiki, true, 0, stats), r, Shard{}, stats)
	if err != nil {
		t.Fatal(err)
	}

	if got := wiki.Text("Penguin Facts"); !strings.Contains(got, "== Merged from Penguin Facts (old) ==") {
		t.Errorf("canonical page missing merged section: %q", got)
	}
	if got := wiki.Text("Penguin Facts (old)"); !strings.HasPrefix(got, "#REDIRECT [[Penguin Facts]]") {
		t.Errorf("duplicate not redirected: %q", got)
	}
	if got, want := wiki.Text("Q10"), "#REDIRECT [[Penguin Facts]]"; got != want {
		t.Errorf("bookkeeping: got %q, want %q", got, want)
	}
	if stats.Edits != 3 {
		t.Errorf("expected 3 edits, got %d", stats.Edits)
	}
}

// A claimant that references several items stays put: merging it away
// would move the other item's marker into the canonical page.
func TestMergeAllDuplicatesSkipsConflictingClaimants(t *testing.T) {
	logger = log.New(&bytes.Buffer{}, "", log.Lshortfile)
	wiki := NewFakeWiki()
	wiki.Put("A", "Canonical. {{wikidata link|Q10}}")
	wiki.Put("B", "Duplicate, but also {{wikidata link|Q10}} {{wikidata link|Q11}}")

	r := NewRegistry()
	r.Add("Q10", "A")
	r.Add("Q10", "B")
	r.Add("Q11", "B")
	r.Freeze()

	stats := &RunStats{}
	err := mergeAllDuplicates(context.Background(), guardWiki(wiki, true, 0, stats), r, Shard{}, stats)
	if err != nil {
		t.Fatal(err)
	}
	if len(wiki.Log) != 0 {
		t.Errorf("expected no writes, got %v", wiki.Log)
	}
}

// When a pair fails, the QID keeps its disambiguation bookkeeping; a
// premature redirect would hide the unresolved duplicate.
func TestMergeAllDuplicatesKeepsBookkeepingOnFailure(t *testing.T) {
	logger = log.New(&bytes.Buffer{}, "", log.Lshortfile)
	wiki := NewFakeWiki()
	wiki.Put("A", "Canonical. {{wikidata link|Q10}}")
	wiki.Put("B", "Duplicate. {{wikidata link|Q10}}")
	bookkeeping := "# [[A]]\n# [[B]]\n\n[[Category:QID disambiguation pages]]"
	wiki.Put("Q10", bookkeeping)
	wiki.FailWith("B", errEditConflict)

	r := NewRegistry()
	r.Add("Q10", "A")
	r.Add("Q10", "B")
	r.Freeze()

	stats := &RunStats{}
	err := mergeAllDuplicates(context.Background(), guardWiki(wiki, true, 0, stats), r, Shard{}, stats)
	if err != nil {
		t.Fatal(err)
	}
	if got := wiki.Text("Q10"); got != bookkeeping {
		t.Errorf("bookkeeping rewritten despite failed pair: %q", got)
	}
	if stats.Skips != 1 {
		t.Errorf("expected 1 skip, got %d", stats.Skips)
	}
}
