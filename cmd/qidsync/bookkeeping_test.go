// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"slices"
	"testing"
)

func TestParseDisambigList(t *testing.T) {
	entries, ok := ParseDisambigList("# [[Penguin Facts]]\n# [[Penguin Facts (old)]]\n\n[[Category:QID disambiguation pages]]")
	if !ok {
		t.Fatal("expected a recognized list")
	}
	if want := []string{"Penguin Facts", "Penguin Facts (old)"}; !slices.Equal(entries, want) {
		t.Errorf("got %v, want %v", entries, want)
	}

	for _, text := range []string{
		"An ordinary article about penguins.",
		"# [[Penguin Facts]]\nAnd a stray line.",
		"#REDIRECT [[Penguin Facts]]",
	} {
		if _, ok := ParseDisambigList(text); ok {
			t.Errorf("expected %q not to parse as a list", text)
		}
	}
}

func TestSyncBookkeepingCreatesRedirect(t *testing.T) {
	wiki := NewFakeWiki()
	err := SyncBookkeeping(context.Background(), wiki, "Q72", []string{"Zurich"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := wiki.Text("Q72"), "#REDIRECT [[Zurich]]"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if len(wiki.Log) != 1 {
		t.Errorf("expected one write, got %v", wiki.Log)
	}
}

func TestSyncBookkeepingCreatesDisambig(t *testing.T) {
	wiki := NewFakeWiki()
	err := SyncBookkeeping(context.Background(), wiki, "Q10", []string{"X", "Y"})
	if err != nil {
		t.Fatal(err)
	}
	want := "# [[X]]\n# [[Y]]\n\n[[Category:QID disambiguation pages]]"
	if got := wiki.Text("Q10"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// Syncing twice with no intervening change must write on the first
// call at most and never on the second.
func TestSyncBookkeepingIdempotent(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		claimants []string
	}{
		{"create redirect", "", []string{"X"}},
		{"create list", "", []string{"X", "Y"}},
		{"redirect to claimant", "#REDIRECT [[X]]", []string{"X"}},
		{"redirect elsewhere", "#REDIRECT [[Z]]", []string{"X"}},
		{"redirect among claimants", "#REDIRECT [[Y]]", []string{"X", "Y"}},
		{"list grows", "# [[X]]\n\n[[Category:QID disambiguation pages]]", []string{"X", "Y"}},
		{"list shrank", "# [[X]]\n# [[Y]]\n\n[[Category:QID disambiguation pages]]", []string{"X"}},
	}
	for _, c := range tests {
		wiki := NewFakeWiki()
		if c.current != "" {
			wiki.Put("Q10", c.current)
		}
		if err := SyncBookkeeping(context.Background(), wiki, "Q10", c.claimants); err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		writes := len(wiki.Log)
		if err := SyncBookkeeping(context.Background(), wiki, "Q10", c.claimants); err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if len(wiki.Log) != writes {
			t.Errorf("%s: second sync wrote again: %v", c.name, wiki.Log[writes:])
		}
	}
}

// A redirect pointing at a page that no longer claims the item is not
// overwritten; the old target survives as the first list entry.
func TestSyncBookkeepingPreservesOldTarget(t *testing.T) {
	wiki := NewFakeWiki()
	wiki.Put("Q10", "#REDIRECT [[Old Claimant]]")
	if err := SyncBookkeeping(context.Background(), wiki, "Q10", []string{"New Claimant"}); err != nil {
		t.Fatal(err)
	}
	want := "# [[Old Claimant]]\n# [[New Claimant]]\n\n[[Category:QID disambiguation pages]]"
	if got := wiki.Text("Q10"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSyncBookkeepingRedirectBecomesList(t *testing.T) {
	wiki := NewFakeWiki()
	wiki.Put("Q10", "#REDIRECT [[Y]]")
	if err := SyncBookkeeping(context.Background(), wiki, "Q10", []string{"X", "Y"}); err != nil {
		t.Fatal(err)
	}
	want := "# [[Y]]\n# [[X]]\n\n[[Category:QID disambiguation pages]]"
	if got := wiki.Text("Q10"); got != want {
		t.Errorf("existing target must stay first: got %q, want %q", got, want)
	}
}

// Once several pages claim an item the bookkeeping page stays a list;
// it only collapses back to a redirect when the list itself is down to
// the single remaining claimant.
func TestSyncBookkeepingMonotonic(t *testing.T) {
	wiki := NewFakeWiki()
	ctx := context.Background()
	if err := SyncBookkeeping(ctx, wiki, "Q10", []string{"X", "Y"}); err != nil {
		t.Fatal(err)
	}
	if err := SyncBookkeeping(ctx, wiki, "Q10", []string{"X"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := ParseDisambigList(wiki.Text("Q10")); !ok {
		t.Errorf("list with a stale entry must stay a list, got %q", wiki.Text("Q10"))
	}
}

func TestSyncBookkeepingCollapsesSingletonList(t *testing.T) {
	wiki := NewFakeWiki()
	wiki.Put("Q10", "# [[X]]\n\n[[Category:QID disambiguation pages]]")
	if err := SyncBookkeeping(context.Background(), wiki, "Q10", []string{"X"}); err != nil {
		t.Fatal(err)
	}
	if got, want := wiki.Text("Q10"), "#REDIRECT [[X]]"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSyncBookkeepingLeavesForeignContent(t *testing.T) {
	logger = log.New(&bytes.Buffer{}, "", log.Lshortfile)
	wiki := NewFakeWiki()
	article := "Q10 is also the name of a highway. {{infobox}}"
	wiki.Put("Q10", article)
	if err := SyncBookkeeping(context.Background(), wiki, "Q10", []string{"X"}); err != nil {
		t.Fatal(err)
	}
	if got := wiki.Text("Q10"); got != article {
		t.Errorf("foreign content was rewritten to %q", got)
	}
	if len(wiki.Log) != 0 {
		t.Errorf("expected no writes, got %v", wiki.Log)
	}
}

func TestSyncBookkeepingNoClaimants(t *testing.T) {
	wiki := NewFakeWiki()
	wiki.Put("Q10", "#REDIRECT [[Gone]]")
	if err := SyncBookkeeping(context.Background(), wiki, "Q10", nil); err != nil {
		t.Fatal(err)
	}
	if len(wiki.Log) != 0 {
		t.Errorf("expected no writes for an unclaimed item, got %v", wiki.Log)
	}
}

func TestSyncAllBookkeeping(t *testing.T) {
	logger = log.New(&bytes.Buffer{}, "", log.Lshortfile)
	r := NewRegistry()
	r.Add("Q7", "Alpha")
	r.Add("Q9", "Beta")
	r.Add("Q9", "Gamma")
	r.Freeze()

	wiki := NewFakeWiki()
	stats := &RunStats{}
	if err := syncAllBookkeeping(context.Background(), guardWiki(wiki, true, 0, stats), r, Shard{}, stats); err != nil {
		t.Fatal(err)
	}
	if got, want := wiki.Text("Q7"), "#REDIRECT [[Alpha]]"; got != want {
		t.Errorf("Q7: got %q, want %q", got, want)
	}
	if _, ok := ParseDisambigList(wiki.Text("Q9")); !ok {
		t.Errorf("Q9: expected a list, got %q", wiki.Text("Q9"))
	}
	if stats.Edits != 2 {
		t.Errorf("expected 2 edits, got %d", stats.Edits)
	}
}

// Shards partition by QID: across all shards every item is handled
// exactly once, and each shard sees the item's full claimant list.
func TestSyncAllBookkeepingSharded(t *testing.T) {
	logger = log.New(&bytes.Buffer{}, "", log.Lshortfile)
	r := NewRegistry()
	for i := 1; i <= 8; i++ {
		r.Add(fmt.Sprintf("Q%d", i), fmt.Sprintf("Page %d", i))
	}
	r.Freeze()

	wiki := NewFakeWiki()
	stats := &RunStats{}
	for i := 1; i <= 3; i++ {
		shard := Shard{Index: i, Count: 3}
		if err := syncAllBookkeeping(context.Background(), guardWiki(wiki, true, 0, stats), r, shard, stats); err != nil {
			t.Fatal(err)
		}
	}
	if stats.Edits != 8 {
		t.Errorf("expected 8 edits across all shards, got %d", stats.Edits)
	}
	if len(wiki.Log) != 8 {
		t.Errorf("expected every item written exactly once, got %v", wiki.Log)
	}
}

// Hitting the edit budget ends the pass cleanly instead of failing it.
func TestSyncAllBookkeepingBudget(t *testing.T) {
	logger = log.New(&bytes.Buffer{}, "", log.Lshortfile)
	r := NewRegistry()
	r.Add("Q7", "Alpha")
	r.Add("Q9", "Beta")
	r.Freeze()

	wiki := NewFakeWiki()
	stats := &RunStats{}
	if err := syncAllBookkeeping(context.Background(), guardWiki(wiki, true, 1, stats), r, Shard{}, stats); err != nil {
		t.Fatal(err)
	}
	if stats.Edits != 1 {
		t.Errorf("expected 1 edit, got %d", stats.Edits)
	}
	if !wiki.Exists("Q7") || wiki.Exists("Q9") {
		t.Errorf("expected only Q7 to be written, log %v", wiki.Log)
	}
}
