// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// mergedCategory tags pages that received merged content, for human
// review of bot merges.
const mergedCategory = "[[Category:Merged pages]]"

func mergeHeading(duplicate string) string {
	return "== Merged from " + duplicate + " =="
}

func mergeComment(canonical string) string {
	return "<!-- Merged into [[" + canonical + "]] -->"
}

// MergeDuplicate folds the content of duplicate into canonical and
// turns duplicate into a redirect there. Two writes at most, and they
// are not atomic: an interrupted merge leaves the appended content in
// place, and the next run finishes the redirect. Both writes carry a
// provenance marker, which is also how an already-merged pair is
// detected and left alone.
func MergeDuplicate(ctx context.Context, w Wiki, canonical, duplicate string) error {
	if SameTitle(canonical, duplicate) {
		return fmt.Errorf("cannot merge %q into itself", duplicate)
	}
	canonicalPage, err := w.ReadPage(ctx, canonical)
	if err != nil {
		return err
	}
	if canonicalPage.Redirect {
		return fmt.Errorf("merge target %q is a redirect", canonical)
	}
	duplicatePage, err := w.ReadPage(ctx, duplicate)
	if err != nil {
		return err
	}
	if duplicatePage.Redirect {
		target, _ := ParseRedirectTarget(duplicatePage.Text)
		if SameTitle(target, canonical) {
			return nil // merged on an earlier run
		}
		return fmt.Errorf("%q already redirects to %q, not merging", duplicate, target)
	}

	if !strings.Contains(canonicalPage.Text, mergeHeading(duplicate)) {
		var sb strings.Builder
		sb.WriteString(strings.TrimRight(canonicalPage.Text, "\n"))
		sb.WriteString("\n\n")
		sb.WriteString(mergeHeading(duplicate))
		sb.WriteString("\n")
		sb.WriteString(duplicatePage.Text)
		if !strings.Contains(sb.String(), mergedCategory) {
			sb.WriteString("\n\n")
			sb.WriteString(mergedCategory)
		}
		err := w.SavePage(ctx, canonical, sb.String(),
			fmt.Sprintf("Bot: merging content from [[%s]]", duplicate),
			canonicalPage.Timestamp)
		if err != nil {
			return err
		}
	}

	// The redirect line must come first; MediaWiki only honors it at
	// the top of the page.
	text := redirectText(canonical) + "\n" + mergeComment(canonical)
	return w.SavePage(ctx, duplicate, text,
		fmt.Sprintf("Bot: merged into [[%s]]", canonical),
		duplicatePage.Timestamp)
}

// repointBookkeeping rewrites the bookkeeping page for qid into a
// plain redirect to canonical. The caller has just folded every other
// claimant into canonical, so unlike SyncBookkeeping this may collapse
// a disambiguation list. Content in neither recognized form is still
// left alone.
func repointBookkeeping(ctx context.Context, w Wiki, qid, canonical string) error {
	desired := redirectText(canonical)
	base := ""
	page, err := w.ReadPage(ctx, qid)
	switch {
	case err == nil:
		if page.Text == desired {
			return nil
		}
		if !page.Redirect {
			if _, ok := ParseDisambigList(page.Text); !ok && strings.TrimSpace(page.Text) != "" {
				logger.Printf("page %q is not a bookkeeping page, leaving it alone", qid)
				return nil
			}
		}
		base = page.Timestamp
	case errors.Is(err, errNotFound):
	default:
		return err
	}
	return w.SavePage(ctx, qid, desired,
		fmt.Sprintf("Bot: redirect %s to [[%s]] after merge", qid, canonical), base)
}

// mergeAllDuplicates merges every duplicate claimant in the registry
// into its canonical page, one pair at a time. A failed pair is logged
// and does not stop the others, but its QID keeps its disambiguation
// bookkeeping until a later run merges cleanly. Items whose claimants
// themselves reference several QIDs are left for human triage: merging
// such a page would fold a second item's marker into the canonical
// page.
func mergeAllDuplicates(ctx context.Context, w Wiki, r *Registry, shard Shard, stats *RunStats) error {
	for _, qid := range r.ConflictingQIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !shard.Contains(qid) {
			continue
		}
		claimants := r.PagesFor(qid)
		conflicted := false
		for _, claimant := range claimants {
			if len(r.QIDsFor(claimant)) > 1 {
				conflicted = true
				break
			}
		}
		if conflicted {
			logger.Printf("not merging %s: a claimant references several items", qid)
			continue
		}
		canonical := CanonicalOf(claimants)
		allMerged := true
		for _, duplicate := range claimants {
			if SameTitle(duplicate, canonical) {
				continue
			}
			err := MergeDuplicate(ctx, w, canonical, duplicate)
			if err == nil {
				logger.Printf("merged %q into %q for %s", duplicate, canonical, qid)
				continue
			}
			if errors.Is(err, errEditBudget) {
				logger.Printf("edit budget reached after %d edits, ending merge", stats.Edits)
				return nil
			}
			allMerged = false
			if isSkippable(err) {
				stats.Skip(duplicate, err)
			} else {
				stats.Fail(duplicate, err)
			}
		}
		if !allMerged {
			continue
		}
		err := repointBookkeeping(ctx, w, qid, canonical)
		if err == nil {
			continue
		}
		if errors.Is(err, errEditBudget) {
			logger.Printf("edit budget reached after %d edits, ending merge", stats.Edits)
			return nil
		}
		if isSkippable(err) {
			stats.Skip(qid, err)
		} else {
			stats.Fail(qid, err)
		}
	}
	return nil
}
