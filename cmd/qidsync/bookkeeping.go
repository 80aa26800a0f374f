// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// disambigCategory tags bookkeeping pages that list several claimants.
// Human triage only; nothing here reads it back.
const disambigCategory = "[[Category:QID disambiguation pages]]"

var listEntryRe = regexp.MustCompile(`^# \[\[([^\[\]|]+)\]\]$`)

// ParseDisambigList parses a disambiguation bookkeeping page into its
// listed titles. The second result is false if the text contains
// anything beyond numbered link lines, category links and blank lines,
// meaning the page is not one of ours.
func ParseDisambigList(text string) ([]string, bool) {
	entries := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := listEntryRe.FindStringSubmatch(line); m != nil {
			entries = append(entries, strings.TrimSpace(m[1]))
			continue
		}
		if strings.HasPrefix(line, "[[Category:") && strings.HasSuffix(line, "]]") {
			continue
		}
		return nil, false
	}
	return entries, true
}

func redirectText(target string) string {
	return "#REDIRECT [[" + target + "]]"
}

func disambigText(entries []string) string {
	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString("# [[")
		sb.WriteString(entry)
		sb.WriteString("]]\n")
	}
	sb.WriteString("\n")
	sb.WriteString(disambigCategory)
	return sb.String()
}

func containsTitle(titles []string, title string) bool {
	for _, t := range titles {
		if SameTitle(t, title) {
			return true
		}
	}
	return false
}

// bookkeepingPlan is what SyncBookkeeping decided to do about one
// bookkeeping page. The zero value means leave the page as it is.
type bookkeepingPlan struct {
	Text    string
	Summary string
	Write   bool
	Foreign bool // content we do not recognize, hands off
}

// planBookkeeping computes the desired state of the bookkeeping page
// for a QID from its current text and the claimant set. Pure function;
// all wiki traffic happens in SyncBookkeeping.
//
// A page that currently redirects to a title outside the claimant set
// is turned into a disambiguation list carrying both the old target
// and the claimants, never silently overwritten: the old claim may
// still be valid and a human should decide. For the same reason a
// disambiguation list that names more titles than the registry
// currently sees is left in place.
func planBookkeeping(qid, current string, exists bool, claimants []string) bookkeepingPlan {
	if len(claimants) == 0 {
		return bookkeepingPlan{}
	}
	if strings.TrimSpace(current) == "" {
		exists = false
	}

	existingTarget := ""
	var listed []string
	isList := false
	if exists {
		if target, ok := ParseRedirectTarget(current); ok {
			existingTarget, _ = NormalizeTitle(target)
		} else if entries, ok := ParseDisambigList(current); ok {
			listed, isList = entries, true
		} else {
			return bookkeepingPlan{Foreign: true}
		}
	}

	if len(claimants) == 1 {
		claimant := claimants[0]
		redirect := func() bookkeepingPlan {
			desired := redirectText(claimant)
			return bookkeepingPlan{
				Text:    desired,
				Summary: fmt.Sprintf("Bot: redirect %s to [[%s]]", qid, claimant),
				Write:   desired != current,
			}
		}
		switch {
		case !exists:
			return redirect()
		case existingTarget != "" && SameTitle(existingTarget, claimant):
			return redirect()
		case isList && len(listed) == 1 && SameTitle(listed[0], claimant):
			// The claimant set shrank back to one; collapse the list.
			return redirect()
		case isList:
			return bookkeepingPlan{}
		}
		// Redirects to a page that no longer claims the item.
		claimants = []string{claimant}
	}

	entries := listed
	if existingTarget != "" {
		entries = []string{existingTarget}
	}
	for _, claimant := range claimants {
		if !containsTitle(entries, claimant) {
			entries = append(entries, claimant)
		}
	}
	desired := disambigText(entries)
	return bookkeepingPlan{
		Text:    desired,
		Summary: fmt.Sprintf("Bot: %s claimed by multiple pages, disambiguating", qid),
		Write:   !exists || desired != current,
	}
}

// SyncBookkeeping brings the bookkeeping page titled qid in line with
// its claimant set: a redirect for a single claimant, a disambiguation
// list for several. At most one write per call, and none when the page
// already has the desired text. An empty claimant set is no action;
// stale bookkeeping pages are tolerated, not garbage collected.
func SyncBookkeeping(ctx context.Context, w Wiki, qid string, claimants []string) error {
	if len(claimants) == 0 || !IsQID(qid) {
		return nil
	}
	current, exists, base := "", false, ""
	page, err := w.ReadPage(ctx, qid)
	switch {
	case err == nil:
		current, exists, base = page.Text, true, page.Timestamp
	case errors.Is(err, errNotFound):
	default:
		return err
	}

	plan := planBookkeeping(qid, current, exists, claimants)
	if plan.Foreign {
		logger.Printf("page %q is not a bookkeeping page, leaving it alone", qid)
		return nil
	}
	if !plan.Write {
		return nil
	}
	return w.SavePage(ctx, qid, plan.Text, plan.Summary, base)
}

// syncAllBookkeeping refreshes the bookkeeping page of every item in
// the registry, continuing past per-item failures. Reaching the edit
// budget ends the pass cleanly. Sharding partitions by QID, so every
// shard still sees an item's full claimant list.
func syncAllBookkeeping(ctx context.Context, w Wiki, r *Registry, shard Shard, stats *RunStats) error {
	for _, qid := range r.QIDs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !shard.Contains(qid) {
			continue
		}
		err := SyncBookkeeping(ctx, w, qid, r.PagesFor(qid))
		if err == nil {
			continue
		}
		if errors.Is(err, errEditBudget) {
			logger.Printf("edit budget reached after %d edits, ending sync", stats.Edits)
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
