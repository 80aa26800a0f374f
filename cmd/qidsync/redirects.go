// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// maxRedirectHops bounds chain walks. Real chains are one or two hops;
// anything deeper than this is treated as unresolvable rather than
// walked forever.
const maxRedirectHops = 10

type ResolutionState int

const (
	Resolved ResolutionState = iota
	SelfRedirect
	Cycle
	Broken
)

func (s ResolutionState) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case SelfRedirect:
		return "self-redirect"
	case Cycle:
		return "cycle"
	case Broken:
		return "broken"
	}
	return fmt.Sprintf("ResolutionState(%d)", int(s))
}

// Resolution is the terminal state of one redirect chain walk.
// Chain holds the redirect pages walked, origin first; Target is the
// title the walk ended on. For Resolved that is the first non-redirect
// page; len(Chain) is the hop count, and two or more hops mean the
// origin was a double redirect. Anchor is the #section suffix of the
// origin's own redirect, carried along so a repair can keep it.
type Resolution struct {
	State  ResolutionState
	Target string
	Anchor string
	Chain  []string
}

// redirectLookup tells the chain walker what a title redirects to.
// Backed by the live wiki during repair runs and by an in-memory edge
// map when analyzing a dump.
type redirectLookup func(ctx context.Context, title string) (target string, isRedirect bool, err error)

func wikiLookup(w Wiki) redirectLookup {
	return func(ctx context.Context, title string) (string, bool, error) {
		page, err := w.ReadPage(ctx, title)
		if err != nil {
			return "", false, err
		}
		target, ok := ParseRedirectTarget(page.Text)
		return target, ok, nil
	}
}

// resolveChain follows the redirect chain starting at origin until it
// reaches a terminal state. The walk is bounded: revisiting any title
// ends it as SelfRedirect or Cycle, a missing or unreadable target
// ends it as Broken, and so does exceeding maxRedirectHops. A missing
// or non-redirect origin resolves to itself in zero hops.
func resolveChain(ctx context.Context, lookup redirectLookup, origin string) Resolution {
	originTitle, _ := NormalizeTitle(origin)
	visited := make(map[string]bool, 4)
	chain := make([]string, 0, 4)
	current := originTitle
	originAnchor := ""
	for {
		target, isRedirect, err := lookup(ctx, current)
		if err != nil {
			if len(chain) == 0 && errors.Is(err, errNotFound) {
				// A missing origin has nothing to follow.
				return Resolution{State: Resolved, Target: originTitle, Chain: chain}
			}
			return Resolution{State: Broken, Target: current, Anchor: originAnchor, Chain: chain}
		}
		if !isRedirect {
			return Resolution{State: Resolved, Target: current, Anchor: originAnchor, Chain: chain}
		}
		if len(chain) == maxRedirectHops {
			return Resolution{State: Broken, Target: current, Anchor: originAnchor, Chain: chain}
		}
		visited[TitleKey(current)] = true
		chain = append(chain, current)

		normalized, anchor := NormalizeTitle(target)
		if len(chain) == 1 {
			originAnchor = anchor
		}
		if visited[TitleKey(normalized)] {
			state := Cycle
			if len(chain) == 1 && SameTitle(normalized, originTitle) {
				state = SelfRedirect
			}
			return Resolution{State: state, Target: normalized, Anchor: originAnchor, Chain: chain}
		}
		current = normalized
	}
}

// rewriteRedirectTarget replaces the target inside a redirect page's
// text, leaving the marker, any pipe label and any trailing content
// untouched. The second result is false if the text is no redirect.
func rewriteRedirectTarget(text, newTarget string) (string, bool) {
	loc := redirectRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", false
	}
	return text[:loc[2]] + newTarget + text[loc[3]:], true
}

// RepairRedirect applies the repair policy to one redirect page: a
// double redirect is rewritten to point straight at the chain's end, a
// self-redirect or cycle is deleted, a broken chain is logged and left
// alone. Direct redirects and non-redirects need nothing.
func RepairRedirect(ctx context.Context, w Wiki, origin string) error {
	res := resolveChain(ctx, wikiLookup(w), origin)
	switch res.State {
	case SelfRedirect:
		logger.Printf("deleting %q: redirects to itself", origin)
		return w.DeletePage(ctx, origin, "Bot: self-redirect")
	case Cycle:
		logger.Printf("deleting %q: redirect cycle %v", origin, res.Chain)
		return w.DeletePage(ctx, origin, "Bot: redirect cycle")
	case Broken:
		logger.Printf("cannot resolve %q: chain %v breaks at %q", origin, res.Chain, res.Target)
		return nil
	}
	if len(res.Chain) < 2 {
		return nil
	}

	// Double redirect. Re-read right before writing; the chain walk's
	// copy of the origin may be stale already.
	page, err := w.ReadPage(ctx, origin)
	if err != nil {
		return err
	}
	newTarget := res.Target + res.Anchor
	text, ok := rewriteRedirectTarget(page.Text, newTarget)
	if !ok || text == page.Text {
		return nil
	}
	return w.SavePage(ctx, origin, text,
		fmt.Sprintf("Bot: fixing double redirect to [[%s]]", newTarget), page.Timestamp)
}

// repairRedirects runs RepairRedirect over an enumeration of redirect
// pages: the wiki's own double-redirect report, or every redirect in
// the main namespace when walkAll is set (the report misses loops).
func repairRedirects(ctx context.Context, w Wiki, walkAll bool, shard Shard, stats *RunStats) error {
	titles := make(chan string, 1000)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(titles)
		if walkAll {
			return w.AllRedirects(groupCtx, titles)
		}
		return w.DoubleRedirects(groupCtx, titles)
	})
	group.Go(func() error {
		for origin := range titles {
			if !shard.Contains(origin) {
				continue
			}
			stats.Pages++
			err := RepairRedirect(groupCtx, w, origin)
			if err == nil {
				continue
			}
			if errors.Is(err, errEditBudget) {
				logger.Printf("edit budget reached after %d edits, ending repair", stats.Edits)
				for range titles {
					// drain so the enumerator can finish
				}
				return nil
			}
			if isSkippable(err) {
				stats.Skip(origin, err)
			} else {
				stats.Fail(origin, err)
			}
		}
		return nil
	})
	return group.Wait()
}
