// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cgt.name/pkg/go-mwclient"
	"cgt.name/pkg/go-mwclient/params"
	"github.com/antonholmquist/jason"
	"golang.org/x/time/rate"
)

// Page is a snapshot of a wiki page at read time. Timestamp is the
// revision timestamp the wiki reported; it goes back out with the next
// save so the wiki can detect edit conflicts.
type Page struct {
	Title     string
	Text      string
	Timestamp string
	Redirect  bool
}

// Errors in the taxonomy that callers act on. Everything else is
// logged and skipped.
var (
	errNotFound     = errors.New("page not found")
	errEditConflict = errors.New("edit conflict")
	errRateLimited  = errors.New("rate limited")
	errEditBudget   = errors.New("edit budget exhausted")
)

// Wiki is the subset of a MediaWiki site this program reads and writes.
//
// We define our own interface for easier testing, so we only have to
// fake the parts of the API that we actually use. A fake implementation
// for tests is in FakeWiki, implemented in wiki_test.go; the real one,
// backed by the MediaWiki Action API, is below.
type Wiki interface {
	// ReadPage returns the current text of a page, or errNotFound.
	ReadPage(ctx context.Context, title string) (*Page, error)

	// SavePage writes new text. BaseTimestamp must be the Timestamp of
	// the Page the new text was derived from, or empty when creating.
	// A write that would not change anything succeeds without editing.
	SavePage(ctx context.Context, title, text, summary, baseTimestamp string) error

	// DeletePage removes a page, with a reason for the deletion log.
	DeletePage(ctx context.Context, title, reason string) error

	// CategoryMembers streams the titles in a category to out.
	CategoryMembers(ctx context.Context, category string, out chan<- string) error

	// AllRedirects streams the titles of all main-namespace redirects.
	AllRedirects(ctx context.Context, out chan<- string) error

	// DoubleRedirects streams the origins of known double redirects,
	// from the wiki's own maintenance report.
	DoubleRedirects(ctx context.Context, out chan<- string) error
}

// rateLimitCooldown is how long we wait before the single retry after
// the wiki told us to slow down.
const rateLimitCooldown = 60 * time.Second

type liveWiki struct {
	client   *mwclient.Client
	limiter  *rate.Limiter
	cooldown time.Duration
}

// NewLiveWiki connects to a MediaWiki Action API endpoint. Writes are
// spaced at least `throttle` apart; reads are not throttled.
func NewLiveWiki(apiURL, userAgent string, throttle time.Duration) (*liveWiki, error) {
	client, err := mwclient.New(apiURL, userAgent)
	if err != nil {
		return nil, err
	}
	client.Maxlag.On = true
	if throttle <= 0 {
		throttle = time.Second
	}
	return &liveWiki{
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(throttle), 1),
		cooldown: rateLimitCooldown,
	}, nil
}

func (w *liveWiki) Login(username, password string) error {
	if err := w.client.Login(username, password); err != nil {
		return fmt.Errorf("logging in as %s: %w", username, err)
	}
	return nil
}

func (w *liveWiki) ReadPage(ctx context.Context, title string) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, timestamp, err := w.client.GetPageByName(title)
	if err != nil {
		if errors.Is(err, mwclient.ErrPageNotFound) {
			return nil, fmt.Errorf("%q: %w", title, errNotFound)
		}
		return nil, classifyAPIError(err)
	}
	return &Page{
		Title:     title,
		Text:      text,
		Timestamp: timestamp,
		Redirect:  IsRedirect(text),
	}, nil
}

func (w *liveWiki) SavePage(ctx context.Context, title, text, summary, baseTimestamp string) error {
	p := params.Values{
		"title":   title,
		"text":    text,
		"summary": summary,
		"bot":     "true",
	}
	if baseTimestamp != "" {
		p["basetimestamp"] = baseTimestamp
	}
	return w.mutate(ctx, "saving", title, func() error {
		return w.edit(ctx, p)
	})
}

func (w *liveWiki) DeletePage(ctx context.Context, title, reason string) error {
	return w.mutate(ctx, "deleting", title, func() error {
		return w.delete(ctx, title, reason)
	})
}

// mutate runs one write operation. When the wiki reports rate
// limiting, it waits out the cooldown and retries the same operation
// exactly once. A successful write pays the write throttle before
// returning.
func (w *liveWiki) mutate(ctx context.Context, what, title string, op func() error) error {
	err := op()
	if errors.Is(err, errRateLimited) {
		logger.Printf("rate limited while %s %q, cooling down", what, title)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cooldown):
		}
		err = op()
	}
	if err != nil {
		return err
	}
	return w.limiter.Wait(ctx)
}

func (w *liveWiki) edit(ctx context.Context, p params.Values) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := w.client.Edit(p)
	if err == nil || errors.Is(err, mwclient.ErrEditNoChange) {
		return nil
	}
	return classifyAPIError(err)
}

func (w *liveWiki) delete(ctx context.Context, title, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	token, err := w.client.GetToken(mwclient.CSRFToken)
	if err != nil {
		return err
	}
	_, err = w.client.Post(params.Values{
		"action": "delete",
		"title":  title,
		"reason": reason,
		"token":  token,
	})
	return classifyAPIError(err)
}

func (w *liveWiki) CategoryMembers(ctx context.Context, category string, out chan<- string) error {
	return w.listTitles(ctx, params.Values{
		"list":    "categorymembers",
		"cmtitle": "Category:" + category,
		"cmlimit": "max",
	}, []string{"query", "categorymembers"}, out)
}

func (w *liveWiki) AllRedirects(ctx context.Context, out chan<- string) error {
	return w.listTitles(ctx, params.Values{
		"list":          "allpages",
		"apnamespace":   "0",
		"apfilterredir": "redirects",
		"aplimit":       "max",
	}, []string{"query", "allpages"}, out)
}

func (w *liveWiki) DoubleRedirects(ctx context.Context, out chan<- string) error {
	return w.listTitles(ctx, params.Values{
		"list":    "querypage",
		"qppage":  "DoubleRedirects",
		"qplimit": "max",
	}, []string{"query", "querypage", "results"}, out)
}

// listTitles runs a list query through the API continuation protocol
// and streams every returned title to out.
func (w *liveWiki) listTitles(ctx context.Context, p params.Values, path []string, out chan<- string) error {
	query := w.client.NewQuery(p)
	for query.Next() {
		titles, err := titlesFromResponse(query.Resp(), path)
		if err != nil {
			return err
		}
		for _, title := range titles {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- title:
			}
		}
	}
	if err := query.Err(); err != nil {
		return classifyAPIError(err)
	}
	return nil
}

// titlesFromResponse pulls the "title" field out of every object in a
// list query response. A response without the list (an empty result
// batch) yields no titles and no error.
func titlesFromResponse(resp *jason.Object, path []string) ([]string, error) {
	entries, err := resp.GetObjectArray(path...)
	if err != nil {
		return nil, nil
	}
	titles := make([]string, 0, len(entries))
	for _, entry := range entries {
		title, err := entry.GetString("title")
		if err != nil {
			return nil, fmt.Errorf("list entry without title: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, nil
}

// classifyAPIError maps MediaWiki API errors onto our error taxonomy.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr mwclient.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "editconflict":
			return fmt.Errorf("%w: %s", errEditConflict, apiErr.Info)
		case "ratelimited", "readonly":
			return fmt.Errorf("%w: %s", errRateLimited, apiErr.Info)
		case "missingtitle":
			return fmt.Errorf("%s: %w", apiErr.Info, errNotFound)
		}
		return err
	}
	if errors.Is(err, mwclient.ErrAPIBusy) {
		// The client already retried with maxlag backoff and gave up.
		return fmt.Errorf("%w: %v", errRateLimited, err)
	}
	return err
}

// guardedWiki wraps another Wiki and enforces the run's write policy:
// without --apply every mutation is only logged, and --max-edits caps
// how many mutations a single run may perform. Reads pass through.
// A run tag, when set, is stamped onto every edit summary so recent
// bot passes are identifiable in page histories.
type guardedWiki struct {
	inner    Wiki
	apply    bool
	maxEdits int
	runTag   string
	stats    *RunStats
}

func guardWiki(inner Wiki, apply bool, maxEdits int, stats *RunStats) *guardedWiki {
	return &guardedWiki{inner: inner, apply: apply, maxEdits: maxEdits, stats: stats}
}

func (g *guardedWiki) tag(summary string) string {
	if g.runTag == "" {
		return summary
	}
	return "[" + g.runTag + "] " + summary
}

func (g *guardedWiki) ReadPage(ctx context.Context, title string) (*Page, error) {
	return g.inner.ReadPage(ctx, title)
}

func (g *guardedWiki) CategoryMembers(ctx context.Context, category string, out chan<- string) error {
	return g.inner.CategoryMembers(ctx, category, out)
}

func (g *guardedWiki) AllRedirects(ctx context.Context, out chan<- string) error {
	return g.inner.AllRedirects(ctx, out)
}

func (g *guardedWiki) DoubleRedirects(ctx context.Context, out chan<- string) error {
	return g.inner.DoubleRedirects(ctx, out)
}

func (g *guardedWiki) SavePage(ctx context.Context, title, text, summary, baseTimestamp string) error {
	if !g.apply {
		logger.Printf("dry run: would save %q (%s)", title, summary)
		g.stats.Planned++
		return nil
	}
	if g.maxEdits > 0 && g.stats.Edits >= g.maxEdits {
		return errEditBudget
	}
	if err := g.inner.SavePage(ctx, title, text, g.tag(summary), baseTimestamp); err != nil {
		return err
	}
	g.stats.Edits++
	return nil
}

func (g *guardedWiki) DeletePage(ctx context.Context, title, reason string) error {
	if !g.apply {
		logger.Printf("dry run: would delete %q (%s)", title, reason)
		g.stats.Planned++
		return nil
	}
	if g.maxEdits > 0 && g.stats.Edits >= g.maxEdits {
		return errEditBudget
	}
	if err := g.inner.DeletePage(ctx, title, g.tag(reason)); err != nil {
		return err
	}
	g.stats.Edits++
	return nil
}
