// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"regexp"
	"sort"
	"strings"
)

// The two marker forms that tie a wiki page to a Wikidata item. The
// template form {{wikidata link|Q123}} is what our own bots write; the
// interwiki form [[wikidata:Q123]] occurs on pages that were linked by
// hand. Both are matched case-insensitively and tolerate extra
// parameters after the item ID.
var (
	templateMarkerRe = regexp.MustCompile(`(?i)\{\{\s*wikidata[ _]+link\s*\|\s*(q\d+)\s*(?:\|[^{}]*)?\}\}`)
	interwikiMarkerRe = regexp.MustCompile(`(?i)\[\[\s*wikidata\s*:\s*(q\d+)\s*(?:\|[^\[\]]*)?\]\]`)

	qidRe = regexp.MustCompile(`^Q\d+$`)

	redirectRe = regexp.MustCompile(`(?i)^\s*#redirect\s*:?\s*\[\[([^\[\]|]+?)(?:\|[^\[\]]*)?\]\]`)
)

// ExtractQIDs returns all Wikidata item IDs referenced from the given
// wikitext, uppercased, deduplicated and sorted. Text without any
// recognized marker yields an empty result; malformed markers are
// simply not matches.
func ExtractQIDs(text string) []string {
	seen := make(map[string]bool, 2)
	for _, re := range []*regexp.Regexp{templateMarkerRe, interwikiMarkerRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			seen[strings.ToUpper(m[1])] = true
		}
	}
	qids := make([]string, 0, len(seen))
	for qid := range seen {
		qids = append(qids, qid)
	}
	sort.Sort(byQIDNumber(qids))
	return qids
}

// IsQID reports whether a string is a well-formed Wikidata item ID.
func IsQID(s string) bool {
	return qidRe.MatchString(s)
}

// byQIDNumber sorts item IDs by their numeric part, so that Q99 comes
// before Q100.
type byQIDNumber []string

func (s byQIDNumber) Len() int      { return len(s) }
func (s byQIDNumber) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s byQIDNumber) Less(i, j int) bool {
	a, b := s[i], s[j]
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// ParseRedirectTarget extracts the target title from a redirect page.
// The second result is false if the text is not a redirect. The target
// keeps its #section anchor, if any; callers that only compare titles
// strip it through NormalizeTitle.
func ParseRedirectTarget(text string) (string, bool) {
	m := redirectRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	target := strings.TrimSpace(m[1])
	if target == "" || strings.HasPrefix(target, "#") {
		// "#REDIRECT [[#section]]" points nowhere we can follow.
		return "", false
	}
	return target, true
}

// IsRedirect reports whether wikitext is a redirect page.
func IsRedirect(text string) bool {
	_, ok := ParseRedirectTarget(text)
	return ok
}
