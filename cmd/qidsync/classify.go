// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

// Classification labels the registry's contents against the intended
// 1:1 mapping. It is derived data; nothing here mutates the wiki.
//
// Duplicate QIDs (several pages claim the same item) and conflicting
// pages (one page claims several items) are distinct failure modes:
// the first is fixed by merging or disambiguating, the second needs a
// human to decide which claim is real, so we only tag and report it.
type Classification struct {
	UniqueQIDs       []string
	DuplicateQIDs    []string
	CleanPages       []string
	ConflictingPages []string
}

func Classify(r *Registry) *Classification {
	c := &Classification{
		UniqueQIDs:       make([]string, 0, 1024),
		DuplicateQIDs:    r.ConflictingQIDs(),
		CleanPages:       make([]string, 0, 1024),
		ConflictingPages: r.ConflictingPages(),
	}
	for _, qid := range r.QIDs() {
		if len(r.PagesFor(qid)) == 1 {
			c.UniqueQIDs = append(c.UniqueQIDs, qid)
		}
	}
	for _, title := range r.Pages() {
		if len(r.QIDsFor(title)) == 1 {
			c.CleanPages = append(c.CleanPages, title)
		}
	}
	return c
}

// CanonicalOf picks the canonical page among the claimants of a
// duplicate QID: the first claimant in normalized-title sort order,
// which is the order PagesFor already returns. The rule is weak but
// deterministic, so repeated runs and disjoint shards agree on which
// page's content becomes authoritative.
func CanonicalOf(claimants []string) string {
	if len(claimants) == 0 {
		return ""
	}
	return claimants[0]
}
