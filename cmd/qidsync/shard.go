// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Shard is one disjoint partition of the page-title space, for running
// several bot processes against the same corpus. Titles are assigned
// by hashing their comparison key, so every title belongs to exactly
// one of the Count shards regardless of how it was spelled. The zero
// value is the whole corpus.
type Shard struct {
	Index int // 1-based
	Count int
}

// ParseShard parses the --shard flag, "i/n" with 1 <= i <= n.
func ParseShard(s string) (Shard, error) {
	if s == "" {
		return Shard{}, nil
	}
	indexStr, countStr, found := strings.Cut(s, "/")
	if !found {
		return Shard{}, fmt.Errorf("shard %q: want the form i/n, such as 2/6", s)
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		return Shard{}, fmt.Errorf("shard %q: %w", s, err)
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return Shard{}, fmt.Errorf("shard %q: %w", s, err)
	}
	if count < 1 || index < 1 || index > count {
		return Shard{}, fmt.Errorf("shard %q: want 1 <= i <= n", s)
	}
	return Shard{Index: index, Count: count}, nil
}

// Contains reports whether a title belongs to this shard.
func (s Shard) Contains(title string) bool {
	if s.Count <= 1 {
		return true
	}
	h := fnv.New32a()
	h.Write([]byte(TitleKey(title)))
	// Compare unsigned: int(Sum32()) goes negative on 32-bit platforms.
	return h.Sum32()%uint32(s.Count) == uint32(s.Index-1)
}

func (s Shard) String() string {
	if s.Count <= 1 {
		return "1/1"
	}
	return fmt.Sprintf("%d/%d", s.Index, s.Count)
}
