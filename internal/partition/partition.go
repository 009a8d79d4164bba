// Package partition splits the configured prefixes into independent listing partitions.
package partition

import "strings"

// rootAlias is accepted as a synonym for the whole bucket
const rootAlias = "/"

// Partition is one prefix listed by one lister
type Partition struct {
	Index  int
	Prefix string
}

// Root reports whether the partition covers the whole bucket
func (p Partition) Root() bool {
	return p.Prefix == ""
}

// Contains reports whether key belongs to the partition
func (p Partition) Contains(key string) bool {
	return strings.HasPrefix(key, p.Prefix)
}

// Split turns a comma-separated prefix list into partitions, in input order.
// Entries are trimmed and de-duplicated; "/" and "" both mean the whole
// bucket. There is no rebalancing between partitions.
func Split(raw string) []Partition {
	seen := make(map[string]bool)
	var parts []Partition

	for _, item := range strings.Split(raw, ",") {
		prefix := strings.TrimSpace(item)
		if prefix == rootAlias {
			prefix = ""
		}
		if seen[prefix] {
			continue
		}
		seen[prefix] = true
		parts = append(parts, Partition{Index: len(parts), Prefix: prefix})
	}

	return parts
}
