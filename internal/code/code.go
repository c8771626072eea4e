// Package code renders and parses the human-readable codes shown for ordered
// items, e.g. REQ-007. A code is derived from the item's current order and is
// therefore only stable until the next renumber.
package code

import (
	"fmt"
	"strconv"
	"strings"
)

// Format returns prefix-NNN with the order zero-padded to at least three digits.
func Format(prefix string, order int) string {
	return fmt.Sprintf("%s-%03d", prefix, order)
}

// Parse extracts the order from a code with the given prefix.
func Parse(prefix, s string) (int, bool) {
	s = strings.TrimSpace(s)
	head, tail, ok := strings.Cut(s, "-")
	if !ok || !strings.EqualFold(head, prefix) || tail == "" {
		return 0, false
	}
	n, err := strconv.Atoi(tail)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// ParseList parses a comma-separated list of codes, skipping entries that do
// not carry the prefix. Order of first appearance is kept and duplicates dropped.
func ParseList(prefix, s string) []int {
	var out []int
	seen := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		n, ok := Parse(prefix, part)
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Join renders orders as a ", " separated code list.
func Join(prefix string, orders []int) string {
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		parts = append(parts, Format(prefix, o))
	}
	return strings.Join(parts, ", ")
}
