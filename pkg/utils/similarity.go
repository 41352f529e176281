package utils

import "strings"

// LevenshteinDistance is the case-insensitive edit distance between two strings.
func LevenshteinDistance(s1, s2 string) int {
	s1 = strings.ToLower(s1)
	s2 = strings.ToLower(s2)

	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}

// Similar reports whether two non-empty strings are within maxDistance edits.
func Similar(a, b string, maxDistance int) bool {
	if a == "" || b == "" {
		return false
	}
	d := len(a) - len(b)
	if d < 0 {
		d = -d
	}
	if d > maxDistance {
		return false
	}
	return LevenshteinDistance(a, b) <= maxDistance
}

func min3(a, b, c int) int {
	if a < b && a < c {
		return a
	}
	if b < c {
		return b
	}
	return c
}
