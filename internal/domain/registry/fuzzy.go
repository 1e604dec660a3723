package registry

import (
	"sort"
	"strings"
)

const (
	// resolveThreshold is the minimum score at which a fuzzy match is treated
	// as the intended tool. Substring matches score 0.8, so a query that is
	// merely contained in several names does not auto-resolve.
	resolveThreshold = 0.8

	// suggestionFloor is the minimum score for a name to appear in the
	// suggestion list of a tool_not_found error.
	suggestionFloor = 0.5

	maxSuggestions = 5
)

// Match is one scored candidate from fuzzy resolution.
type Match struct {
	Name  string
	Score float64
}

// FuzzyResolve resolves a tool name against the given candidate names.
// On an exact hit it returns the name with no suggestions. On a miss it
// returns the best candidate when it is unambiguous and scores at or above
// resolveThreshold; otherwise it returns up to five ranked suggestions.
func FuzzyResolve(query string, names []string) (resolved string, suggestions []string) {
	matches := scoreNames(query, names)
	if len(matches) == 0 {
		return "", nil
	}
	if matches[0].Score >= 1.0 {
		return matches[0].Name, nil
	}

	ambiguous := len(matches) > 1 && matches[1].Score == matches[0].Score
	if matches[0].Score >= resolveThreshold && !ambiguous {
		return matches[0].Name, nil
	}

	for _, m := range matches {
		if m.Score < suggestionFloor {
			break
		}
		suggestions = append(suggestions, m.Name)
		if len(suggestions) == maxSuggestions {
			break
		}
	}
	return "", suggestions
}

// scoreNames ranks candidate names against the query. Ordering is score
// descending, then shorter name, then lexicographic.
func scoreNames(query string, names []string) []Match {
	queryLower := strings.ToLower(query)
	if queryLower == "" {
		return nil
	}

	matches := make([]Match, 0, len(names))
	for _, name := range names {
		if score := scoreName(queryLower, strings.ToLower(name)); score > 0 {
			matches = append(matches, Match{Name: name, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if len(matches[i].Name) != len(matches[j].Name) {
			return len(matches[i].Name) < len(matches[j].Name)
		}
		return matches[i].Name < matches[j].Name
	})
	return matches
}

func scoreName(queryLower, nameLower string) float64 {
	if nameLower == queryLower {
		return 1.0
	}
	if strings.HasPrefix(nameLower, queryLower) || strings.HasPrefix(queryLower, nameLower) {
		return 0.9
	}
	if strings.Contains(nameLower, queryLower) || strings.Contains(queryLower, nameLower) {
		return 0.8
	}

	distance := levenshteinDistance(queryLower, nameLower)
	maxLen := len(queryLower)
	if len(nameLower) > maxLen {
		maxLen = len(nameLower)
	}
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(distance)/float64(maxLen)
}

// levenshteinDistance calculates the edit distance between two strings using
// two rows instead of the full matrix.
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	r1 := []rune(s1)
	r2 := []rune(s2)

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := 0; j <= len(r2); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = minInt(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}

func minInt(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
