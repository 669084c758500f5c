package prompt

import (
	"sort"
	"strings"
)

// CategoryGeneral is used when no keyword matches.
const CategoryGeneral = "general"

// MaxCategoryLen bounds caller-supplied categories; it matches the storage
// column width.
const MaxCategoryLen = 64

var categoryKeywords = map[string][]string{
	"career":        {"career", "job", "work", "boss", "promotion", "interview", "resign", "quit", "coworker", "colleague", "salary", "office"},
	"relationships": {"relationship", "boyfriend", "girlfriend", "partner", "dating", "breakup", "marriage", "husband", "wife", "friend", "love"},
	"family":        {"family", "mother", "father", "mom", "dad", "parent", "sister", "brother", "child", "kids", "son", "daughter"},
	"health":        {"health", "sleep", "tired", "anxiety", "stress", "sick", "diet", "exercise", "weight", "burnout", "panic"},
	"money":         {"money", "debt", "loan", "rent", "budget", "saving", "invest", "spend", "bills", "finance"},
	"study":         {"study", "exam", "school", "university", "college", "grade", "homework", "class", "degree", "thesis"},
	"self_growth":   {"confidence", "habit", "motivation", "procrastinat", "purpose", "goal", "self-esteem", "discipline", "meaning"},
}

// Categories lists every category Categorize can return, general last.
func Categories() []string {
	out := make([]string, 0, len(categoryKeywords)+1)
	for c := range categoryKeywords {
		out = append(out, c)
	}
	sort.Strings(out)
	return append(out, CategoryGeneral)
}

// Categorize maps a free-text concern to the category with the most keyword
// hits. Ties resolve alphabetically so the result is stable.
func Categorize(concern string) string {
	text := strings.ToLower(concern)
	best, bestHits := CategoryGeneral, 0
	for _, c := range Categories() {
		hits := 0
		for _, kw := range categoryKeywords[c] {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = c, hits
		}
	}
	return best
}

// NormalizeCategory lower-cases and trims a caller-supplied category, and
// categorizes concern when the category is empty.
func NormalizeCategory(category, concern string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	c = strings.ReplaceAll(c, " ", "_")
	if c == "" {
		return Categorize(concern)
	}
	return c
}

// ValidCategory reports whether c is a normalized category: 1 to
// MaxCategoryLen bytes of [a-z0-9_].
func ValidCategory(c string) bool {
	if c == "" || len(c) > MaxCategoryLen {
		return false
	}
	for i := 0; i < len(c); i++ {
		b := c[i]
		if (b < 'a' || b > 'z') && (b < '0' || b > '9') && b != '_' {
			return false
		}
	}
	return true
}
