package priorartsearch

import "strings"

// mergeHits concatenates the source lists (web first) and removes exact
// text duplicates, keeping the first occurrence. Hits whose text is blank
// are dropped and counted.
func mergeHits(lists ...[]Hit) (merged []Hit, malformed int) {
	seen := map[string]struct{}{}
	for _, list := range lists {
		for _, h := range list {
			if strings.TrimSpace(h.Text) == "" {
				malformed++
				continue
			}
			if _, ok := seen[h.Text]; ok {
				continue
			}
			seen[h.Text] = struct{}{}
			merged = append(merged, h)
		}
	}
	return merged, malformed
}
