package stt

import "strings"

// maxMergeOverlap is the longest word-level overlap considered by Merge.
const maxMergeOverlap = 5

// Merge reconciles two successive partial transcripts of the same utterance.
//
// Because the whole audio buffer is resent on each partial call, the fresh
// result should largely repeat the previous one. Merge finds the longest
// suffix of old that is a prefix of new (word-level, up to five words) and
// joins the two at that seam; without an overlap the transcripts are simply
// concatenated. An empty new keeps old unchanged.
func Merge(old, new string) string {
	old = strings.TrimSpace(old)
	new = strings.TrimSpace(new)
	if old == "" {
		return new
	}
	if new == "" {
		return old
	}

	wordsOld := strings.Fields(old)
	wordsNew := strings.Fields(new)

	max := min(min(len(wordsOld), len(wordsNew)), maxMergeOverlap)
	for n := max; n > 0; n-- {
		if wordsEqual(wordsOld[len(wordsOld)-n:], wordsNew[:n]) {
			merged := append(wordsOld, wordsNew[n:]...)
			return strings.Join(merged, " ")
		}
	}
	return old + " " + new
}

// wordsEqual reports whether two word slices are identical.
func wordsEqual(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Jaccard returns the word-level Jaccard similarity of a and b in [0, 1].
// Two empty strings are identical (1.0). Used to decide whether a final
// transcription diverges enough from the committed partial to warrant a
// corrective LLM restart.
func Jaccard(a, b string) float64 {
	wa := strings.Fields(strings.ToLower(a))
	wb := strings.Fields(strings.ToLower(b))
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}

	set := make(map[string]struct{}, len(wa))
	for _, w := range wa {
		set[w] = struct{}{}
	}
	union := make(map[string]struct{}, len(wa)+len(wb))
	for _, w := range wa {
		union[w] = struct{}{}
	}
	inter := 0
	seen := make(map[string]struct{}, len(wb))
	for _, w := range wb {
		union[w] = struct{}{}
		if _, ok := set[w]; ok {
			if _, dup := seen[w]; !dup {
				inter++
				seen[w] = struct{}{}
			}
		}
	}
	return float64(inter) / float64(len(union))
}
