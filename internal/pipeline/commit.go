// Package pipeline is the per-session concurrent controller: the STT
// worker, commit router, translation worker, summary worker, and finalizer
// (spec §4.3-4.9), wired together per session by Controller.
package pipeline

import (
	"hash/fnv"
	"regexp"
	"strings"
)

// terminalPunctuationRe matches the terminal punctuation set the STT worker
// scans a draft for, grounded on original_source's
// vitranslation/virecord/consumers.py `_PUNCT_RE`.
var terminalPunctuationRe = regexp.MustCompile(`[.!?。！？]`)

// lastPunctuationEnd returns the byte offset just past the last terminal
// punctuation mark in s, or -1 if none is present.
func lastPunctuationEnd(s string) int {
	matches := terminalPunctuationRe.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return -1
	}
	return matches[len(matches)-1][1]
}

// retreatToWordBoundary moves cursor backward until it does not split an
// alphanumeric token (invariant 2): stt_cumulative[cursor] must never be
// the interior of a word.
func retreatToWordBoundary(s string, cursor int) int {
	if cursor <= 0 || cursor >= len(s) {
		return cursor
	}
	isWord := func(b byte) bool {
		return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
	}
	for cursor > 0 && isWord(s[cursor-1]) && isWord(s[cursor]) {
		cursor--
	}
	return cursor
}

// normalizeCommit collapses internal whitespace and trims ends, the Commit
// Router's (C4) normalization step.
func normalizeCommit(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// commitHash returns a stable hash of a normalized commit string, used to
// dedupe against Session.LastCommitHash.
func commitHash(normalized string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))
	return h.Sum64()
}
