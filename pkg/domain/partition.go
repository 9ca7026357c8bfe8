package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	sessionPrefix = "Session_"
	rankPrefix    = "rank_"
	// SceneIndexName names the index document rank 0 writes for parallel sessions.
	SceneIndexName = "ParallelScene"
)

// SessionDir returns the partition root for a session number.
func SessionDir(session int) string {
	return fmt.Sprintf("%s%d", sessionPrefix, session)
}

// RankPartition returns the partition a rank writes to. Single-rank jobs
// write directly into the session root.
func RankPartition(session, rank, size int) string {
	if size <= 1 {
		return SessionDir(session)
	}
	return fmt.Sprintf("%s/%s%d", SessionDir(session), rankPrefix, rank)
}

// SceneIndexPartition returns the location of a parallel session's index.
func SceneIndexPartition(session int) string {
	return SessionDir(session) + "/" + SceneIndexName
}

// ParseSessionNumber extracts N from a partition rooted at Session_N.
func ParseSessionNumber(partition string) (int, bool) {
	root, _, _ := strings.Cut(strings.TrimPrefix(partition, "/"), "/")
	digits, ok := strings.CutPrefix(root, sessionPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NextSessionNumber picks the session to write given the partitions already
// present: the highest existing number, or one past it when createNew is set.
// An empty catalog always yields session 0.
func NextSessionNumber(partitions []string, createNew bool) int {
	highest := -1
	for _, p := range partitions {
		if n, ok := ParseSessionNumber(p); ok && n > highest {
			highest = n
		}
	}
	switch {
	case highest < 0:
		return 0
	case createNew:
		return highest + 1
	default:
		return highest
	}
}
