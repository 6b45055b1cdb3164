// Package sanitize maps remote paths to local paths that are valid on every
// supported filesystem, Windows being the most restrictive one.
package sanitize

import (
	"sort"
	"strings"

	"github.com/m-mizutani/davmirror/pkg/domain/model"
)

// IllegalChars are removed from every path segment
const IllegalChars = `<>:"/|?*`

// EmptySegment replaces a segment that consists only of illegal characters or that
// would resolve to the current or parent directory once cleaned
const EmptySegment = "_"

// Segment strips illegal characters from a single path segment
func Segment(seg string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(IllegalChars, r) {
			return -1
		}
		return r
	}, seg)

	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return EmptySegment
	}
	return cleaned
}

// Path sanitizes each segment of p independently and joins them with "/".
// Empty segments from leading, trailing or doubled separators are dropped.
func Path(p model.RemotePath) model.LocalPath {
	var segs []string
	for _, seg := range strings.Split(string(p), "/") {
		if seg == "" {
			continue
		}
		segs = append(segs, Segment(seg))
	}
	return model.LocalPath(strings.Join(segs, "/"))
}

// BuildRecords sanitizes all paths. When several remote paths map to one local path the
// lexicographically first keeps it and the others are returned as conflicts.
func BuildRecords(paths []model.RemotePath) ([]model.ResourceRecord, []model.Conflict) {
	sorted := make([]model.RemotePath, len(paths))
	copy(sorted, paths)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	claimed := make(map[model.LocalPath]model.RemotePath, len(sorted))
	records := make([]model.ResourceRecord, 0, len(sorted))
	var conflicts []model.Conflict

	for _, remote := range sorted {
		local := Path(remote)
		if owner, ok := claimed[local]; ok {
			if owner != remote {
				conflicts = append(conflicts, model.Conflict{
					Remote:    remote,
					Local:     local,
					ClaimedBy: owner,
				})
			}
			continue
		}
		claimed[local] = remote
		records = append(records, model.ResourceRecord{Remote: remote, Local: local})
	}

	return records, conflicts
}
