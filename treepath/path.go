// Package treepath provides the path arithmetic shared by the node store,
// the database objects' subpath routing, and the wildcard-aware delete and
// move-index operations: depth counting, segment extraction, and
// per-segment glob matching.
package treepath

import (
	"path"
	"strings"
)

const sep = "/"

// Segments splits an absolute or session-relative path into its
// slash-delimited components. A leading slash is ignored; a trailing slash
// produces a trailing empty segment (the shape of a "pick an unused ID"
// path, which the database layer resolves before the node store sees it).
func Segments(p string) []string {
	p = strings.TrimPrefix(p, sep)
	if p == "" {
		return nil
	}
	return strings.Split(p, sep)
}

// Depth returns the number of segments in p, ignoring a trailing slash.
// The root (empty path) has depth 0.
func Depth(p string) int {
	segs := Segments(strings.TrimSuffix(p, sep))
	return len(segs)
}

// Join concatenates a parent path and a child name. An empty parent yields
// just the child name (the root's children have no leading slash).
func Join(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + sep + child
}

// Parent returns the path one level up from p, and the final segment
// (the "name" of the node at p). For a depth-0 path, both are empty.
func Parent(p string) (parent, name string) {
	p = strings.TrimSuffix(p, sep)
	idx := strings.LastIndex(p, sep)
	if idx < 0 {
		return "", p
	}
	return p[:idx], p[idx+1:]
}

// HasWildcard reports whether any segment of p contains a glob
// metacharacter ('*', '?', or '[').
func HasWildcard(p string) bool {
	for _, seg := range Segments(p) {
		if segmentHasWildcard(seg) {
			return true
		}
	}
	return false
}

func segmentHasWildcard(seg string) bool {
	return strings.ContainsAny(seg, "*?[")
}

// Match reports whether the segments of pattern glob-match the segments of
// candidate one-for-one; pattern and candidate must have the same depth.
// Matching is per-segment (path.Match never sees a "/", so a "*" cannot
// cross segment boundaries) -- this is the "segment-by-segment glob"
// described by spec.md section 4.1.
func Match(pattern, candidate string) bool {
	pSegs, cSegs := Segments(pattern), Segments(candidate)
	if len(pSegs) != len(cSegs) {
		return false
	}
	for i := range pSegs {
		ok, err := path.Match(pSegs[i], cSegs[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// MatchPrefix reports whether the first n segments of pattern glob-match
// the first n segments of candidate, where n = len(Segments(pattern)).
// The session's subscriber dispatch uses it to match a subscription
// pattern against the leading segments of an event's path.
func MatchPrefix(pattern, candidate string) bool {
	pSegs, cSegs := Segments(pattern), Segments(candidate)
	if len(cSegs) < len(pSegs) {
		return false
	}
	for i := range pSegs {
		ok, err := path.Match(pSegs[i], cSegs[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Clause returns the segments of p starting at index from, rejoined with
// "/". It mirrors the original library's GetPathClause(startDepth, path)
// helper used to strip a session prefix from an absolute path, or to
// extract a subpath's relative remainder.
func Clause(from int, p string) string {
	trailingSlash := strings.HasSuffix(p, sep)
	segs := Segments(TrimSlash(p))
	if from >= len(segs) {
		if trailingSlash {
			return sep
		}
		return ""
	}
	clause := strings.Join(segs[from:], sep)
	if trailingSlash {
		clause += sep
	}
	return clause
}

// TrimSlash removes a single trailing slash, if present.
func TrimSlash(p string) string { return strings.TrimSuffix(p, sep) }

// IsAbsolute reports whether p begins with a slash.
func IsAbsolute(p string) bool { return strings.HasPrefix(p, sep) }

// sessionPrefixDepth is how many leading segments of an absolute,
// client-facing path name the session itself rather than a database
// within it -- e.g. "/zg/0/dbs/db_0/foo" names session "zg/0" -- mirroring
// original_source's GetPathClause(NODE_DEPTH_USER, path) conversion from
// an absolute MUSCLE node path to a session-relative one.
const sessionPrefixDepth = 2

// Subpath implements getDatabaseSubpath from spec.md section 4.2: given a
// database's rootPath and a client-facing path, it reports how many
// segments of path lie below rootPath (-1 if path does not fall under
// rootPath at all), and path's portion relative to rootPath.
//
// An absolute path is first reduced to a session-relative one by
// stripping the session prefix, then handled as one of: a wildcard path
// (rejected outright if it is too shallow to reach rootPath, otherwise
// matched segment-by-segment against rootPath), an exact match of
// rootPath (depth 0), or a path genuinely rooted under rootPath (depth
// counted in the remainder, which keeps a trailing slash so the caller
// can still recognize a "pick an unused ID" request).
func Subpath(rootPath, targetPath string) (depth int, relative string) {
	if IsAbsolute(targetPath) {
		return Subpath(rootPath, Clause(sessionPrefixDepth, targetPath))
	}

	if HasWildcard(targetPath) {
		rootSegs := Segments(rootPath)
		pathSegs := Segments(TrimSlash(targetPath))
		if len(pathSegs) < len(rootSegs) {
			return -1, ""
		}
		for i, rootSeg := range rootSegs {
			ok, err := path.Match(pathSegs[i], rootSeg)
			if err != nil || !ok {
				return -1, ""
			}
		}
		rel := strings.Join(pathSegs[len(rootSegs):], sep)
		if strings.HasSuffix(targetPath, sep) {
			rel += sep
		}
		return len(pathSegs) - len(rootSegs), rel
	}

	if targetPath == rootPath {
		return 0, ""
	}

	if rootPath == "" || strings.HasPrefix(targetPath, rootPath+sep) {
		rel := targetPath
		if rootPath != "" {
			rel = targetPath[len(rootPath)+1:]
		}
		d := len(Segments(TrimSlash(rel)))
		if strings.HasSuffix(targetPath, sep) && !strings.HasSuffix(rel, sep) {
			rel += sep
		}
		return d, rel
	}

	return -1, ""
}
