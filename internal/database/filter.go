package database

import "github.com/peertree/msgtree/internal/tree"

// compileFilter parses a query pattern into a tree.Filter. The only
// clause supported is a single field equality, "key=value" -- a
// deliberately narrower "safe query filter" than original_source's full
// boolean QueryFilter tree, chosen so a malformed or hostile pattern can
// never build an unbounded predicate. An empty pattern matches everything.
func compileFilter(pattern string) tree.Filter {
	if pattern == "" {
		return nil
	}
	key, value := splitOnce(pattern, '=')
	if key == "" {
		return nil
	}
	return func(_ string, n *tree.Node) bool {
		if n.Payload() == nil {
			return false
		}
		got, ok := n.Payload().Get(key)
		return ok && string(got) == value
	}
}

func splitOnce(s string, sep byte) (before, after string) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:]
		}
	}
	return "", ""
}
