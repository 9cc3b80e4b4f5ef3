package deployment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// ParseNodeRange expands a node range such as "1-3,5" into node ids, in order and without
// duplicates.
func ParseNodeRange(expr string) ([]string, error) {
	var ids []string
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty element in node range '%s'", expr)
		}

		from, to, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("invalid node id '%s' in node range '%s'", from, expr)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
				return nil, fmt.Errorf("invalid node id '%s' in node range '%s'", to, expr)
			}
		}
		if first < 0 || last < first {
			return nil, fmt.Errorf("invalid range '%s' in node range '%s'", part, expr)
		}

		for id := first; id <= last; id++ {
			ids = append(ids, strconv.Itoa(id))
		}
	}
	return lo.Uniq(ids), nil
}

// parseTaskReference splits "name/node-range". Nodes is nil when the reference has no range.
func parseTaskReference(reference string) (name string, nodes []string, err error) {
	name, expr, qualified := strings.Cut(reference, "/")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("missing task name in '%s'", reference)
	}
	if !qualified {
		return name, nil, nil
	}
	nodes, err = ParseNodeRange(expr)
	return name, nodes, err
}
