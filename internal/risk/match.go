package risk

import (
	"path"
	"strings"
)

// matchTarget matches a slash-separated target against a glob pattern.
// "**" matches any number of segments, other segments use path.Match.
func matchTarget(target, pattern string) bool {
	return matchSegments(strings.Split(target, "/"), strings.Split(pattern, "/"))
}

func matchSegments(target, pattern []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := range target {
				if matchSegments(target[i:], rest) {
					return true
				}
			}
			return false
		}
		if len(target) == 0 {
			return false
		}
		if ok, err := path.Match(head, target[0]); err != nil || !ok {
			return false
		}
		target, pattern = target[1:], pattern[1:]
	}
	return len(target) == 0
}
