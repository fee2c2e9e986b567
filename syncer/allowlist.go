package syncer

import "strings"

// AllowList is the set of directory canonical names that may be written.
// An empty list allows every entry.
type AllowList struct {
	names map[string]struct{}
}

func NewAllowList(names ...string) AllowList {
	list := AllowList{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			list.names[name] = struct{}{}
		}
	}
	return list
}

func (a AllowList) Allows(cn string) bool {
	if len(a.names) == 0 {
		return true
	}
	_, ok := a.names[cn]
	return ok
}

func (a AllowList) Len() int {
	return len(a.names)
}
