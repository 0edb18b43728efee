package library

import (
	"github.com/nbd-wtf/go-nostr"
)

func GetFirstTag(e nostr.Event, startsWith string) (string, bool) {
	for _, tag := range e.Tags {
		if tag.StartsWith([]string{startsWith}) && len(tag) > 1 {
			return tag.Value(), true
		}
	}
	return "", false
}

// HasTag reports whether e carries a tag with exactly this key and value.
func HasTag(e nostr.Event, key, value string) bool {
	for _, tag := range e.Tags {
		if len(tag) > 1 && tag[0] == key && tag[1] == value {
			return true
		}
	}
	return false
}
