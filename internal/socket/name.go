package socket

import "strings"

// normalizeEventName collapses a kebab-case wire event name into the
// camelCase form used by the EventType constants, e.g. "file-rename" ->
// "fileRename". Event names that arrive already camelCase pass through
// unchanged. Grounded on original_source/filen-sdk-rs/src/sockets.rs's
// normalize_event_name.
func normalizeEventName(name string) string {
	if !strings.Contains(name, "-") {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	upperNext := false
	for _, r := range name {
		if r == '-' {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteString(strings.ToUpper(string(r)))
			upperNext = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
