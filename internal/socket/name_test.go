package socket

import "testing"

func TestNormalizeEventName(t *testing.T) {
	cases := map[string]string{
		"fileRename":           "fileRename",
		"file-rename":          "fileRename",
		"chat-conversations-new": "chatConversationsNew",
		"newEvent":             "newEvent",
		"trash-empty":          "trashEmpty",
		"a-b-c":                "aBC",
		"":                     "",
	}
	for in, want := range cases {
		if got := normalizeEventName(in); got != want {
			t.Errorf("normalizeEventName(%q) = %q, want %q", in, got, want)
		}
	}
}
