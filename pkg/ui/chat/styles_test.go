package chat

import "testing"

func TestThemeCardFor(t *testing.T) {
	th := defaultTheme()

	for role, label := range map[string]string{
		"user":    "TEXT",
		"voice":   "VOICE",
		"result":  "HEARD",
		"failure": "FAILED",
		"error":   "ERROR",
		"":        "ERROR",
	} {
		if got := th.cardFor(role).label; got != label {
			t.Fatalf("cardFor(%q).label = %q, want %q", role, got, label)
		}
	}
}
