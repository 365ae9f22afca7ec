package logging

import "testing"

func TestNew_ValidLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		log, err := New(level)
		if err != nil {
			t.Errorf("level %q: unexpected error: %v", level, err)
			continue
		}
		if log == nil {
			t.Errorf("level %q: expected logger", level)
		}
	}
}

func TestNew_UnknownLevel(t *testing.T) {
	if _, err := New("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
