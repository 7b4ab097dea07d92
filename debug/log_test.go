package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnableFileWritesCategory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "debug.log")
	if err := EnableFile(path); err != nil {
		t.Fatalf("EnableFile: %v", err)
	}
	defer Disable()

	Log("play", "bank=%d", 3)
	LogEvery(2, "drop", "dropped")
	LogEvery(2, "drop", "dropped")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"cat=play", "bank=3", "cat=drop", "every 2, count=2"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestLogDisabledIsSilent(t *testing.T) {
	Disable()
	if Enabled() {
		t.Fatal("Enabled() = true after Disable")
	}
	Log("x", "nothing")
}

func TestSetLevel(t *testing.T) {
	if err := SetLevel("bogus"); err == nil {
		t.Error("SetLevel(bogus) = nil, want error")
	}
	if err := SetLevel("info"); err != nil {
		t.Errorf("SetLevel(info) = %v", err)
	}
	if got := Logger().GetLevel().String(); got != "info" {
		t.Errorf("level = %s, want info", got)
	}
	SetLevel("debug")
}
