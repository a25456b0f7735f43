package debug

import (
	"bytes"
	"strings"
	"testing"
)

func captureAt(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		Init(LevelOff)
	})
	return &buf
}

func TestInfo_PrintedAtInfoLevel(t *testing.T) {
	buf := captureAt(t, LevelInfo)
	Info("connected to %s", "/dev/ttyACM0")
	if !strings.Contains(buf.String(), "[INFO] connected to /dev/ttyACM0") {
		t.Errorf("output = %q, missing info line", buf.String())
	}
	if !strings.Contains(buf.String(), "[ScaraGo] ") {
		t.Errorf("output = %q, missing prefix", buf.String())
	}
}

func TestLive_SuppressedBelowLiveLevel(t *testing.T) {
	buf := captureAt(t, LevelInfo)
	Command("45,-30,5.0,1,500")
	if buf.Len() != 0 {
		t.Errorf("expected no output at info level, got %q", buf.String())
	}
}

func TestCommandAndReply(t *testing.T) {
	buf := captureAt(t, LevelVerbose)
	Command("0,0,0.0,0,500")
	Reply("DONE")
	out := buf.String()
	if !strings.Contains(out, ">> 0,0,0.0,0,500") {
		t.Errorf("missing command line in %q", out)
	}
	if !strings.Contains(out, "<< DONE") {
		t.Errorf("missing reply line in %q", out)
	}
}

func TestOff_NoOutput(t *testing.T) {
	buf := captureAt(t, LevelOff)
	Info("hidden")
	Warn("hidden")
	Trace("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output when off, got %q", buf.String())
	}
}

func TestIsEnabled(t *testing.T) {
	captureAt(t, LevelLive)
	if !IsEnabled(LevelInfo) || !IsEnabled(LevelLive) {
		t.Error("info and live should be enabled at live level")
	}
	if IsEnabled(LevelVerbose) {
		t.Error("verbose should not be enabled at live level")
	}
}
