package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// capture redirects output to a buffer for the duration of the test.
func capture(t *testing.T, l Level, format string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(l)
	SetFormat(format)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(LevelInfo)
		SetFormat("text")
		SetSimpleMode(false)
	})
	return &buf
}

func TestTextLineLayout(t *testing.T) {
	buf := capture(t, LevelInfo, "text")

	Info("%-10s OK %d rows", "users", 5)

	line := strings.TrimSuffix(buf.String(), "\n")
	pattern := regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} \[INFO\] users      OK 5 rows$`)
	if !pattern.MatchString(line) {
		t.Errorf("unexpected line: %q", line)
	}
}

func TestSimpleModeDropsTimestamp(t *testing.T) {
	buf := capture(t, LevelInfo, "text")
	SetSimpleMode(true)

	Warn("orders: row counts differ")

	if got := buf.String(); got != "[WARN] orders: row counts differ\n" {
		t.Errorf("got %q", got)
	}
}

func TestMessageWithoutArgsIsNotFormatted(t *testing.T) {
	buf := capture(t, LevelInfo, "text")
	SetSimpleMode(true)

	msg := "100% of tables checked"
	Info(msg)

	if !strings.Contains(buf.String(), "100% of tables checked") {
		t.Errorf("message was mangled: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level Level
		want  []string
	}{
		{LevelDebug, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{LevelInfo, []string{"INFO", "WARN", "ERROR"}},
		{LevelWarn, []string{"WARN", "ERROR"}},
		{LevelError, []string{"ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			buf := capture(t, tt.level, "text")
			SetSimpleMode(true)

			Debug("d")
			Info("i")
			Warn("w")
			Error("e")

			var got []string
			sc := bufio.NewScanner(buf)
			for sc.Scan() {
				got = append(got, strings.Trim(strings.Fields(sc.Text())[0], "[]"))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("levels written = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJSONEntry(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(string, ...interface{})
		level   string
	}{
		{"debug", Debug, "debug"},
		{"info", Info, "info"},
		{"warn", Warn, "warn"},
		{"error", Error, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t, LevelDebug, "json")

			tt.logFunc("table %s: %d chunks", "users", 3)

			var entry map[string]interface{}
			if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
				t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
			}
			if entry["level"] != tt.level {
				t.Errorf("level = %v, want %s", entry["level"], tt.level)
			}
			if entry["msg"] != "table users: 3 chunks" {
				t.Errorf("msg = %v", entry["msg"])
			}
			if _, ok := entry["ts"]; !ok {
				t.Error("missing ts field")
			}
			if _, ok := entry["time"]; ok {
				t.Error("time key should be renamed to ts")
			}
		})
	}
}

func TestJSONRespectsLevelChange(t *testing.T) {
	buf := capture(t, LevelDebug, "json")
	Debug("first")
	SetLevel(LevelWarn)
	Debug("second")
	Info("third")

	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("wrote %d entries, want 1:\n%s", n, buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"", LevelInfo, true},
		{"trace", LevelInfo, true},
		{" info", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "valid: debug, info, warn, error") {
					t.Errorf("ParseLevel(%q) error = %v", tt.input, err)
				}
				return
			}
			if err != nil || level != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.input, level, err, tt.expected)
			}
		})
	}
}

func TestIsDebug(t *testing.T) {
	capture(t, LevelDebug, "text")
	if !IsDebug() {
		t.Error("IsDebug() = false at debug level")
	}
	SetLevel(LevelInfo)
	if IsDebug() {
		t.Error("IsDebug() = true at info level")
	}
}

func TestConcurrentWritersKeepLinesWhole(t *testing.T) {
	buf := capture(t, LevelInfo, "text")
	SetSimpleMode(true)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				Info("worker %d table %d", w, i)
			}
		}(w)
	}
	wg.Wait()

	line := regexp.MustCompile(`^\[INFO\] worker \d+ table \d+$`)
	sc := bufio.NewScanner(buf)
	n := 0
	for sc.Scan() {
		n++
		if !line.MatchString(sc.Text()) {
			t.Fatalf("interleaved line: %q", sc.Text())
		}
	}
	if n != 400 {
		t.Errorf("got %d lines, want 400", n)
	}
}
