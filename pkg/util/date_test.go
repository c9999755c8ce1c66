package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnixMillis(t *testing.T) {
	ms := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).UnixMilli()
	got, ok := ParseTime(strconv.FormatInt(ms, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UnixMilli() != ms {
		t.Fatalf("unexpected millis %v", got.UnixMilli())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestAlignRange(t *testing.T) {
	from := time.Date(2024, 10, 10, 10, 10, 37, 0, time.UTC)
	to := time.Date(2024, 10, 10, 12, 44, 3, 0, time.UTC)

	af, at := AlignRange(from, to, 5*time.Minute)
	if af.Minute()%5 != 0 || af.Second() != 0 {
		t.Fatalf("from not aligned: %v", af)
	}
	if at.Minute()%5 != 0 || at.Second() != 0 {
		t.Fatalf("to not aligned: %v", at)
	}
	if af.After(from) || at.After(to) {
		t.Fatalf("alignment must round down")
	}
}
