package main

import (
	"testing"
	"time"
)

func TestXPForLevelCurve(t *testing.T) {
	cases := []struct {
		level, want int
	}{
		{0, 100},
		{1, 155},
		{2, 220},
		{10, 1100},
	}
	for _, c := range cases {
		if got := XPForLevel(c.level); got != c.want {
			t.Errorf("XPForLevel(%d) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestLevelFromXP(t *testing.T) {
	if got := LevelFromXP(0); got != 0 {
		t.Errorf("LevelFromXP(0) = %d, want 0", got)
	}
	if got := LevelFromXP(99); got != 0 {
		t.Errorf("LevelFromXP(99) = %d, want 0", got)
	}
	if got := LevelFromXP(100); got != 1 {
		t.Errorf("LevelFromXP(100) = %d, want 1", got)
	}
	// 100 + 155 = 255 total XP clears level 1.
	if got := LevelFromXP(254); got != 1 {
		t.Errorf("LevelFromXP(254) = %d, want 1", got)
	}
	if got := LevelFromXP(255); got != 2 {
		t.Errorf("LevelFromXP(255) = %d, want 2", got)
	}
}

func TestLevelFromXPMonotonic(t *testing.T) {
	prev := 0
	for xp := 0; xp <= 50000; xp += 37 {
		l := LevelFromXP(xp)
		if l < prev {
			t.Fatalf("level dropped from %d to %d at %d XP", prev, l, xp)
		}
		prev = l
	}
}

func TestLevelProgress(t *testing.T) {
	into, needed := LevelProgress(0)
	if into != 0 || needed != 100 {
		t.Fatalf("LevelProgress(0) = %d/%d, want 0/100", into, needed)
	}
	into, needed = LevelProgress(150)
	if into != 50 || needed != 155 {
		t.Fatalf("LevelProgress(150) = %d/%d, want 50/155", into, needed)
	}
}

func TestMessageLimiterThrottles(t *testing.T) {
	l := messageLimiter(42)
	if !l.Allow() {
		t.Fatal("first message should pass")
	}
	if l.Allow() {
		t.Fatal("second message within a minute should be throttled")
	}
	if l2 := messageLimiter(42); l2 != l {
		t.Fatal("limiter not reused for the same user")
	}
	if l3 := messageLimiter(43); l3 == l {
		t.Fatal("limiter shared across users")
	}
}

func TestParseTimeoutDuration(t *testing.T) {
	d, err := parseTimeoutDuration("10 minutes")
	if err != nil {
		t.Fatalf("parseTimeoutDuration: %v", err)
	}
	if d < 9*time.Minute || d > 11*time.Minute {
		t.Fatalf("duration = %v, want about 10 minutes", d)
	}

	if _, err := parseTimeoutDuration("gibberish that is not a time"); err == nil {
		t.Fatal("expected a parse error")
	}
	if _, err := parseTimeoutDuration("10 seconds"); err == nil {
		t.Fatal("sub-minute timeout should be rejected")
	}
	if _, err := parseTimeoutDuration("2 years"); err == nil {
		t.Fatal("timeout beyond 28 days should be rejected")
	}

	// Plain Go durations work as a fallback spelling.
	d, err = parseTimeoutDuration("90m")
	if err != nil {
		t.Fatalf("parseTimeoutDuration(90m): %v", err)
	}
	if d != 90*time.Minute {
		t.Fatalf("duration = %v, want 90m", d)
	}
}
