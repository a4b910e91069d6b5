package timeutil

import (
	"testing"
	"time"
)

func TestNowNano_Monotonic(t *testing.T) {
	prev := NowNano()
	for i := 0; i < 1000; i++ {
		cur := NowNano()
		if cur < prev {
			t.Fatalf("NowNano 回退: %d < %d", cur, prev)
		}
		prev = cur
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("Now = %v", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Set 未生效")
	}
}

func TestConversions(t *testing.T) {
	if got := MsToTime(1700000000123); got.UnixMilli() != 1700000000123 || got.Location() != time.UTC {
		t.Fatalf("MsToTime = %v", got)
	}
	if got := UnixToTime(1700000000); got.Unix() != 1700000000 {
		t.Fatalf("UnixToTime = %v", got)
	}
}
