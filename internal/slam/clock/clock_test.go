package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()
	assert.True(t, !got.Before(before) && !got.After(after))
}

func TestMockClockAdvanceFiresTimer(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewMockClock(start)

	timer := c.NewTimer(10 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatal("timer fired before advance")
	default:
	}

	c.Advance(10 * time.Millisecond)

	select {
	case got := <-timer.C():
		assert.Equal(t, start.Add(10*time.Millisecond), got)
	default:
		t.Fatal("timer did not fire after advance")
	}
}

func TestMockClockTickerFiresRepeatedly(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewMockClock(start)
	ticker := c.NewTicker(5 * time.Millisecond)

	c.Advance(5 * time.Millisecond)
	require.NotEmpty(t, ticker.C())
	<-ticker.C()

	c.Advance(5 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not re-fire on next interval")
	}
}

func TestMockClockSleepRecordsButDoesNotBlock(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		c.Sleep(time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("MockClock.Sleep blocked the caller")
	}

	assert.Equal(t, []time.Duration{time.Hour}, c.Sleeps())
}

func TestMockTickerStopPreventsFiring(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	ticker := c.NewTicker(time.Millisecond)
	ticker.Stop()
	c.Advance(time.Millisecond)

	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
