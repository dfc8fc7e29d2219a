package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceFiresDueTickers(t *testing.T) {
	start := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	c := NewFake(start)
	ticker := c.NewTicker(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case at := <-ticker.C():
		assert.Equal(t, start.Add(time.Minute), at)
	default:
		t.Fatal("ticker did not fire after its interval elapsed")
	}
}

func TestFake_StoppedTickerIsDropped(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)
	require.Equal(t, 1, c.Tickers())

	ticker.Stop()
	c.Advance(time.Second)

	assert.Equal(t, 0, c.Tickers())
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
