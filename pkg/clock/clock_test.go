package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewManual(start)
	require.Equal(t, start, m.Now())

	ch := m.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}

	now := m.Advance(30 * time.Second)
	require.Equal(t, start.Add(30*time.Second), now)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	m.Advance(30 * time.Second)
	select {
	case got := <-ch:
		require.Equal(t, start.Add(time.Minute), got)
	default:
		t.Fatal("waiter did not fire")
	}
}

func TestManualAfterNonPositive(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	select {
	case <-m.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestManualSet(t *testing.T) {
	m := NewManual(time.Unix(100, 0))
	m.Set(time.Unix(50, 0))
	require.True(t, m.Now().Equal(time.Unix(50, 0)))
}

func TestOr(t *testing.T) {
	require.IsType(t, Real{}, Or(nil))
	m := NewManual(time.Unix(0, 0))
	require.Same(t, m, Or(m))
	require.Equal(t, time.UTC, Real{}.Now().Location())
}
