// Copyright (c) 2025 Auditctl
// Licensed under the MIT License. See LICENSE file in the project root for details.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "late") })

	c.Advance(2 * time.Second)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, start.Add(2*time.Second), c.Now())
}

func TestFake_StopDisarms(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	called := false
	tm := c.AfterFunc(time.Second, func() { called = true })

	require.True(t, tm.Stop())
	assert.False(t, tm.Stop(), "second Stop must report already stopped")

	c.Advance(time.Minute)
	assert.False(t, called)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_RescheduleInsideWindow(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)

	assert.Equal(t, 3, ticks)
	assert.Equal(t, 1, c.Pending())
}

func TestFake_BlockUntil(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	go func() {
		c.AfterFunc(time.Second, func() {})
	}()

	done := make(chan struct{})
	go func() {
		c.BlockUntil(1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BlockUntil did not return")
	}
}
