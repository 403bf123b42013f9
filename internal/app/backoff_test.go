package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Doubles(t *testing.T) {
	b := newBackoff(time.Second, 5*time.Second)
	b.jitter = func() float64 { return 0.5 }

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Current())
}

func TestBackoff_Jitter(t *testing.T) {
	b := newBackoff(10*time.Second, time.Minute)

	b.jitter = func() float64 { return 0 }
	assert.Equal(t, 8*time.Second, b.Next())

	b.Reset(0)
	b.jitter = func() float64 { return 1 }
	assert.Equal(t, 12*time.Second, b.Next())
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(time.Second, time.Minute)
	b.Next()
	b.Next()

	b.Reset(3 * time.Second)
	assert.Equal(t, 3*time.Second, b.Current())

	b.Next()
	b.Reset(0)
	assert.Equal(t, 3*time.Second, b.Current())
}
