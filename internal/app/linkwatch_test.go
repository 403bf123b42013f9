package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bft-labs/fieldsync/internal/adapters/clock"
	adlog "github.com/bft-labs/fieldsync/internal/adapters/log"
	"github.com/bft-labs/fieldsync/internal/testutil"
)

type linkStates struct{ states []bool }

func (l *linkStates) SetLinkState(connected bool) { l.states = append(l.states, connected) }

func TestLinkWatcher_Check(t *testing.T) {
	p := testutil.NewProber(10*time.Millisecond, 0, 0)
	sink := &linkStates{}
	w := NewLinkWatcher(p, sink, clock.NewVirtual(epoch), adlog.NewRecorder(), 0, 0)

	assert.True(t, w.Check(context.Background()))
	p.SetErrors(errors.New("no route to host"), nil)
	assert.False(t, w.Check(context.Background()))
	assert.Equal(t, []bool{true, false}, sink.states)
}

func TestLinkWatcher_Periodic(t *testing.T) {
	p := testutil.NewProber(10*time.Millisecond, 0, 0)
	c := clock.NewVirtual(epoch)
	sink := &linkStates{}
	w := NewLinkWatcher(p, sink, c, adlog.NewRecorder(), 5*time.Second, 0)

	w.Start()
	w.Start()
	c.Flush()
	assert.Equal(t, 1, p.Pings())

	c.Advance(15 * time.Second)
	assert.Equal(t, 4, p.Pings())

	w.Stop()
	c.Advance(time.Minute)
	assert.Equal(t, 4, p.Pings())
}

func TestLinkWatcher_DrivesTracker(t *testing.T) {
	p := testutil.NewProber(10*time.Millisecond, 0, 0)
	c := clock.NewVirtual(epoch)
	tracker := NewConnectivityTracker(true, c, adlog.NewRecorder(), WithTrackerDispatch(testutil.SyncDispatch))
	w := NewLinkWatcher(p, tracker, c, adlog.NewRecorder(), 0, 0)

	p.SetErrors(errors.New("connection refused"), nil)
	w.Check(context.Background())
	assert.False(t, tracker.IsConnected())
	assert.False(t, tracker.IsOnline())

	p.SetErrors(nil, nil)
	w.Check(context.Background())
	assert.True(t, tracker.IsOnline())
}
