package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sg47/SLAMRecon/internal/slam/covis"
	"github.com/sg47/SLAMRecon/internal/slam/smap"
	"github.com/sg47/SLAMRecon/internal/slam/tuning"
)

func TestAbortFlagSetClear(t *testing.T) {
	var a AbortFlag
	assert.False(t, a.IsSet())
	a.Set()
	assert.True(t, a.IsSet())
	a.Clear()
	assert.False(t, a.IsSet())
}

func TestNullBridgeReturnsAbortedWhenFlagSet(t *testing.T) {
	var a AbortFlag
	a.Set()
	var b NullBridge
	res := b.LocalBundleAdjustment(nil, &a, smap.NewMap(), covis.New(tuning.DefaultMapperTuning()))
	assert.True(t, res.Aborted)
}

func TestNullBridgeSucceedsWhenFlagClear(t *testing.T) {
	var a AbortFlag
	var b NullBridge
	res := b.LocalBundleAdjustment(nil, &a, smap.NewMap(), covis.New(tuning.DefaultMapperTuning()))
	assert.False(t, res.Aborted)
}

func TestLoggingBridgeDelegatesResult(t *testing.T) {
	var a AbortFlag
	lb := LoggingBridge{Inner: NullBridge{}}
	res := lb.LocalBundleAdjustment(nil, &a, smap.NewMap(), covis.New(tuning.DefaultMapperTuning()))
	assert.False(t, res.Aborted)
}
