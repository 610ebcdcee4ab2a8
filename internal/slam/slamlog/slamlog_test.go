package slamlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogWritersRoutesIndependently(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})
	t.Cleanup(func() { SetLogWriters(LogWriters{}) })

	Opsf("keyframe %d culled", 7)
	Diagf("triangulated %d points", 12)
	Tracef("candidate descriptor distance %d", 42)

	assert.Contains(t, ops.String(), "keyframe 7 culled")
	assert.Contains(t, diag.String(), "triangulated 12 points")
	assert.Contains(t, trace.String(), "candidate descriptor distance 42")
	assert.NotContains(t, ops.String(), "triangulated")
}

func TestNilWriterDisablesStream(t *testing.T) {
	SetLogWriters(LogWriters{})
	t.Cleanup(func() { SetLogWriters(LogWriters{}) })

	assert.NotPanics(t, func() {
		Opsf("nothing should panic even with no writer: %d", 1)
	})
}

func TestSetLogWriterSingleStream(t *testing.T) {
	var ops bytes.Buffer
	SetLogWriters(LogWriters{})
	SetLogWriter(LogOps, &ops)
	t.Cleanup(func() { SetLogWriters(LogWriters{}) })

	Opsf("stop requested")
	assert.Contains(t, ops.String(), "stop requested")
}
