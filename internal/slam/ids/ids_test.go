package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratorMonotonic(t *testing.T) {
	g := NewGenerator()

	first := g.NextKeyFrameID()
	second := g.NextKeyFrameID()
	assert.Equal(t, KeyFrameID(1), first)
	assert.Equal(t, KeyFrameID(2), second)

	mp := g.NextMapPointID()
	assert.Equal(t, MapPointID(1), mp)
}

func TestSentinels(t *testing.T) {
	assert.Equal(t, KeyFrameID(0), NoKeyFrame)
	assert.Equal(t, MapPointID(0), NoMapPoint)
}

func TestIndependentGenerators(t *testing.T) {
	a := NewGenerator()
	b := NewGenerator()

	assert.Equal(t, a.NextKeyFrameID(), b.NextKeyFrameID())
}
