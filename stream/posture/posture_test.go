package posture_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sigmundgranaas/petty/stream/posture"
	"github.com/sigmundgranaas/petty/xpath1"
)

func classifySrc(t *testing.T, src string) posture.Class {
	t.Helper()
	e, err := xpath1.Parse(src)
	require.NoError(t, err)
	return posture.Classify(e)
}

func TestClassifyLiteralsGrounded(t *testing.T) {
	c := classifySrc(t, "1 + 2")
	require.Equal(t, posture.Grounded, c.Posture)
	require.True(t, c.Streamable())
}

func TestClassifyContextItemStriding(t *testing.T) {
	c := classifySrc(t, ".")
	require.Equal(t, posture.Striding, c.Posture)
	require.True(t, c.Streamable())
}

func TestClassifyChildStepStriding(t *testing.T) {
	c := classifySrc(t, "child::book")
	require.Equal(t, posture.Striding, c.Posture)
	require.True(t, c.Streamable())
}

func TestClassifyDescendantCrawling(t *testing.T) {
	c := classifySrc(t, "descendant::book")
	require.Equal(t, posture.Crawling, c.Posture)
	require.True(t, c.Streamable())
}

func TestClassifyParentClimbing(t *testing.T) {
	c := classifySrc(t, "parent::node()")
	require.Equal(t, posture.Climbing, c.Posture)
	require.True(t, c.Streamable())
}

func TestClassifyPrecedingRoaming(t *testing.T) {
	c := classifySrc(t, "preceding::book")
	require.Equal(t, posture.Roaming, c.Posture)
	require.False(t, c.Streamable())
}

func TestClassifyAbsolutePathRoaming(t *testing.T) {
	c := classifySrc(t, "/catalog/book")
	require.Equal(t, posture.Roaming, c.Posture)
	require.False(t, c.Streamable())
}

func TestClassifyFunctionCallAbsorbsToGrounded(t *testing.T) {
	c := classifySrc(t, "count(child::book)")
	require.Equal(t, posture.Grounded, c.Posture)
	require.True(t, c.Streamable())
}

func TestClassifyFunctionCallWithRoamingArgumentPoisons(t *testing.T) {
	c := classifySrc(t, "count(preceding::book)")
	require.False(t, c.Streamable())
}

func TestClassifyVariableRefGrounded(t *testing.T) {
	c := classifySrc(t, "$x")
	require.Equal(t, posture.Grounded, c.Posture)
}

func TestClassifyPredicateDoesNotPoisonGroundedStep(t *testing.T) {
	c := classifySrc(t, "child::book[1]")
	require.True(t, c.Streamable())
}

func TestClassifyPredicateWithRoamingExprPoisons(t *testing.T) {
	c := classifySrc(t, "child::book[preceding::item]")
	require.False(t, c.Streamable())
}
