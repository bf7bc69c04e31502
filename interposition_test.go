package partisan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpositionTablePassesThroughWithNoFilter(t *testing.T) {
	table := newInterpositionTable()
	result := table.evaluate(InterpositionForward, NodeSpec{Name: "node2"}, []byte("hi"))
	require.Equal(t, resultPass, result.variant)
}

func TestInterpositionTableAddRemove(t *testing.T) {
	table := newInterpositionTable()
	peer := NodeSpec{Name: "node2"}

	table.add(peer, func(tag InterpositionTag, p NodeSpec, payload []byte) InterpositionResult {
		require.Equal(t, InterpositionForward, tag)
		require.Equal(t, peer, p)
		return InterpositionDrop()
	})

	result := table.evaluate(InterpositionForward, peer, []byte("hi"))
	require.Equal(t, resultDrop, result.variant)

	table.remove(peer)
	result = table.evaluate(InterpositionForward, peer, []byte("hi"))
	require.Equal(t, resultPass, result.variant)
}

func TestInterpositionSubstitute(t *testing.T) {
	table := newInterpositionTable()
	peer := NodeSpec{Name: "node2"}
	table.add(peer, func(InterpositionTag, NodeSpec, []byte) InterpositionResult {
		return InterpositionSubstitute([]byte("replaced"))
	})

	result := table.evaluate(InterpositionReceive, peer, []byte("original"))
	require.Equal(t, resultSubstitute, result.variant)
	require.Equal(t, []byte("replaced"), result.payload)
}

func TestInterpositionOnlyOneFilterPerPeer(t *testing.T) {
	table := newInterpositionTable()
	peer := NodeSpec{Name: "node2"}
	table.add(peer, func(InterpositionTag, NodeSpec, []byte) InterpositionResult { return InterpositionPass() })
	table.add(peer, func(InterpositionTag, NodeSpec, []byte) InterpositionResult { return InterpositionDrop() })

	result := table.evaluate(InterpositionForward, peer, nil)
	require.Equal(t, resultDrop, result.variant)
}
