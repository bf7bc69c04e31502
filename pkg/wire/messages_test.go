package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindStringCoversEveryKind(t *testing.T) {
	cases := map[Kind]string{
		KindHello:            "hello",
		KindForwardJoin:      "forward_join",
		KindNeighbor:         "neighbor",
		KindNeighborAccepted: "neighbor_accepted",
		KindNeighborRejected: "neighbor_rejected",
		KindShuffle:          "shuffle",
		KindShuffleReply:     "shuffle_reply",
		KindDisconnect:       "disconnect",
		KindData:             "data",
		KindDataWithID:       "data_with_id",
		KindAck:              "ack",
		KindForward:          "forward",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
	require.Equal(t, "unknown", Kind(0).String())
}

func TestEncodeDecodeHelloFrameRoundTrips(t *testing.T) {
	f := &Frame{Kind: KindHello, Hello: &HelloBody{NodeName: "node1", Channel: "default", Slot: 2}}
	body, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, f.Kind, got.Kind)
	require.Equal(t, f.Hello, got.Hello)
}

func TestEncodeDecodeForwardJoinFrameRoundTrips(t *testing.T) {
	f := &Frame{
		Kind: KindForwardJoin,
		ForwardJoin: &ForwardJoinBody{
			NewPeer: NodeSpec{Name: "node2", ListenAddrs: []string{"127.0.0.1:7001"}},
			TTL:     6,
			Sender:  "node1",
		},
	}
	body, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, f.ForwardJoin, got.ForwardJoin)
}

func TestEncodeDecodeDataWithIDFrameWithCausalMetaRoundTrips(t *testing.T) {
	f := &Frame{
		Kind: KindDataWithID,
		DataWithID: &DataWithIDBody{
			ID:      "ack-1",
			Payload: []byte("payload"),
			Ref:     []byte{0x00, 0x00, 0x05},
			Causal: &CausalMeta{
				Label:  "chat",
				Sender: "node1",
				DepVC:  map[string]uint64{"node1": 3, "node2": 1},
			},
		},
	}
	body, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, f.DataWithID, got.DataWithID)
}

func TestEncodeDecodeShuffleFrameWithExchangeRoundTrips(t *testing.T) {
	f := &Frame{
		Kind: KindShuffle,
		Shuffle: &ShuffleBody{
			Exchange: []NodeSpec{{Name: "node1"}, {Name: "node2", ListenAddrs: []string{"10.0.0.2:9000"}}},
			TTL:      3,
			Sender:   "node3",
		},
	}
	body, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, f.Shuffle, got.Shuffle)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)
}
