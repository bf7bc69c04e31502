package partisan

import "fmt"

// NodeSpec identifies a peer in the cluster. Two specs are equal iff
// their Name fields are equal; ListenAddrs is metadata used to dial,
// not identity.
type NodeSpec struct {
	Name string

	// ListenAddrs are the host:port pairs this node accepts connections
	// on. The first one is used when dialing (see PrimaryAddr); the
	// others are not tried.
	ListenAddrs []string
}

// Equal compares two NodeSpecs by name only, per §3's identity rule.
func (n NodeSpec) Equal(other NodeSpec) bool {
	return n.Name == other.Name
}

func (n NodeSpec) String() string {
	return n.Name
}

// PrimaryAddr returns the first configured listen address, or an error
// if the spec carries none.
func (n NodeSpec) PrimaryAddr() (string, error) {
	if len(n.ListenAddrs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoListenAddr, n.Name)
	}
	return n.ListenAddrs[0], nil
}
