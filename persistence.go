package partisan

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// persistedStateRelPath is the single file named in §6: a serialised
// (Active, Passive) snapshot under the configured data directory.
const persistedStateRelPath = "peer_service/cluster_state"

type persistedState struct {
	Active  []NodeSpec
	Passive []NodeSpec
}

// stateStore writes (Active, Passive) snapshots atomically (temp file
// then rename, never in place) and loads them tolerantly on boot,
// per §4.5 and §9's persistence design note. A nil *stateStore means
// no data directory was configured, in which case every method is a
// no-op — callers never need a separate "persistence enabled" check.
type stateStore struct {
	dir    string
	path   string
	logger *slog.Logger
}

func newStateStore(dataDir string, logger *slog.Logger) *stateStore {
	if dataDir == "" {
		return nil
	}
	return &stateStore{
		dir:    filepath.Join(dataDir, filepath.Dir(persistedStateRelPath)),
		path:   filepath.Join(dataDir, persistedStateRelPath),
		logger: logger,
	}
}

// Load returns the snapshot on disk, or a zero LocalState (meaning
// "first boot": Active={self}, Passive=∅, per §4.5) if the file is
// missing or truncated.
func (s *stateStore) Load(self NodeSpec) LocalState {
	if s == nil {
		return LocalState{}
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return LocalState{}
	}

	var state persistedState
	dec := codec.NewDecoder(bytes.NewReader(raw), handle())
	if err := dec.Decode(&state); err != nil {
		s.logger.Warn("discarding truncated cluster_state snapshot", LabelError.L(err))
		return LocalState{}
	}
	return LocalState{Active: state.Active, Passive: state.Passive}
}

// Save atomically overwrites the snapshot: write to a temp file in the
// same directory, then rename over the target, so a reader never
// observes a partially-written file.
func (s *stateStore) Save(state LocalState) {
	if s == nil {
		return
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		s.logger.Error("failed to create data directory", LabelError.L(err))
		return
	}

	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, handle())
	if err := enc.Encode(persistedState{Active: state.Active, Passive: state.Passive}); err != nil {
		s.logger.Error("failed to encode cluster_state snapshot", LabelError.L(err))
		return
	}

	tmp, err := os.CreateTemp(s.dir, "cluster_state-*.tmp")
	if err != nil {
		s.logger.Error("failed to create temp snapshot file", LabelError.L(err))
		return
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		s.logger.Error("failed to write temp snapshot file", LabelError.L(err))
		return
	}
	if err := tmp.Close(); err != nil {
		s.logger.Error("failed to close temp snapshot file", LabelError.L(err))
		return
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		s.logger.Error("failed to rename snapshot into place", LabelError.L(err))
	}
}

// Delete removes the persisted snapshot, called on leave(self) (§4.5).
func (s *stateStore) Delete() {
	if s == nil {
		return
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to delete cluster_state snapshot", LabelError.L(err))
	}
}

// handle builds the same msgpack handle shape as pkg/wire's codec,
// kept as a separate copy in this package since persistedState isn't
// part of the wire-frame type set.
func handle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	return h
}
