package journal

import (
	"github.com/pinmesh/peerloc/internal/model"
)

// Recorder mirrors marker layer changes into the journal. It satisfies the
// marker store's renderer contract so it can sit behind the same fan-out
// as the map surface.
type Recorder struct {
	manager *Manager
}

// NewRecorder creates a journal-backed marker recorder.
func NewRecorder(manager *Manager) *Recorder {
	return &Recorder{manager: manager}
}

func (r *Recorder) UpsertMarker(state model.MarkerState) {
	if err := r.manager.RecordMarkerEvent("upsert", state); err != nil {
		r.manager.Logger.Warn().Err(err).Str("peer", state.PeerID).Msg("Failed to journal marker upsert")
	}
}

func (r *Recorder) RemoveMarker(peerID string) {
	if err := r.manager.RecordMarkerEvent("remove", model.MarkerState{PeerID: peerID}); err != nil {
		r.manager.Logger.Warn().Err(err).Str("peer", peerID).Msg("Failed to journal marker removal")
	}
}
