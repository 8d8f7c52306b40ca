package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/jluethi/TissueMAPS/internal/viewstate"
)

// FromSnapshot flattens a snapshot into its database row. The session
// id groups rows written during one viewing session.
func FromSnapshot(s *viewstate.Snapshot, sessionID uuid.UUID) (*SnapshotRecord, error) {
	opts, err := json.Marshal(s.State.ChannelLayerOptions)
	if err != nil {
		return nil, fmt.Errorf("marshal channel layer options: %w", err)
	}

	return &SnapshotRecord{
		ID:         s.ID.String(),
		SessionID:  sessionID.String(),
		ViewerID:   s.ViewerID.String(),
		CreatedAt:  s.CreatedAt,
		Experiment: s.Experiment,
		Label:      s.Label,

		Zoom:       s.State.MapState.Zoom,
		CenterX:    s.State.MapState.Center[0],
		CenterY:    s.State.MapState.Center[1],
		Resolution: s.State.MapState.Resolution,
		Rotation:   s.State.MapState.Rotation,

		ChannelLayerOptions: datatypes.JSON(opts),
	}, nil
}

// ToSnapshot rebuilds the domain snapshot from its database row.
func (r *SnapshotRecord) ToSnapshot() (*viewstate.Snapshot, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot id %q: %w", r.ID, err)
	}
	viewerID, err := uuid.Parse(r.ViewerID)
	if err != nil {
		return nil, fmt.Errorf("parse viewer id %q: %w", r.ViewerID, err)
	}

	var opts []viewstate.ChannelConfig
	if len(r.ChannelLayerOptions) > 0 {
		if err := json.Unmarshal(r.ChannelLayerOptions, &opts); err != nil {
			return nil, fmt.Errorf("unmarshal channel layer options: %w", err)
		}
	}

	return &viewstate.Snapshot{
		ID:         id,
		ViewerID:   viewerID,
		Experiment: r.Experiment,
		Label:      r.Label,
		CreatedAt:  r.CreatedAt,
		State: viewstate.ViewState{
			ChannelLayerOptions: opts,
			MapState: viewstate.MapState{
				Zoom:       r.Zoom,
				Center:     [2]float64{r.CenterX, r.CenterY},
				Resolution: r.Resolution,
				Rotation:   r.Rotation,
			},
		},
	}, nil
}

// ToMeta returns the listing view of the row without decoding the
// layer options column.
func (r *SnapshotRecord) ToMeta() (viewstate.SnapshotMeta, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return viewstate.SnapshotMeta{}, fmt.Errorf("parse snapshot id %q: %w", r.ID, err)
	}
	viewerID, err := uuid.Parse(r.ViewerID)
	if err != nil {
		return viewstate.SnapshotMeta{}, fmt.Errorf("parse viewer id %q: %w", r.ViewerID, err)
	}

	return viewstate.SnapshotMeta{
		ID:        id,
		ViewerID:  viewerID,
		Label:     r.Label,
		CreatedAt: r.CreatedAt,
	}, nil
}
