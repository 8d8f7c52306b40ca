package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&ViewerInfo{},
	&Experiment{},
	&Plate{},
	&SnapshotRecord{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// ViewerInfo contains deployment information about this viewer instance
type ViewerInfo struct {
	gorm.Model
	DeploymentName string `json:"deploymentName" gorm:"size:127"`
	Description    string `json:"description" gorm:"size:255"`
	BaseURL        string `json:"baseURL" gorm:"size:255"`
	AppVersion     string `json:"appVersion" gorm:"size:64"`
}

func (*ViewerInfo) TableName() string {
	return "viewer_infos"
}

////////////////////////
// EXPERIMENT MODELS
////////////////////////

// Experiment is a processed imaging experiment available for viewing
type Experiment struct {
	gorm.Model
	Name           string  `json:"name" gorm:"size:200;index:idx_experiment_name"`
	Description    string  `json:"description" gorm:"size:2000"`
	MicroscopeType string  `json:"microscopeType" gorm:"size:64"`
	PlateFormat    uint16  `json:"plateFormat"`
	Plates         []Plate `json:"-"`
}

func (*Experiment) TableName() string {
	return "experiments"
}

func (e *Experiment) GetOrInsert(db *gorm.DB) (
	created bool,
	err error,
) {
	var existing Experiment
	err = db.Where("name = ?", e.Name).First(&existing).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// insert
			err = db.Create(e).Error
			return true, err
		}
		return false, err
	}
	// overwrite with db record if found
	*e = existing
	return false, nil
}

// Plate is a well plate within an experiment
type Plate struct {
	gorm.Model
	ExperimentID uint       `json:"experimentId" gorm:"index:idx_plate_experiment_id"`
	Experiment   Experiment `gorm:"foreignkey:ExperimentID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Name         string     `json:"name" gorm:"size:200"`
	Description  string     `json:"description" gorm:"size:2000"`
	Rows         uint8      `json:"rows"`
	Columns      uint8      `json:"columns"`
}

func (*Plate) TableName() string {
	return "plates"
}

////////////////////////
// SNAPSHOT MODELS
////////////////////////

// SnapshotRecord is a persisted view snapshot row. Identity comes from
// the application as UUIDs, not from the database.
type SnapshotRecord struct {
	ID         string         `json:"id" gorm:"primaryKey;size:36"`
	SessionID  string         `json:"sessionId" gorm:"size:36;index:idx_snapshotrecord_session_id"`
	ViewerID   string         `json:"viewerId" gorm:"size:36;index:idx_snapshotrecord_viewer_id"`
	CreatedAt  time.Time      `json:"createdAt" gorm:"type:timestamptz;index:idx_snapshotrecord_created_at"`
	DeletedAt  gorm.DeletedAt `json:"deletedAt" gorm:"index"`
	Experiment string         `json:"experiment" gorm:"size:200"`
	Label      string         `json:"label" gorm:"size:200"`

	// Map state, flattened
	Zoom       float64 `json:"zoom"`
	CenterX    float64 `json:"centerX"`
	CenterY    float64 `json:"centerY"`
	Resolution float64 `json:"resolution"`
	Rotation   float64 `json:"rotation"`

	ChannelLayerOptions datatypes.JSON `json:"channelLayerOptions" gorm:"type:jsonb;default:'[]'"`
}

func (*SnapshotRecord) TableName() string {
	return "snapshot_records"
}
