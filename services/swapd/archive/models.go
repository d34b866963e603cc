package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"swapcore/core/types"
)

// Record is one archived ledger event.
type Record struct {
	Sequence   uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type       string `gorm:"size:64;index"`
	LedgerTime int64  `gorm:"index"`
	Attributes string `gorm:"type:text"`
	PrevDigest string `gorm:"size:64"`
	Digest     string `gorm:"size:64;uniqueIndex"`
	ArchivedAt time.Time
}

func (Record) TableName() string { return "archived_events" }

// Entry decodes the record back into its log form.
func (r Record) Entry() (types.LogEntry, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return types.LogEntry{}, fmt.Errorf("decode attributes of %d: %w", r.Sequence, err)
		}
	}
	return types.LogEntry{
		Sequence: r.Sequence,
		Time:     r.LedgerTime,
		Event:    &types.Event{Type: r.Type, Attributes: attrs},
	}, nil
}

// PriceSnapshot is an aggregated feeder observation.
type PriceSnapshot struct {
	ID         uint   `gorm:"primaryKey"`
	Asset      string `gorm:"size:32;index"`
	Quote      string `gorm:"size:16"`
	Median     string `gorm:"size:80"`
	Price      string `gorm:"size:80"`
	Feeders    string `gorm:"size:256"`
	ProofID    string `gorm:"size:64"`
	ObservedAt time.Time
}

func (PriceSnapshot) TableName() string { return "price_snapshots" }

// AutoMigrate creates or updates the archive schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{}, &PriceSnapshot{})
}
