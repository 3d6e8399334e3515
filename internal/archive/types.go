// Package archive persists sealed forensic captures so incidents survive
// daemon restarts and the on-device ring log can be recycled.
package archive

import (
	"errors"

	"hwsentinel/internal/forensic"
	"hwsentinel/internal/monitor"
)

// ErrSealMismatch is returned when a drained record fails seal
// verification and is refused by the archive.
var ErrSealMismatch = errors.New("record seal does not verify")

// ChannelSnap mirrors one channel's telemetry inside an archived incident.
type ChannelSnap struct {
	Raw      uint32 `json:"raw"`
	Baseline uint32 `json:"baseline"`
	Delta    uint32 `json:"delta"`
}

// Incident is one archived capture: the snapshot fields flattened for
// querying, plus the seal chain material needed to re-verify it later.
type Incident struct {
	ID            int64                            `json:"id"`
	Tick          uint64                           `json:"tick"`
	ThreatLevel   string                           `json:"threat_level"`
	Attack        string                           `json:"attack"`
	Score         uint32                           `json:"score"`
	ResponseLevel string                           `json:"response_level"`
	PC            uint32                           `json:"pc"`
	PrivLevel     uint8                            `json:"priv_level"`
	LastBadPC     uint32                           `json:"last_bad_pc"`
	Channels      [monitor.NumChannels]ChannelSnap `json:"channels"`
	PrevSeal      []byte                           `json:"prev_seal"`
	Seal          []byte                           `json:"seal"`
	ArchivedAtNs  int64                            `json:"archived_at_ns"`
}

// Archiver is the incident sink. Both the SQLite store and the in-memory
// backend satisfy it.
type Archiver interface {
	Insert(inc *Incident) (int64, error)
	Get(id int64) (*Incident, error)
	GetByTickRange(startTick, endTick uint64) ([]Incident, error)
	GetByLevel(level string) ([]Incident, error)
	LastSeal() ([]byte, error)
	Count() (int64, error)
	Close() error
}

// fromRecord flattens a sealed log record into an archivable incident.
func fromRecord(rec forensic.Record, archivedAtNs int64) *Incident {
	inc := &Incident{
		Tick:          rec.Snapshot.Timestamp,
		ThreatLevel:   rec.Snapshot.ThreatLevel.String(),
		Attack:        rec.Snapshot.Attack.String(),
		Score:         rec.Snapshot.Score,
		ResponseLevel: rec.Snapshot.Response.String(),
		PC:            rec.Snapshot.PC,
		PrivLevel:     rec.Snapshot.PrivLevel,
		LastBadPC:     rec.Snapshot.LastBadPC,
		PrevSeal:      append([]byte(nil), rec.PrevSeal[:]...),
		Seal:          append([]byte(nil), rec.Seal[:]...),
		ArchivedAtNs:  archivedAtNs,
	}
	for i, ch := range rec.Snapshot.Channels {
		inc.Channels[i] = ChannelSnap{Raw: ch.Raw, Baseline: ch.Baseline, Delta: ch.Delta}
	}
	return inc
}
