// Package forensic implements the tamper-evident capture log.
//
// The log is a fixed array of slots, not a FIFO: a write cursor selects
// the next slot to write, a per-slot lock marks "written, not yet read",
// and an occupancy count tracks locked slots. Capture is single-writer
// (the response controller) and read-once: a reader presents a slot
// index, receives the snapshot while the slot stays locked, and must
// acknowledge explicitly to unlock the slot for reuse.
//
// A capture request that lands on a locked slot completes silently
// without recording anything: the capture sequence still reaches DONE and
// asserts capture done, the cursor does not advance, and nothing retries.
// The response controller cannot observe the loss; only the dropped-write
// counter (surfaced through metrics) records it.
//
// Every written slot is sealed: an HMAC-SHA256 over the encoded snapshot
// and the previous slot seal, with a key derived from the boot seed via
// domain-separated HKDF. The seal chain is what makes the trail
// tamper-evident rather than merely persistent.
package forensic

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"

	"hwsentinel/internal/classifier"
	"hwsentinel/internal/monitor"
	"hwsentinel/internal/response"
)

// sealDomain separates the forensic seal key from any other use of the
// boot seed.
const sealDomain = "hwsentinel-forensic-v1"

// SealSize is the byte length of a slot seal.
const SealSize = sha256.Size

// Errors.
var (
	ErrBadSeed = errors.New("forensic: seal key derivation failed")
)

// Config parameterizes the log.
type Config struct {
	// Slots is the log capacity.
	Slots int

	// WarmupTicks is the unit's own warm-up: capture triggers are
	// ignored until this many ticks have elapsed since reset.
	WarmupTicks uint32

	// Seed feeds the seal key derivation. When nil a random boot seed
	// is drawn.
	Seed []byte
}

// DefaultConfig returns the factory log parameters.
func DefaultConfig() Config {
	return Config{Slots: 16, WarmupTicks: 8}
}

// ChannelSnap is one channel's telemetry snapshot inside a slot.
type ChannelSnap struct {
	Raw      uint32
	Baseline uint32
	Delta    uint32
}

// Snapshot is the capture payload: everything the incident responder
// needs to reconstruct the tick that tripped the response.
type Snapshot struct {
	Timestamp   uint64
	ThreatLevel classifier.Level
	Attack      classifier.AttackType
	Score       uint32
	Response    response.Level
	Channels    [monitor.NumChannels]ChannelSnap
	PC          uint32
	PrivLevel   uint8
	LastBadPC   uint32
}

// Record is a sealed slot: the snapshot plus its chain seal.
type Record struct {
	Snapshot Snapshot
	PrevSeal [SealSize]byte
	Seal     [SealSize]byte
}

// Input is the log's per-tick signal bundle.
type Input struct {
	// Capture side (response controller).
	Trigger     bool
	ThreatValid bool
	Snapshot    Snapshot

	// Read side (external consumer).
	ReadReq  bool
	ReadSlot int
	Ack      bool
	AckSlot  int
}

// Output is the log's committed output for one tick.
type Output struct {
	// CaptureDone pulses one tick after a capture request, whether or
	// not the write landed.
	CaptureDone bool

	ReadValid bool
	ReadData  Record

	Full  bool
	Empty bool
}

type captureState uint8

const (
	capIdle captureState = iota
	capWrite
	capDone
)

type slot struct {
	rec    Record
	locked bool
}

// Log is the forensic capture unit.
type Log struct {
	cfg Config
	key []byte

	slots    []slot
	cursor   int
	count    int
	lastSeal [SealSize]byte

	state   captureState
	warm    uint32
	dropped uint64
}

// New creates a log with freshly derived seal key and all slots unlocked.
func New(cfg Config) (*Log, error) {
	seed := cfg.Seed
	if seed == nil {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, ErrBadSeed
		}
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(sealDomain)), key); err != nil {
		return nil, ErrBadSeed
	}
	l := &Log{cfg: cfg, key: key}
	l.Reset()
	return l, nil
}

// Reset clears all slots, counters and the capture sequence. The seal key
// survives reset: the chain restarts from the zero seal but remains bound
// to the boot seed.
func (l *Log) Reset() {
	l.slots = make([]slot, l.cfg.Slots)
	l.cursor = 0
	l.count = 0
	l.lastSeal = [SealSize]byte{}
	l.state = capIdle
	l.warm = 0
	l.dropped = 0
}

// Tick advances the capture sequence and serves the read handshake.
func (l *Log) Tick(in Input) Output {
	if l.warm < l.cfg.WarmupTicks {
		l.warm++
	}

	var out Output

	switch l.state {
	case capIdle:
		if in.Trigger && in.ThreatValid && l.warm >= l.cfg.WarmupTicks {
			l.write(in.Snapshot)
			l.state = capWrite
		}
	case capWrite:
		l.state = capDone
		out.CaptureDone = true
	case capDone:
		l.state = capIdle
	}

	if in.Ack {
		l.ack(in.AckSlot)
	}
	if in.ReadReq {
		if rec, ok := l.read(in.ReadSlot); ok {
			out.ReadValid = true
			out.ReadData = rec
		}
	}

	out.Full = l.count == l.cfg.Slots
	out.Empty = l.count == 0
	return out
}

// write attempts to record a snapshot at the cursor. A locked slot drops
// the write silently: no retry, no cursor advance.
func (l *Log) write(snap Snapshot) {
	s := &l.slots[l.cursor]
	if s.locked {
		l.dropped++
		return
	}
	rec := Record{Snapshot: snap, PrevSeal: l.lastSeal}
	rec.Seal = l.seal(&rec)
	s.rec = rec
	s.locked = true
	l.lastSeal = rec.Seal
	l.cursor = (l.cursor + 1) % l.cfg.Slots
	l.count++
}

// read presents a locked slot's record without consuming it.
func (l *Log) read(idx int) (Record, bool) {
	if idx < 0 || idx >= l.cfg.Slots || !l.slots[idx].locked {
		return Record{}, false
	}
	return l.slots[idx].rec, true
}

// ack unlocks a read slot, permitting reuse.
func (l *Log) ack(idx int) bool {
	if idx < 0 || idx >= l.cfg.Slots || !l.slots[idx].locked {
		return false
	}
	l.slots[idx].locked = false
	l.count--
	return true
}

// Read is the consumer-side read handshake as a direct call: it presents
// the record of a locked slot, leaving the lock in place.
func (l *Log) Read(idx int) (Record, bool) {
	return l.read(idx)
}

// Ack is the consumer-side acknowledge: it unlocks the slot and frees it
// for reuse. Returns false if the slot was not locked.
func (l *Log) Ack(idx int) bool {
	return l.ack(idx)
}

// Slots returns the log capacity.
func (l *Log) Slots() int { return l.cfg.Slots }

// Occupied returns the number of locked slots.
func (l *Log) Occupied() int { return l.count }

// Dropped returns the number of capture writes lost to lock contention
// since reset.
func (l *Log) Dropped() uint64 { return l.dropped }

// seal computes the chain seal for a record.
func (l *Log) seal(rec *Record) [SealSize]byte {
	mac := hmac.New(sha256.New, l.key)
	mac.Write(encodeSnapshot(&rec.Snapshot))
	mac.Write(rec.PrevSeal[:])
	var out [SealSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyRecord checks a record's seal against this log's key.
func (l *Log) VerifyRecord(rec Record) bool {
	want := l.seal(&rec)
	return hmac.Equal(want[:], rec.Seal[:])
}

// VerifyChain walks the occupied slots in write order, checking every
// record's seal and the prev-seal link between consecutively occupied
// slots. An acked slot interrupts the link but not the verdict: its
// seal is still bound into every later record through the chain.
func (l *Log) VerifyChain() bool {
	var prev [SealSize]byte
	havePrev := false
	for i := 0; i < l.cfg.Slots; i++ {
		s := &l.slots[(l.cursor+i)%l.cfg.Slots]
		if !s.locked {
			havePrev = false
			continue
		}
		if !l.VerifyRecord(s.rec) {
			return false
		}
		if havePrev && !hmac.Equal(prev[:], s.rec.PrevSeal[:]) {
			return false
		}
		prev = s.rec.Seal
		havePrev = true
	}
	return true
}

// encodeSnapshot produces the canonical wire form of a snapshot for
// sealing. All fields are fixed width, so the little-endian struct
// encoding is deterministic.
func encodeSnapshot(s *Snapshot) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, s)
	return buf.Bytes()
}
