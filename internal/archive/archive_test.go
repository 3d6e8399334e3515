package archive

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hwsentinel/internal/classifier"
	"hwsentinel/internal/forensic"
	"hwsentinel/internal/response"
)

func newTestLog(t *testing.T, slots int) *forensic.Log {
	t.Helper()
	l, err := forensic.New(forensic.Config{Slots: slots, WarmupTicks: 2, Seed: []byte("archive-test-seed")})
	require.NoError(t, err)
	for n := 0; n < 2; n++ {
		l.Tick(forensic.Input{})
	}
	return l
}

func capture(t *testing.T, l *forensic.Log, tick uint64, level classifier.Level) {
	t.Helper()
	s := forensic.Snapshot{
		Timestamp:   tick,
		ThreatLevel: level,
		Attack:      classifier.AttackPowerGlitch,
		Score:       130,
		Response:    response.LevelIsolate,
		PC:          0x4000,
		PrivLevel:   3,
		LastBadPC:   0x00FF_0000,
	}
	for i := range s.Channels {
		s.Channels[i] = forensic.ChannelSnap{Raw: uint32(100 * tick), Baseline: 90, Delta: 10}
	}
	l.Tick(forensic.Input{Trigger: true, ThreatValid: true, Snapshot: s})
	out := l.Tick(forensic.Input{})
	require.True(t, out.CaptureDone)
	l.Tick(forensic.Input{})
}

func testBackends(t *testing.T) map[string]Archiver {
	t.Helper()
	sqlitePath := filepath.Join(t.TempDir(), "incidents.db")
	store, err := Open(sqlitePath, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return map[string]Archiver{
		"sqlite": store,
		"memory": NewMemory(),
	}
}

func TestDrainArchivesAndUnlocks(t *testing.T) {
	for name, dst := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			l := newTestLog(t, 8)
			capture(t, l, 10, classifier.LevelHigh)
			capture(t, l, 25, classifier.LevelCritical)
			require.Equal(t, 2, l.Occupied())

			drained, err := Drain(l, dst)
			require.NoError(t, err)
			assert.Equal(t, 2, drained)
			assert.Equal(t, 0, l.Occupied(), "drained slots must be acknowledged")

			n, err := dst.Count()
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			incidents, err := dst.GetByTickRange(0, 100)
			require.NoError(t, err)
			require.Len(t, incidents, 2)
			assert.Equal(t, uint64(10), incidents[0].Tick)
			assert.Equal(t, "high", incidents[0].ThreatLevel)
			assert.Equal(t, uint64(25), incidents[1].Tick)
			assert.Equal(t, uint32(1000), incidents[0].Channels[0].Raw)
			assert.Len(t, incidents[0].Seal, forensic.SealSize)
		})
	}
}

func TestDrainEmptyLog(t *testing.T) {
	l := newTestLog(t, 4)
	dst := NewMemory()

	drained, err := Drain(l, dst)
	require.NoError(t, err)
	assert.Equal(t, 0, drained)
}

func TestGetByLevel(t *testing.T) {
	for name, dst := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			l := newTestLog(t, 8)
			capture(t, l, 1, classifier.LevelHigh)
			capture(t, l, 2, classifier.LevelCritical)
			capture(t, l, 3, classifier.LevelHigh)

			_, err := Drain(l, dst)
			require.NoError(t, err)

			high, err := dst.GetByLevel("high")
			require.NoError(t, err)
			assert.Len(t, high, 2)

			crit, err := dst.GetByLevel("critical")
			require.NoError(t, err)
			require.Len(t, crit, 1)
			assert.Equal(t, uint64(2), crit[0].Tick)
		})
	}
}

func TestGetMissingIncident(t *testing.T) {
	for name, dst := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			inc, err := dst.Get(9999)
			require.NoError(t, err)
			assert.Nil(t, inc)
		})
	}
}

func TestLastSealTracksChain(t *testing.T) {
	for name, dst := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := dst.LastSeal()
			require.NoError(t, err)
			assert.Nil(t, empty)

			l := newTestLog(t, 8)
			capture(t, l, 5, classifier.LevelHigh)
			capture(t, l, 6, classifier.LevelHigh)
			_, err = Drain(l, dst)
			require.NoError(t, err)

			seal, err := dst.LastSeal()
			require.NoError(t, err)
			require.Len(t, seal, forensic.SealSize)

			incidents, err := dst.GetByTickRange(0, 100)
			require.NoError(t, err)
			assert.Equal(t, incidents[len(incidents)-1].Seal, seal)
			// Consecutive captures chain: record N+1 carries record N's seal.
			assert.Equal(t, incidents[0].Seal, incidents[1].PrevSeal)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.db")

	store, err := Open(path, 5000)
	require.NoError(t, err)

	l := newTestLog(t, 4)
	capture(t, l, 42, classifier.LevelCritical)
	_, err = Drain(l, store)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path, 5000)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	incidents, err := reopened.GetByTickRange(42, 42)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "critical", incidents[0].ThreatLevel)
	assert.Equal(t, uint32(0x00FF_0000), incidents[0].LastBadPC)
}

func TestBuildReport(t *testing.T) {
	dst := NewMemory()
	l := newTestLog(t, 8)
	capture(t, l, 100, classifier.LevelHigh)
	capture(t, l, 200, classifier.LevelCritical)
	_, err := Drain(l, dst)
	require.NoError(t, err)

	r, err := BuildReport(dst, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, ReportSchemaVersion, r.SchemaVersion)
	assert.Equal(t, 2, r.Summary.Total)
	assert.Equal(t, uint64(100), r.Summary.FirstTick)
	assert.Equal(t, uint64(200), r.Summary.LastTick)
	assert.Equal(t, 1, r.Summary.ByLevel["high"])
	assert.Equal(t, 1, r.Summary.ByLevel["critical"])

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, r))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, r.Summary.Total, decoded.Summary.Total)
	require.Len(t, decoded.Incidents, 2)
	assert.Equal(t, r.Incidents[0].Seal, decoded.Incidents[0].Seal)
}

func TestBuildReportEmptyRange(t *testing.T) {
	r, err := BuildReport(NewMemory(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Summary.Total)
	assert.Empty(t, r.Incidents)
}
