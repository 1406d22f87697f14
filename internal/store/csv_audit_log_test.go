package store

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
)

func readSegments(t *testing.T, dir, name string) [][][]string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(dir, name+"-*.csv"))
	require.NoError(t, err)
	sort.Strings(paths)

	var out [][][]string
	for _, p := range paths {
		f, err := os.Open(p)
		require.NoError(t, err)
		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		require.NoError(t, err)
		out = append(out, rows)
	}
	return out
}

func TestCSVAuditLog_Observations(t *testing.T) {
	dir := t.TempDir()
	l, err := NewCSVAuditLog(&CSVAuditConfig{Dir: dir, SegmentSize: 1 << 20}, zap.NewNop())
	require.NoError(t, err)

	err = l.WriteObservations(context.Background(), []model.PortObservation{
		{Timestamp: t0, SwitchID: 2, Stats: model.PortStats{PortNo: 1, RxPackets: 10, TxPackets: 11, RxBytes: 1000, TxBytes: 1100, RxDropped: 1, TxDropped: 0}, CongestionScore: 0.25},
		{Timestamp: t0, SwitchID: 2, Stats: model.PortStats{PortNo: 2}, CongestionScore: 0.25},
	})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	segs := readSegments(t, dir, "network_stats")
	require.Len(t, segs, 1)
	rows := segs[0]
	require.Len(t, rows, 3)
	assert.Equal(t, observationHeader, rows[0])
	assert.Equal(t, []string{"2024-05-01T12:00:00Z", "2", "1", "10", "11", "1000", "1100", "1", "0", "0.25"}, rows[1])
}

func TestCSVAuditLog_PredictionAndTelemetry(t *testing.T) {
	dir := t.TempDir()
	l, err := NewCSVAuditLog(&CSVAuditConfig{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	defer l.Close()

	load := 0.42
	require.NoError(t, l.WritePrediction(context.Background(), model.PredictionAudit{
		Timestamp: t0, Kind: "scalar", APIDs: []model.APID{"ap1"}, Load: &load, Payload: `{"ap_id":"ap1","traffic_load":0.42}`,
	}))
	require.NoError(t, l.WritePrediction(context.Background(), model.PredictionAudit{
		Timestamp: t0, Kind: "batch", APIDs: []model.APID{"ap1", "ap2"}, Payload: `{}`,
	}))
	require.NoError(t, l.WriteTelemetry(context.Background(), model.VehicleTelemetry{
		VehicleID: "veh0", APID: "ap1", Speed: 13.5, X: 1, Y: -2, Lane: "e1_0", Timestamp: t0,
	}))
	require.NoError(t, l.Close())

	preds := readSegments(t, dir, "predictions")
	require.Len(t, preds, 1)
	require.Len(t, preds[0], 3)
	assert.Equal(t, "0.42", preds[0][1][3])
	assert.Equal(t, `{"ap_id":"ap1","traffic_load":0.42}`, preds[0][1][4])
	assert.Equal(t, "ap1;ap2", preds[0][2][2])
	assert.Equal(t, "", preds[0][2][3])

	tele := readSegments(t, dir, "vehicle_data")
	require.Len(t, tele, 1)
	assert.Equal(t, []string{"2024-05-01T12:00:00Z", "veh0", "ap1", "13.5", "1", "-2", "e1_0"}, tele[0][1])
}

func TestCSVAuditLog_Rotation(t *testing.T) {
	dir := t.TempDir()
	l, err := NewCSVAuditLog(&CSVAuditConfig{Dir: dir, SegmentSize: 64, SyncWrites: true}, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.WriteTelemetry(context.Background(), model.VehicleTelemetry{
			VehicleID: "vehicle-with-a-long-name", APID: "ap1", Timestamp: t0,
		}))
	}
	require.NoError(t, l.Close())

	segs := readSegments(t, dir, "vehicle_data")
	require.GreaterOrEqual(t, len(segs), 3)
	for _, rows := range segs {
		assert.Equal(t, telemetryHeader, rows[0], "every segment starts with a header")
	}
}

func TestCSVAuditLog_WriteAfterClose(t *testing.T) {
	l, err := NewCSVAuditLog(&CSVAuditConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	err = l.WriteTelemetry(context.Background(), model.VehicleTelemetry{VehicleID: "v"})
	assert.Error(t, err)
}

func TestCSVAuditLog_FailedRotationKeepsStreamWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := NewCSVAuditLog(&CSVAuditConfig{Dir: dir, SegmentSize: 64}, zap.NewNop())
	require.NoError(t, err)
	defer l.Close()

	row := model.VehicleTelemetry{VehicleID: "vehicle-with-a-long-name", APID: "ap1", Timestamp: t0}

	// swap the directory for a plain file so the next rotation cannot open a segment
	moved := dir + ".moved"
	require.NoError(t, os.Rename(dir, moved))
	require.NoError(t, os.WriteFile(dir, nil, 0644))

	require.NoError(t, l.WriteTelemetry(context.Background(), row), "rotation failure is not a write failure")
	require.NoError(t, l.WriteTelemetry(context.Background(), row), "old segment is still open")

	require.NoError(t, os.Remove(dir))
	require.NoError(t, os.Rename(moved, dir))

	require.NoError(t, l.WriteTelemetry(context.Background(), row))
	require.NoError(t, l.WriteTelemetry(context.Background(), row))
	require.NoError(t, l.Close())

	segs := readSegments(t, dir, "vehicle_data")
	require.GreaterOrEqual(t, len(segs), 2, "rotation resumed once the directory came back")

	rows := 0
	for _, seg := range segs {
		assert.Equal(t, telemetryHeader, seg[0])
		rows += len(seg) - 1
	}
	assert.Equal(t, 4, rows, "no row was lost")
}
