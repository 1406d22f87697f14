package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/southbound"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func listenUDP(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn net.PacketConn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestPredictCommand(t *testing.T) {
	conn := listenUDP(t)

	out, err := execute(t, "--prediction-addr", conn.LocalAddr().String(), "predict", "ap2", "0.75")
	require.NoError(t, err)
	assert.Contains(t, out, "sent")

	var msg model.ScalarPrediction
	require.NoError(t, json.Unmarshal(readDatagram(t, conn), &msg))
	assert.Equal(t, model.APID("ap2"), msg.APID)
	require.NotNil(t, msg.TrafficLoad)
	assert.Equal(t, 0.75, *msg.TrafficLoad)
}

func TestPredictCommand_InvalidLoad(t *testing.T) {
	_, err := execute(t, "predict", "ap1", "heavy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid traffic load")
}

func TestBatchCommand(t *testing.T) {
	conn := listenUDP(t)

	_, err := execute(t, "--prediction-addr", conn.LocalAddr().String(), "batch",
		"--ap", "ap1=0.1,0.1,0.2,10,1,2",
		"--ap", "ap2=0.5,0.4,0.6,0,0,5")
	require.NoError(t, err)

	var msg model.BatchPrediction
	require.NoError(t, json.Unmarshal(readDatagram(t, conn), &msg))
	assert.Equal(t, model.MessageTypeBatch, msg.Type)
	require.Len(t, msg.Data, 2)
	assert.Equal(t, model.APID("ap1"), msg.Data[0].APID)
	assert.Equal(t, model.FeatureVector{
		AvgPacketRate: 0.5, AvgLatency: 0.4, BandwidthUsage: 0.6, ActiveNodes: 5,
	}, msg.Data[1].PredictedFeatures.Vector())
}

func TestBatchCommand_RequiresEntries(t *testing.T) {
	_, err := execute(t, "batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--ap")
}

func TestParseBatchEntry(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "valid", input: "ap3=1,2,3,4,5,6"},
		{name: "missing id", input: "=1,2,3,4,5,6", wantErr: "want ap_id"},
		{name: "no separator", input: "ap3", wantErr: "want ap_id"},
		{name: "too few features", input: "ap3=1,2,3", wantErr: "want 6 features"},
		{name: "not a number", input: "ap3=1,2,x,4,5,6", wantErr: "invalid feature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := parseBatchEntry(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.APID("ap3"), entry.APID)
			assert.Equal(t, 6.0, entry.PredictedFeatures.Vector().ActiveNodes)
		})
	}
}

func TestHandoffAndTelemetryCommands(t *testing.T) {
	pred := listenUDP(t)
	tele := listenUDP(t)

	_, err := execute(t, "--prediction-addr", pred.LocalAddr().String(), "handoff", "veh-7", "ap4")
	require.NoError(t, err)

	var hint model.HandoffHint
	require.NoError(t, json.Unmarshal(readDatagram(t, pred), &hint))
	assert.Equal(t, model.HandoffHint{NodeID: "veh-7", PredictedAP: "ap4"}, hint)

	_, err = execute(t, "--telemetry-addr", tele.LocalAddr().String(), "telemetry", "veh-7", "ap1",
		"--speed", "13.5", "--x", "10", "--y", "-2", "--lane", "e1_0")
	require.NoError(t, err)

	var msg model.TelemetryMessage
	require.NoError(t, json.Unmarshal(readDatagram(t, tele), &msg))
	assert.Equal(t, "veh-7", msg.VehicleID)
	assert.Equal(t, model.APID("ap1"), msg.APID)
	assert.Equal(t, 13.5, *msg.Speed)
	assert.Equal(t, -2.0, *msg.Y)
	assert.Equal(t, "e1_0", msg.Lane)
}

func TestRootCommand_RejectsUnknownOutput(t *testing.T) {
	_, err := execute(t, "--output", "xml", "switches")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func adminStub(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"status":"error","error_code":"NOT_FOUND","message":"no batch prediction received yet"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCongestionCommand_Table(t *testing.T) {
	srv := adminStub(t, map[string]string{
		"/api/v1/congestion": `{"count":2,"threshold":0.5,"access_points":[
			{"record":{"ap_id":"ap1","kind":"features","updated_at":"2026-01-01T00:00:00Z"},"score":-1,"reroute":false,"rank":1},
			{"record":{"ap_id":"ap2","kind":"features","updated_at":"2026-01-01T00:00:00Z"},"score":1.1,"reroute":true,"rank":2}]}`,
	})

	out, err := execute(t, "--admin-url", srv.URL, "congestion")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "RANK")
	assert.Contains(t, lines[1], "ap1")
	assert.Contains(t, lines[1], "-1.000")
	assert.Contains(t, lines[2], "ap2")
	assert.Contains(t, lines[2], "true")
}

func TestSwitchesCommand_JSON(t *testing.T) {
	srv := adminStub(t, map[string]string{
		"/api/v1/switches": `{"count":1,"switches":[{"id":1,"state":"active","connected_at":"2026-01-01T00:00:00Z"}]}`,
	})

	out, err := execute(t, "--admin-url", srv.URL, "-o", "json", "switches")
	require.NoError(t, err)

	var resp switchList
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Switches, 1)
	assert.Equal(t, model.DPID(1), resp.Switches[0].ID)
	assert.Equal(t, model.SwitchStateActive, resp.Switches[0].State)
}

func TestVehiclesCommand_PassesAPFilter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		io.WriteString(w, `{"count":0,"by_ap":{},"vehicles":[]}`)
	}))
	defer srv.Close()

	out, err := execute(t, "--admin-url", srv.URL, "vehicles", "--ap", "ap2")
	require.NoError(t, err)
	assert.Equal(t, "ap_id=ap2", gotQuery)
	assert.Contains(t, out, "No resources found.")
}

func TestDecisionCommand_NotFound(t *testing.T) {
	srv := adminStub(t, map[string]string{})

	_, err := execute(t, "--admin-url", srv.URL, "decision")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Contains(t, err.Error(), "no batch prediction received yet")
}

func TestDecisionCommand_Preview(t *testing.T) {
	srv := adminStub(t, map[string]string{
		"/api/v1/decision/preview": `{"id":"d-1","at":"2026-01-01T00:00:00Z","target":"ap1","target_score":-1,"has_target":true,"reroutes":["ap2","ap3"]}`,
	})

	out, err := execute(t, "--admin-url", srv.URL, "decision", "--preview")
	require.NoError(t, err)
	assert.Contains(t, out, "ap1")
	assert.Contains(t, out, "ap2,ap3")
}

type fakeStream struct {
	msgs    []*southbound.ControllerMessage
	replies map[uint32][]model.PortStats
}

func (f *fakeStream) Recv() (*southbound.ControllerMessage, error) {
	if len(f.msgs) == 0 {
		return nil, io.EOF
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeStream) SendStatsReply(xid uint32, ports []model.PortStats) error {
	f.replies[xid] = ports
	return nil
}

func TestServeController(t *testing.T) {
	stream := &fakeStream{
		replies: make(map[uint32][]model.PortStats),
		msgs: []*southbound.ControllerMessage{
			{Type: southbound.TypeStatsRequest, XID: 1, StatsRequest: &southbound.StatsRequest{PortNo: model.PortAny}},
			{Type: southbound.TypeFlowMod, XID: 2, FlowMod: &southbound.FlowMod{
				Command: southbound.FlowAdd,
				Rule:    &model.FlowRule{Match: model.Match{InPort: 1}, Actions: []model.Action{model.Output(2)}},
			}},
			{Type: southbound.TypeFlowMod, XID: 3},
			{Type: southbound.TypeStatsRequest, XID: 4},
		},
	}

	err := serveController(stream, newPortCounters([]uint32{1, 2}), zap.NewNop())
	require.NoError(t, err)

	require.Len(t, stream.replies, 2)
	first, second := stream.replies[1], stream.replies[4]
	require.Len(t, first, 2)
	assert.Equal(t, uint32(2), first[1].PortNo)
	assert.Greater(t, second[0].RxPackets, first[0].RxPackets)
}

func TestBuildIPv4Frame(t *testing.T) {
	frame, err := buildIPv4Frame("00:00:00:00:00:0a", "00:00:00:00:00:0b")
	require.NoError(t, err)

	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	assert.Equal(t, "00:00:00:00:00:0a", eth.SrcMAC.String())
	assert.NotNil(t, packet.Layer(layers.LayerTypeIPv4))
	assert.NotNil(t, packet.Layer(layers.LayerTypeUDP))

	_, err = buildIPv4Frame("not-a-mac", "00:00:00:00:00:0b")
	require.Error(t, err)
}
