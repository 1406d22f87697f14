package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vanetlab/apsteer/internal/metrics"
	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/util/workerpool"
)

// op is one command observed on a fake switch
type op struct {
	Kind     string
	Rule     model.FlowRule
	Selector model.RuleSelector
	Out      model.PacketOut
}

// fakeDatapath records every command in the order it was issued
type fakeDatapath struct {
	id model.DPID

	mu        sync.Mutex
	ops       []op
	failOn    map[string]error
	statsReqs int
}

func newFakeDatapath(id model.DPID) *fakeDatapath {
	return &fakeDatapath{id: id, failOn: map[string]error{}}
}

func (f *fakeDatapath) ID() model.DPID { return f.id }

func (f *fakeDatapath) record(o op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, o)
	return f.failOn[o.Kind]
}

func (f *fakeDatapath) InstallRule(rule model.FlowRule) error {
	return f.record(op{Kind: "install", Rule: rule})
}

func (f *fakeDatapath) DeleteRule(sel model.RuleSelector) error {
	return f.record(op{Kind: "delete", Selector: sel})
}

func (f *fakeDatapath) RequestStats() error {
	f.mu.Lock()
	f.statsReqs++
	f.mu.Unlock()
	return f.record(op{Kind: "stats"})
}

func (f *fakeDatapath) PacketOut(out model.PacketOut) error {
	return f.record(op{Kind: "packet_out", Out: out})
}

func (f *fakeDatapath) fail(kind string, err error) {
	f.mu.Lock()
	f.failOn[kind] = err
	f.mu.Unlock()
}

func (f *fakeDatapath) recorded() []op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]op(nil), f.ops...)
}

func (f *fakeDatapath) kinds() []string {
	var kinds []string
	for _, o := range f.recorded() {
		kinds = append(kinds, o.Kind)
	}
	return kinds
}

// inlineExecutor runs tasks on the caller's goroutine
type inlineExecutor struct {
	mu     sync.Mutex
	tasks  []workerpool.Task
	reject error
}

func (e *inlineExecutor) Submit(task workerpool.Task) error {
	if e.reject != nil {
		return e.reject
	}
	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
	_ = task.Fn(context.Background())
	return nil
}

// recordingSink is an in-memory audit sink
type recordingSink struct {
	mu           sync.Mutex
	observations []model.PortObservation
	predictions  []model.PredictionAudit
	telemetry    []model.VehicleTelemetry
	err          error
}

func (s *recordingSink) WriteObservations(ctx context.Context, rows []model.PortObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, rows...)
	return s.err
}

func (s *recordingSink) WritePrediction(ctx context.Context, audit model.PredictionAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = append(s.predictions, audit)
	return s.err
}

func (s *recordingSink) WriteTelemetry(ctx context.Context, t model.VehicleTelemetry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = append(s.telemetry, t)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observations), len(s.predictions), len(s.telemetry)
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics("test", prometheus.NewRegistry())
}

// ipv4Frame builds an Ethernet/IPv4 frame between two MACs
func ipv4Frame(t *testing.T, src, dst string) []byte {
	t.Helper()
	return frame(t, src, dst, layers.EthernetTypeIPv4)
}

func frame(t *testing.T, src, dst string, ethType layers.EthernetType) []byte {
	t.Helper()

	srcMAC, err := net.ParseMAC(src)
	require.NoError(t, err)
	dstMAC, err := net.ParseMAC(dst)
	require.NoError(t, err)

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: ethType}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	switch ethType {
	case layers.EthernetTypeIPv4:
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 0, 0, 1),
			DstIP:    net.IPv4(10, 0, 0, 2),
		}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload([]byte("hello"))))
	case layers.EthernetTypeARP:
		arp := &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   srcMAC,
			SourceProtAddress: []byte{10, 0, 0, 1},
			DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
			DstProtAddress:    []byte{10, 0, 0, 2},
		}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, arp))
	default:
		panic(fmt.Sprintf("unsupported ethernet type %v", ethType))
	}
	return buf.Bytes()
}
