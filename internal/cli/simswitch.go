package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/southbound"
)

type simSwitchOptions struct {
	controller    string
	dpid          uint64
	ports         []uint
	packetInEvery time.Duration
	srcMAC        string
	dstMAC        string
}

func newSimSwitchCommand(opts *options) *cobra.Command {
	sim := &simSwitchOptions{}

	cmd := &cobra.Command{
		Use:   "sim-switch",
		Short: "Emulate a switch on the southbound channel",
		Long: `Connect to the controller as a switch, answer statistics requests with
synthetic counters and log every rule the controller sends. With
--packet-in-every the switch also forwards an IPv4 frame periodically.`,
		Example: `  apctl sim-switch --dpid 1 --ports 1,2,3
  apctl sim-switch --dpid 2 --packet-in-every 5s --src-mac 00:00:00:00:00:02`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimSwitch(ctx, sim, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&sim.controller, "controller", "127.0.0.1:6653", "southbound address of the controller")
	flags.Uint64Var(&sim.dpid, "dpid", 1, "datapath id to announce")
	flags.UintSliceVar(&sim.ports, "ports", []uint{1, 2, 3}, "port numbers to report")
	flags.DurationVar(&sim.packetInEvery, "packet-in-every", 0, "send a packet-in at this interval (0 disables)")
	flags.StringVar(&sim.srcMAC, "src-mac", "00:00:00:00:00:01", "source MAC of generated packet-ins")
	flags.StringVar(&sim.dstMAC, "dst-mac", "00:00:00:00:00:02", "destination MAC of generated packet-ins")
	return cmd
}

func runSimSwitch(ctx context.Context, sim *simSwitchOptions, logger *zap.Logger) error {
	if len(sim.ports) == 0 {
		return fmt.Errorf("at least one port is required")
	}
	ports := make([]uint32, len(sim.ports))
	for i, p := range sim.ports {
		ports[i] = uint32(p)
	}

	var frame []byte
	if sim.packetInEvery > 0 {
		var err error
		if frame, err = buildIPv4Frame(sim.srcMAC, sim.dstMAC); err != nil {
			return err
		}
	}

	client, err := southbound.Dial(ctx, sim.controller, southbound.Hello{
		DPID:        model.DPID(sim.dpid),
		Ports:       ports,
		Description: "apctl simulated switch",
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	logger.Info("Simulated switch connected",
		zap.String("controller", sim.controller),
		zap.Stringer("dpid", model.DPID(sim.dpid)),
		zap.Uint32s("ports", ports))

	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if frame != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendPacketIns(loopCtx, client, ports[0], frame, sim.packetInEvery, logger)
		}()
	}

	counters := newPortCounters(ports)
	err = serveController(client, counters, logger)

	cancel()
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// controllerStream is the part of the switch client the receive loop needs
type controllerStream interface {
	Recv() (*southbound.ControllerMessage, error)
	SendStatsReply(xid uint32, ports []model.PortStats) error
}

// serveController handles controller commands until the stream ends
func serveController(stream controllerStream, counters *portCounters, logger *zap.Logger) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				logger.Info("Control stream closed")
				return nil
			}
			return fmt.Errorf("control stream failed: %w", err)
		}

		switch msg.Type {
		case southbound.TypeStatsRequest:
			if err := stream.SendStatsReply(msg.XID, counters.next()); err != nil {
				return fmt.Errorf("failed to send stats reply: %w", err)
			}
			logger.Debug("Answered stats request", zap.Uint32("xid", msg.XID))

		case southbound.TypeFlowMod:
			fm := msg.FlowMod
			if fm == nil {
				logger.Warn("Flow mod without body", zap.Uint32("xid", msg.XID))
				continue
			}
			fields := []zap.Field{zap.Uint32("xid", msg.XID), zap.String("command", fm.Command)}
			if fm.Rule != nil {
				fields = append(fields, zap.Any("rule", fm.Rule))
			}
			if fm.Selector != nil {
				fields = append(fields, zap.Any("selector", fm.Selector))
			}
			logger.Info("Flow mod received", fields...)

		case southbound.TypePacketOut:
			if out := msg.PacketOut; out != nil {
				logger.Info("Packet out received",
					zap.Uint32("in_port", out.InPort),
					zap.Any("actions", out.Actions),
					zap.Int("bytes", len(out.Data)))
			}

		default:
			logger.Warn("Unknown controller message", zap.String("type", msg.Type))
		}
	}
}

func sendPacketIns(ctx context.Context, client *southbound.SwitchClient, inPort uint32, frame []byte, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := client.SendPacketIn(model.PacketIn{
				InPort:   inPort,
				BufferID: model.NoBuffer,
				Reason:   "no_match",
				Data:     frame,
			})
			if err != nil {
				logger.Warn("Failed to send packet-in", zap.Error(err))
				return
			}
		}
	}
}

// buildIPv4Frame serializes a minimal Ethernet/IPv4/UDP frame
func buildIPv4Frame(src, dst string) ([]byte, error) {
	srcMAC, err := net.ParseMAC(src)
	if err != nil {
		return nil, fmt.Errorf("invalid source MAC: %w", err)
	}
	dstMAC, err := net.ParseMAC(dst)
	if err != nil {
		return nil, fmt.Errorf("invalid destination MAC: %w", err)
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 5001}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("apctl"))); err != nil {
		return nil, fmt.Errorf("failed to build frame: %w", err)
	}
	return buf.Bytes(), nil
}

// portCounters produces monotonically growing synthetic counters
type portCounters struct {
	mu    sync.Mutex
	ports []uint32
	ticks uint64
}

func newPortCounters(ports []uint32) *portCounters {
	return &portCounters{ports: ports}
}

func (c *portCounters) next() []model.PortStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++

	out := make([]model.PortStats, len(c.ports))
	for i, p := range c.ports {
		base := c.ticks * uint64(i+1)
		out[i] = model.PortStats{
			PortNo:    p,
			RxPackets: base * 100,
			TxPackets: base * 90,
			RxBytes:   base * 100 * 512,
			TxBytes:   base * 90 * 512,
			RxDropped: base / 10,
		}
	}
	return out
}
