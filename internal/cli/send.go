package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanetlab/apsteer/internal/model"
)

// sendDatagram writes payload as one UDP datagram to addr
func sendDatagram(addr string, payload []byte, timeout time.Duration) error {
	conn, err := net.DialTimeout("udp", addr, timeout)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("failed to send datagram to %s: %w", addr, err)
	}
	return nil
}

func sendJSON(cmd *cobra.Command, addr string, v interface{}, timeout time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := sendDatagram(addr, payload, timeout); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", len(payload), addr)
	return nil
}

func newPredictCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "predict <ap_id> <traffic_load>",
		Short: "Send a single-AP load prediction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			load, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid traffic load %q: %w", args[1], err)
			}
			return sendJSON(cmd, opts.predictionAddr, model.ScalarPrediction{
				APID:        model.APID(args[0]),
				TrafficLoad: &load,
			}, opts.timeout)
		},
	}
}

func newBatchCommand(opts *options) *cobra.Command {
	var (
		file    string
		entries []string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Send a batch of predicted feature vectors",
		Long: `Send a batch prediction. Entries come either from a JSON file holding the
whole message, or from repeated --ap flags of the form

  ap_id=avg_packet_rate,avg_latency,bandwidth_usage,speed,acceleration,active_nodes`,
		Example: `  apctl batch --ap ap1=0.1,0.1,0.2,10,1,2 --ap ap2=0.5,0.4,0.6,0,0,5
  apctl batch --file forecast.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				payload, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read batch file: %w", err)
				}
				if !json.Valid(payload) {
					return fmt.Errorf("batch file %s is not valid JSON", file)
				}
				if err := sendDatagram(opts.predictionAddr, payload, opts.timeout); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes to %s\n", len(payload), opts.predictionAddr)
				return nil
			}

			if len(entries) == 0 {
				return fmt.Errorf("either --file or at least one --ap is required")
			}
			batch := model.BatchPrediction{Type: model.MessageTypeBatch}
			for _, e := range entries {
				entry, err := parseBatchEntry(e)
				if err != nil {
					return err
				}
				batch.Data = append(batch.Data, entry)
			}
			return sendJSON(cmd, opts.predictionAddr, batch, opts.timeout)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with a complete batch message")
	cmd.Flags().StringArrayVar(&entries, "ap", nil, "batch entry ap_id=f1,f2,f3,f4,f5,f6 (repeatable)")
	return cmd
}

func parseBatchEntry(s string) (model.BatchEntry, error) {
	id, values, ok := strings.Cut(s, "=")
	if !ok || id == "" {
		return model.BatchEntry{}, fmt.Errorf("invalid entry %q: want ap_id=f1,...,f6", s)
	}
	fields := strings.Split(values, ",")
	if len(fields) != 6 {
		return model.BatchEntry{}, fmt.Errorf("invalid entry %q: want 6 features, got %d", s, len(fields))
	}

	parsed := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return model.BatchEntry{}, fmt.Errorf("invalid feature %q in entry %q: %w", f, s, err)
		}
		parsed[i] = v
	}

	return model.BatchEntry{
		APID: model.APID(id),
		PredictedFeatures: &model.PredictedFeatures{
			AvgPacketRate:  &parsed[0],
			AvgLatency:     &parsed[1],
			BandwidthUsage: &parsed[2],
			Speed:          &parsed[3],
			Acceleration:   &parsed[4],
			ActiveNodes:    &parsed[5],
		},
	}, nil
}

func newHandoffCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "handoff <node_id> <predicted_ap>",
		Short: "Send a handoff hint for a mobile node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendJSON(cmd, opts.predictionAddr, model.HandoffHint{
				NodeID:      args[0],
				PredictedAP: model.APID(args[1]),
			}, opts.timeout)
		},
	}
}

func newTelemetryCommand(opts *options) *cobra.Command {
	var (
		speed, x, y float64
		lane        string
	)

	cmd := &cobra.Command{
		Use:   "telemetry <vehicle_id> <ap_id>",
		Short: "Send one vehicle telemetry record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendJSON(cmd, opts.telemetryAddr, model.TelemetryMessage{
				VehicleID: args[0],
				APID:      model.APID(args[1]),
				Speed:     &speed,
				X:         &x,
				Y:         &y,
				Lane:      lane,
			}, opts.timeout)
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", 0, "speed in m/s")
	cmd.Flags().Float64Var(&x, "x", 0, "x position")
	cmd.Flags().Float64Var(&y, "y", 0, "y position")
	cmd.Flags().StringVar(&lane, "lane", "", "lane id")
	return cmd
}
