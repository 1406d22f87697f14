package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanetlab/apsteer/internal/handler"
	"github.com/vanetlab/apsteer/internal/model"
	"github.com/vanetlab/apsteer/internal/service"
)

// adminError is returned for non-2xx admin API responses
type adminError struct {
	Status   int
	Response handler.ErrorResponse
}

func (e *adminError) Error() string {
	if e.Response.Message == "" {
		return fmt.Sprintf("admin API returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("admin API returned HTTP %d: %s (%s)", e.Status, e.Response.Message, e.Response.ErrorCode)
}

// getJSON fetches path from the admin API and decodes the body into out
func getJSON(ctx context.Context, opts *options, path string, query url.Values, out interface{}) error {
	u := opts.adminURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", u, err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &adminError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, &apiErr.Response)
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", u, err)
	}
	return nil
}

type switchList struct {
	Count    int                `json:"count" yaml:"count"`
	Switches []model.SwitchInfo `json:"switches" yaml:"switches"`
}

func newSwitchesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "switches",
		Short: "List connected switches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp switchList
			if err := getJSON(cmd.Context(), opts, "/api/v1/switches", nil, &resp); err != nil {
				return err
			}

			tbl := &table{header: []string{"DPID", "STATE", "REMOTE", "CONNECTED"}}
			for _, sw := range resp.Switches {
				tbl.add(sw.ID, sw.State, sw.RemoteAddr, sw.ConnectedAt.Format(time.RFC3339))
			}
			return render(cmd.OutOrStdout(), opts.output, resp, tbl)
		},
	}
}

type congestionList struct {
	Count        int                       `json:"count" yaml:"count"`
	Threshold    float64                   `json:"threshold" yaml:"threshold"`
	LastUpdate   time.Time                 `json:"last_update" yaml:"last_update"`
	AccessPoints []handler.CongestionEntry `json:"access_points" yaml:"access_points"`
}

func newCongestionCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "congestion [ap_id]",
		Short: "Show congestion records ranked from least to most congested",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []handler.CongestionEntry
			var data interface{}

			if len(args) == 1 {
				var entry handler.CongestionEntry
				if err := getJSON(cmd.Context(), opts, "/api/v1/congestion/"+url.PathEscape(args[0]), nil, &entry); err != nil {
					return err
				}
				entries, data = []handler.CongestionEntry{entry}, entry
			} else {
				var resp congestionList
				if err := getJSON(cmd.Context(), opts, "/api/v1/congestion", nil, &resp); err != nil {
					return err
				}
				entries, data = resp.AccessPoints, resp
			}

			tbl := &table{header: []string{"RANK", "AP", "KIND", "SCORE", "REROUTE", "UPDATED"}}
			for _, e := range entries {
				rank := "-"
				if e.Rank > 0 {
					rank = strconv.Itoa(e.Rank)
				}
				tbl.add(rank, e.Record.APID, e.Record.Kind, strconv.FormatFloat(e.Score, 'f', 3, 64),
					e.Reroute, e.Record.UpdatedAt.Format(time.RFC3339))
			}
			return render(cmd.OutOrStdout(), opts.output, data, tbl)
		},
	}
}

type vehicleList struct {
	Count    int                      `json:"count" yaml:"count"`
	ByAP     map[model.APID]int       `json:"by_ap" yaml:"by_ap"`
	Vehicles []model.VehicleTelemetry `json:"vehicles" yaml:"vehicles"`
}

func newVehiclesCommand(opts *options) *cobra.Command {
	var ap string

	cmd := &cobra.Command{
		Use:   "vehicles [vehicle_id]",
		Short: "Show tracked vehicles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var vehicles []model.VehicleTelemetry
			var data interface{}

			if len(args) == 1 {
				var v model.VehicleTelemetry
				if err := getJSON(cmd.Context(), opts, "/api/v1/vehicles/"+url.PathEscape(args[0]), nil, &v); err != nil {
					return err
				}
				vehicles, data = []model.VehicleTelemetry{v}, v
			} else {
				query := url.Values{}
				if ap != "" {
					query.Set("ap_id", ap)
				}
				var resp vehicleList
				if err := getJSON(cmd.Context(), opts, "/api/v1/vehicles", query, &resp); err != nil {
					return err
				}
				vehicles, data = resp.Vehicles, resp
			}

			tbl := &table{header: []string{"VEHICLE", "AP", "SPEED", "X", "Y", "LANE", "SEEN"}}
			for _, v := range vehicles {
				tbl.add(v.VehicleID, v.APID, v.Speed, v.X, v.Y, v.Lane, v.Timestamp.Format(time.RFC3339))
			}
			return render(cmd.OutOrStdout(), opts.output, data, tbl)
		},
	}

	cmd.Flags().StringVar(&ap, "ap", "", "only list vehicles attached to this AP")
	return cmd
}

func newDecisionCommand(opts *options) *cobra.Command {
	var preview bool

	cmd := &cobra.Command{
		Use:   "decision",
		Short: "Show the last rerouting decision",
		Long: `Show the decision taken for the last batch prediction. With --preview the
controller evaluates its current congestion table without sending any rule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/decision"
			if preview {
				path += "/preview"
			}
			var d service.Decision
			if err := getJSON(cmd.Context(), opts, path, nil, &d); err != nil {
				return err
			}

			tbl := &table{header: []string{"ID", "AT", "TARGET", "SCORE", "REROUTES"}}
			target, score := "-", "-"
			if d.HasTarget {
				target = string(d.Target)
				score = strconv.FormatFloat(d.TargetScore, 'f', 3, 64)
			}
			tbl.add(d.ID, d.At.Format(time.RFC3339), target, score, joinAPs(d.Reroutes))
			return render(cmd.OutOrStdout(), opts.output, d, tbl)
		},
	}

	cmd.Flags().BoolVar(&preview, "preview", false, "evaluate the current table instead of showing the last decision")
	return cmd
}

func joinAPs(aps []model.APID) string {
	if len(aps) == 0 {
		return "-"
	}
	out := string(aps[0])
	for _, ap := range aps[1:] {
		out += "," + string(ap)
	}
	return out
}
