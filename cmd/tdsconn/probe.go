package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tdsconn/internal/tds"
)

// probeOutput is the --json form of a probe result.
type probeOutput struct {
	Server    string `json:"server"`
	Database  string `json:"database,omitempty"`
	OK        bool   `json:"ok"`
	LoggedIn  bool   `json:"logged_in"`
	LatencyMS int64  `json:"latency_ms"`
	Kind      string `json:"kind,omitempty"`
	Error     string `json:"error,omitempty"`

	Facts map[string]any `json:"facts,omitempty"`
}

func newProbeCmd(a *app) *cobra.Command {
	var flags targetFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that a server accepts a login, then disconnect",
		Long: `Connect, check the login state and disconnect immediately. No watchdog is
attached. The exit status is non-zero when the probe fails.

Examples:
  tdsconn probe
  tdsconn probe --host db2 --port 14330 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := flags.descriptor(a.cfg.Target)
			if err != nil {
				return err
			}
			return a.runProbe(cmd.Context(), desc, asJSON)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func (a *app) runProbe(ctx context.Context, desc tds.Descriptor, asJSON bool) error {
	manager, err := a.newManager(tds.Deps{})
	if err != nil {
		return err
	}
	defer manager.Close() //nolint:errcheck // Close only clears the type registry

	result, probeErr := manager.Probe(ctx, desc)
	out := probeOutput{
		Server:    tds.Translate(desc).Address(),
		Database:  desc.Database,
		OK:        probeErr == nil,
		LoggedIn:  result.LoggedIn,
		LatencyMS: result.Latency.Milliseconds(),
		Facts:     result.Facts,
	}
	var ce *tds.ClassifiedError
	if errors.As(probeErr, &ce) {
		out.Kind = string(ce.Kind)
		out.Error = ce.Error()
	}

	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	} else if out.OK {
		fmt.Fprintf(a.out, "%s: ok (logged in: %t, %d ms)\n", out.Server, out.LoggedIn, out.LatencyMS)
		names := make([]string, 0, len(out.Facts))
		for name := range out.Facts {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(a.out, "  %-16s %v\n", name, out.Facts[name])
		}
	}

	return probeErr
}
