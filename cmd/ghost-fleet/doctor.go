package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/brennhill/ghost-fleet/internal/config"
)

// doctorReport is a read-only introspection of one fleet configuration:
// whether it parses and validates, and whether its configured debugging
// endpoint is reachable. It never mutates anything, the way the teacher's
// own doctor subcommand is a read-only diagnostic surface.
type doctorReport struct {
	ConfigPath      string `json:"config_path"`
	ConfigValid     bool   `json:"config_valid"`
	ConfigError     string `json:"config_error,omitempty"`
	DebugEndpoint   string `json:"debug_endpoint,omitempty"`
	DebugReachable  bool   `json:"debug_reachable"`
	DebugCheckError string `json:"debug_check_error,omitempty"`
	PoolMinWarm     int    `json:"pool_min_warm,omitempty"`
	PoolMaxSlots    int    `json:"pool_max_slots,omitempty"`
}

func buildDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and check the remote debugging endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			report := runDoctor(configPath)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.ConfigValid || !report.DebugReachable {
				return fmt.Errorf("doctor: one or more checks failed")
			}
			return nil
		},
	}
}

func runDoctor(path string) doctorReport {
	report := doctorReport{ConfigPath: path}

	cfg, err := config.Load(path)
	if err != nil {
		report.ConfigError = err.Error()
		return report
	}
	report.ConfigValid = true
	report.PoolMinWarm = cfg.Pool.MinWarm
	report.PoolMaxSlots = cfg.Pool.MaxSlots

	debugURL := fmt.Sprintf("http://127.0.0.1:%d/json/version", cfg.BCL.RemoteDebuggingPort)
	report.DebugEndpoint = debugURL

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(debugURL)
	if err != nil {
		report.DebugCheckError = err.Error()
		return report
	}
	defer resp.Body.Close()
	report.DebugReachable = resp.StatusCode == http.StatusOK
	if !report.DebugReachable {
		report.DebugCheckError = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return report
}
