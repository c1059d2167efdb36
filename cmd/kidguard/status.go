package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/config"
	"github.com/eliteGoblin/focusd/kidguard/internal/daemon"
	"github.com/eliteGoblin/focusd/kidguard/internal/infra"
	"github.com/eliteGoblin/focusd/kidguard/internal/simulate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check enforcement status",
	Long: `Shows whether the daemon is running, whether kid mode is on, and what the
engine is doing right now (grace periods, last block).`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>...",
	Short: "Replay scripted scenarios against the engine",
	Long: `Runs each scenario on virtual time against a simulated device and prints every
time the device was sent home. Exits non-zero if a scenario's expectations fail.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulate,
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withConfigStore(func(cfg *config.Config, store *infra.Store, logger *zap.Logger) error {
		pm := infra.NewProcessManager()

		fmt.Println("\n=== kidguard Status ===")

		kidMode := "off"
		if store.KidMode() {
			kidMode = "on"
		}
		fmt.Printf("Kid mode: %s\n", kidMode)
		fmt.Printf("Allowed apps: %d\n", len(store.Whitelist()))

		entry, err := store.GetAll()
		if err != nil || entry == nil {
			fmt.Println("Daemon: NOT RUNNING")
			fmt.Println("\nRun 'kidguard run' or 'kidguard service start' to enable enforcement.")
			return nil
		}

		state := infra.DaemonLiveness(pm, entry, time.Now(), 3*cfg.Daemon.HeartbeatInterval)
		switch state {
		case infra.DaemonRunning:
			fmt.Printf("Daemon: RUNNING (pid %d, %s)\n", entry.EnforcerPID, entry.AppVersion)
		case infra.DaemonStale:
			fmt.Printf("Daemon: STALE (pid %d alive, no recent heartbeat)\n", entry.EnforcerPID)
		default:
			fmt.Printf("Daemon: NOT RUNNING (last pid %d)\n", entry.EnforcerPID)
		}
		if entry.Mode != "" {
			fmt.Printf("Execution mode: %s\n", entry.Mode)
		}
		if entry.LastHeartbeat > 0 {
			lastBeat := time.Unix(entry.LastHeartbeat, 0)
			fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
		}

		if cfg.Daemon.StatusAddr != "" && state == infra.DaemonRunning {
			if err := printEngineStatus(cmd.Context(), cfg.Daemon.StatusAddr); err != nil {
				fmt.Printf("Engine: unavailable (%v)\n", err)
			}
		}

		fmt.Println("=======================")
		return nil
	})
}

func printEngineStatus(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status server returned %s", resp.Status)
	}

	var status daemon.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}

	snap := status.Engine
	fmt.Printf("Uptime: %s\n", status.Uptime)
	fmt.Printf("Engine session: %s (running: %t, polling: %t)\n", snap.SessionID, snap.Running, snap.Polling)
	for _, g := range snap.InGrace {
		fmt.Printf("  in grace: %s since %s\n", g.Package, g.StartedAt.Format(time.TimeOnly))
	}
	fmt.Printf("Apps sent home this session: %d\n", snap.RemediationCount)
	if r := snap.LastRemediation; r != nil {
		fmt.Printf("Last: %s (%s) at %s\n", r.Package, r.Reason, r.At.Format(time.TimeOnly))
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := cliLogger()
	defer func() { _ = logger.Sync() }()

	failed := 0
	for _, path := range args {
		sc, err := simulate.LoadScenario(path)
		if err != nil {
			return err
		}
		report, err := simulate.Run(sc, cfg.EngineConfig(), logger)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		report.Write(os.Stdout)
		for _, msg := range report.Check(sc.Expect) {
			fmt.Printf("  FAIL: %s\n", msg)
			failed++
		}
		fmt.Println()
	}

	if failed > 0 {
		return fmt.Errorf("%d expectation(s) failed", failed)
	}
	return nil
}
