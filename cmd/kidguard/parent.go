package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/config"
	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
	"github.com/eliteGoblin/focusd/kidguard/internal/infra"
	"github.com/eliteGoblin/focusd/kidguard/internal/policy"
)

var parentPin string

var modeCmd = &cobra.Command{
	Use:       "mode <on|off>",
	Short:     "Turn kid mode on or off",
	Long:      `Turning kid mode on needs no PIN. Turning it off needs the parent PIN (--pin).`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE:      runMode,
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Manage apps the child may use",
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <package>...",
	Short: "Allow packages (needs --pin)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWhitelistAdd,
}

var whitelistRemoveCmd = &cobra.Command{
	Use:   "remove <package>...",
	Short: "Revoke packages (needs --pin)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWhitelistRemove,
}

var whitelistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowed packages",
	Args:  cobra.NoArgs,
	RunE:  runWhitelistList,
}

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage the parent PIN",
}

var pinSetCmd = &cobra.Command{
	Use:   "set <new-pin>",
	Short: "Replace the parent PIN (needs the current one as --pin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runPinSet,
}

var dockCmd = &cobra.Command{
	Use:   "dock",
	Short: "Manage the launcher dock",
}

var dockAddCmd = &cobra.Command{
	Use:   "add <package>",
	Short: "Append a package to the dock (needs --pin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDockAdd,
}

var dockRemoveCmd = &cobra.Command{
	Use:   "remove <package>",
	Short: "Remove a package from the dock (needs --pin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDockRemove,
}

var dockListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the dock and icon size",
	Args:  cobra.NoArgs,
	RunE:  runDockList,
}

var checkCmd = &cobra.Command{
	Use:   "check <package>",
	Short: "Show how a package would be classified right now",
	Long: `Runs the allow/deny rules against the stored whitelist without touching the device.
Useful to see why an app is (or is not) being blocked.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	for _, c := range []*cobra.Command{modeCmd, whitelistAddCmd, whitelistRemoveCmd, pinSetCmd, dockAddCmd, dockRemoveCmd} {
		c.Flags().StringVar(&parentPin, "pin", "", "parent PIN")
	}

	whitelistCmd.AddCommand(whitelistAddCmd, whitelistRemoveCmd, whitelistListCmd)
	pinCmd.AddCommand(pinSetCmd)
	dockCmd.AddCommand(dockAddCmd, dockRemoveCmd, dockListCmd)
}

// withStore opens the store for a one-shot command.
func withStore(fn func(store *infra.Store, logger *zap.Logger) error) error {
	return withConfigStore(func(_ *config.Config, store *infra.Store, logger *zap.Logger) error {
		return fn(store, logger)
	})
}

// withConfigStore is withStore for commands that also need the loaded config.
func withConfigStore(fn func(cfg *config.Config, store *infra.Store, logger *zap.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := cliLogger()
	defer func() { _ = logger.Sync() }()

	store, err := openStore(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(cfg, store, logger)
}

// requireParent checks --pin against the stored PIN.
func requireParent(store domain.PreferenceStore) error {
	if parentPin == "" {
		return fmt.Errorf("this command needs the parent PIN (--pin): %w", domain.ErrInvalidPin)
	}
	ok, err := store.VerifyPin(parentPin)
	if err != nil {
		return fmt.Errorf("failed to verify PIN: %w", err)
	}
	if !ok {
		return domain.ErrInvalidPin
	}
	return nil
}

func runMode(cmd *cobra.Command, args []string) error {
	return withStore(func(store *infra.Store, logger *zap.Logger) error {
		enable := args[0] == "on"
		if !enable {
			if err := requireParent(store); err != nil {
				return err
			}
		}
		if err := store.SetKidMode(enable); err != nil {
			return fmt.Errorf("failed to save kid mode: %w", err)
		}
		fmt.Printf("Kid mode: %s\n", args[0])
		return nil
	})
}

func runWhitelistAdd(cmd *cobra.Command, args []string) error {
	return withStore(func(store *infra.Store, logger *zap.Logger) error {
		if err := requireParent(store); err != nil {
			return err
		}
		for _, pkg := range args {
			if policy.IsSettingsApp(pkg) {
				fmt.Printf("Note: %s is a settings app and stays blocked in kid mode\n", pkg)
			}
			if err := store.AddToWhitelist(pkg); err != nil {
				return fmt.Errorf("failed to allow %s: %w", pkg, err)
			}
			fmt.Printf("Allowed: %s\n", pkg)
		}
		return nil
	})
}

func runWhitelistRemove(cmd *cobra.Command, args []string) error {
	return withStore(func(store *infra.Store, logger *zap.Logger) error {
		if err := requireParent(store); err != nil {
			return err
		}
		for _, pkg := range args {
			if err := store.RemoveFromWhitelist(pkg); err != nil {
				return fmt.Errorf("failed to revoke %s: %w", pkg, err)
			}
			fmt.Printf("Revoked: %s\n", pkg)
		}
		return nil
	})
}

func runWhitelistList(cmd *cobra.Command, args []string) error {
	return withStore(func(store *infra.Store, logger *zap.Logger) error {
		pkgs := sortedKeys(store.Whitelist())
		if len(pkgs) == 0 {
			fmt.Println("No apps allowed yet.")
			return nil
		}
		fmt.Println("Allowed apps:")
		for _, pkg := range pkgs {
			fmt.Printf("  - %s\n", pkg)
		}
		return nil
	})
}

func runPinSet(cmd *cobra.Command, args []string) error {
	return withStore(func(store *infra.Store, logger *zap.Logger) error {
		if err := requireParent(store); err != nil {
			return err
		}
		if err := store.SetPin(args[0]); err != nil {
			return err
		}
		fmt.Println("Parent PIN updated.")
		return nil
	})
}

func runDockAdd(cmd *cobra.Command, args []string) error {
	return updateDock(func(dock []string) ([]string, error) {
		for _, pkg := range dock {
			if pkg == args[0] {
				return nil, fmt.Errorf("%s is already in the dock", pkg)
			}
		}
		return append(dock, args[0]), nil
	})
}

func runDockRemove(cmd *cobra.Command, args []string) error {
	return updateDock(func(dock []string) ([]string, error) {
		out := dock[:0]
		for _, pkg := range dock {
			if pkg != args[0] {
				out = append(out, pkg)
			}
		}
		if len(out) == len(dock) {
			return nil, fmt.Errorf("%s is not in the dock", args[0])
		}
		return out, nil
	})
}

func updateDock(edit func(dock []string) ([]string, error)) error {
	return withStore(func(store *infra.Store, logger *zap.Logger) error {
		if err := requireParent(store); err != nil {
			return err
		}
		settings, err := store.LauncherSettings()
		if err != nil {
			return fmt.Errorf("failed to read launcher settings: %w", err)
		}
		dock, err := edit(settings.DockApps)
		if err != nil {
			return err
		}
		settings.DockApps = dock
		if err := store.SaveLauncherSettings(settings); err != nil {
			return fmt.Errorf("failed to save launcher settings: %w", err)
		}
		printDock(settings)
		return nil
	})
}

func runDockList(cmd *cobra.Command, args []string) error {
	return withStore(func(store *infra.Store, logger *zap.Logger) error {
		settings, err := store.LauncherSettings()
		if err != nil {
			return fmt.Errorf("failed to read launcher settings: %w", err)
		}
		printDock(settings)
		return nil
	})
}

func printDock(settings domain.LauncherSettings) {
	fmt.Printf("Icon size: %ddp\n", settings.IconSize)
	if len(settings.DockApps) == 0 {
		fmt.Println("Dock: empty")
		return
	}
	fmt.Println("Dock:")
	for i, pkg := range settings.DockApps {
		fmt.Printf("  %d. %s\n", i+1, pkg)
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	return withConfigStore(func(cfg *config.Config, store *infra.Store, logger *zap.Logger) error {
		pkg := args[0]
		decision := policy.NewEvaluator(cfg.Device.SelfPackage).Classify(pkg, store.Whitelist())

		fmt.Printf("Package: %s\n", pkg)
		fmt.Printf("Verdict: %s (rule: %s)\n", decision.Verdict, decision.Rule)
		switch {
		case !store.KidMode():
			fmt.Println("Kid mode is off, nothing is enforced right now.")
		case policy.IsSettingsApp(pkg):
			fmt.Println("Settings apps are sent home immediately.")
		case !decision.Allowed():
			fmt.Println("Would be sent home after the grace period.")
		}
		return nil
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
