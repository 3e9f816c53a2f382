package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/AxoRm/glass/internal/config"
	"github.com/AxoRm/glass/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Glass installation",
		Long: `Verifies that Glass's configuration, API key, database, and overlay
port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Glass Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'glass init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. API key shape
			key := cfg.Provider.APIKey
			if cfg.Provider.Routing == "relay" {
				key = cfg.Provider.VirtualKey
			}
			switch {
			case key == "":
				printFail("API key", "not configured")
				failed++
			case cfg.Provider.Routing == "direct" && !provider.ValidKeyFormat(key):
				printWarn("API key", "does not look like a provider key")
				warned++
			default:
				printPass("API key", "configured")
				passed++
			}

			// 4. Live key check (network, opt-in)
			if live && key != "" && cfg.Provider.Routing == "direct" {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				client := &http.Client{Timeout: 15 * time.Second}
				if err := provider.ValidateKeyLive(ctx, client, cfg.Provider.APIBase, key, logger); err != nil {
					printFail("API key (live)", err.Error())
					failed++
				} else {
					printPass("API key (live)", "accepted by provider")
					passed++
				}
			}

			// 5. Database writable
			if err := checkDatabase(cfg.General.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.General.DBPath)
				passed++
			}

			// 6. Presets directory
			if cfg.General.PresetsDir != "" {
				if info, err := os.Stat(cfg.General.PresetsDir); err != nil {
					printWarn("Presets", fmt.Sprintf("not found: %s", cfg.General.PresetsDir))
					warned++
				} else if !info.IsDir() {
					printFail("Presets", fmt.Sprintf("not a directory: %s", cfg.General.PresetsDir))
					failed++
				} else {
					printPass("Presets", cfg.General.PresetsDir)
					passed++
				}
			}

			// 7. Overlay port
			port := cfg.Overlay.Port
			if port == 0 {
				port = 8765
			}
			if err := checkPort(port); err != nil {
				printWarn("Overlay port", fmt.Sprintf("port %d may be in use: %v", port, err))
				warned++
			} else {
				printPass("Overlay port", fmt.Sprintf(":%d available", port))
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running Glass.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nGlass should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Glass is ready to run.\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "verify the API key against the provider (makes a network call)")
	return cmd
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
