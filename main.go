package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/app"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/config"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/internal/cmdexec"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/tmux"
)

var (
	version     = "0.1.0"
	programFlag string
	rootFlags   []string

	rootCmd = &cobra.Command{
		Use:   "ciab",
		Short: "Claude in a Box - run concurrent AI coding agent sessions in disposable git worktrees.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()
			if programFlag != "" {
				cfg.DefaultProgram = programFlag
			}

			roots := rootFlags
			if len(roots) == 0 {
				if cwd, err := os.Getwd(); err == nil {
					roots = []string{filepath.Dir(cwd)}
				}
			}

			return app.Run(context.Background(), cfg, roots)
		},
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Kill all ciab tmux sessions and remove all worktrees and persisted session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			adapter := tmux.NewAdapter(cmdexec.New())
			names, err := adapter.List()
			if err != nil {
				log.WarningLog.Printf("failed to list tmux sessions: %v", err)
			}
			for _, name := range names {
				if err := adapter.Kill(name); err != nil {
					log.WarningLog.Printf("failed to kill tmux session %s: %v", name, err)
				}
			}
			fmt.Printf("Killed %d tmux session(s)\n", len(names))

			worktreesDir, err := config.GetWorktreesDir()
			if err != nil {
				return fmt.Errorf("failed to get worktrees directory: %w", err)
			}
			if err := os.RemoveAll(worktreesDir); err != nil {
				return fmt.Errorf("failed to remove worktrees: %w", err)
			}
			fmt.Println("Worktrees have been removed")

			sessionsDir, err := config.GetSessionsDir()
			if err != nil {
				return fmt.Errorf("failed to get sessions directory: %w", err)
			}
			if err := os.RemoveAll(sessionsDir); err != nil {
				return fmt.Errorf("failed to remove persisted sessions: %w", err)
			}
			fmt.Println("Persisted session state has been removed")

			return nil
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print debug information like config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			cfg := config.LoadConfig()

			configDir, err := config.GetConfigDir()
			if err != nil {
				return fmt.Errorf("failed to get config directory: %w", err)
			}
			configJSON, _ := json.MarshalIndent(cfg, "", "  ")

			fmt.Printf("Config: %s\n%s\n", filepath.Join(configDir, config.ConfigFileName), configJSON)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ciab",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ciab version %s\n", version)
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&programFlag, "program", "p", "",
		"Program to run in new Interactive-mode sessions (e.g. 'claude')")
	rootCmd.Flags().StringArrayVarP(&rootFlags, "root", "r", nil,
		"Directory to scan for git repositories (repeatable). Defaults to the parent of the current directory.")

	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
