package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/spigell/autoapply/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or change the persisted run",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store state.Store) error {
			st, err := store.Load(ctx)
			if err != nil {
				return err
			}

			asYAML, _ := cmd.Flags().GetBool("yaml")
			if asYAML {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(st)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		})
	},
}

var stateStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a run in another process to stop after its current job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store state.Store) error {
			st, err := store.Load(ctx)
			if err != nil {
				return err
			}
			if !st.IsRunning {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s is not running (%s)\n", st.RunID, st.Status)
				return nil
			}

			st.IsRunning = false
			if err := store.Save(ctx, st); err != nil {
				return fmt.Errorf("saving stop request: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stop requested for run %s\n", st.RunID)
			return nil
		})
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the persisted run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store state.Store) error {
			return store.Delete(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd, stateStopCmd, stateResetCmd)

	stateShowCmd.Flags().Bool("yaml", false, "print as yaml instead of json")
}

func withStore(ctx context.Context, fn func(ctx context.Context, store state.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := StateConfig{
		Driver: viper.GetString("state.driver"),
		Path:   viper.GetString("state.path"),
	}
	if cfg.Driver == "memory" {
		return errors.New("the memory state driver is not shared between processes")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	err = fn(ctx, store)
	if errors.Is(err, state.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "no run stored at", cfg.Path)
		return nil
	}
	return err
}
