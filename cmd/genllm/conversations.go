package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/genllm/conversations"
	"github.com/spf13/cobra"
)

var historyFlags struct {
	jsonOut bool
}

var pruneFlags struct {
	idle time.Duration
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show the turns of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			turns, err := a.client.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if historyFlags.jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(turns)
			}
			if len(turns) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "No turns recorded for %s\n", args[0])
				return nil
			}
			for _, t := range turns {
				fmt.Fprintln(out, formatTurn(t))
			}
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <conversation-id>",
	Short: "Forget a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.client.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Cleared %s\n", args[0])
			return nil
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove conversations idle for longer than --idle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			idle := pruneFlags.idle
			if idle <= 0 {
				idle = a.cfg.Conversations.IdleTTL
			}
			if idle <= 0 {
				return fmt.Errorf("--idle or conversations.idle_ttl is required")
			}
			pruner, ok := a.store.(conversations.Pruner)
			if !ok {
				return fmt.Errorf("conversation backend %q cannot prune", a.cfg.Conversations.Backend)
			}
			removed, err := pruner.Prune(cmd.Context(), idle)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d conversation(s) idle for more than %s\n", removed, idle)
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyFlags.jsonOut, "json", false, "print turns as JSON")
	pruneCmd.Flags().DurationVar(&pruneFlags.idle, "idle", 0, "idle time after which a conversation is removed (default conversations.idle_ttl)")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(pruneCmd)
}

func formatTurn(t conversations.Turn) string {
	who := string(t.Role)
	if t.Provider != "" {
		who = fmt.Sprintf("%s (%s/%s)", who, t.Provider, t.Model)
	}
	return fmt.Sprintf("[%s]\n%s\n", who, t.Content)
}
