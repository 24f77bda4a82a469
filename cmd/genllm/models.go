package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var modelsFlags struct {
	provider string
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models a provider exposes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			adapter, _, err := a.adapter(modelsFlags.provider, "")
			if err != nil {
				return err
			}
			models, err := adapter.ListModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list %s models: %w", adapter.Provider(), err)
			}
			sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			}
			return nil
		})
	},
}

func init() {
	modelsCmd.Flags().StringVarP(&modelsFlags.provider, "provider", "p", "", "provider name (default from config)")
	rootCmd.AddCommand(modelsCmd)
}
