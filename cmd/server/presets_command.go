package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moodremix/api/internal/preset"
)

func presetRows() [][]string {
	var rows [][]string
	for _, name := range preset.Moods() {
		rows = append(rows, []string{"mood", name, preset.Mood(name)})
	}
	for _, name := range preset.Genres() {
		rows = append(rows, []string{"genre", name, preset.Genre(name)})
	}
	return rows
}

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List mood and genre effect presets",
		// presets need no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Kind", "Keyword", "Filter"}, presetRows()))
			return nil
		},
	}
}
