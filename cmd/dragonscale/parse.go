package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

var parseCmd = &cobra.Command{
	Use:   "parse TEXT",
	Short: "Parse DSL text and print the tree",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := dsl.Parse(strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, dsl.Pretty(tree))
		fmt.Fprintf(out, "placeholders: %d\n", len(dsl.Placeholders(tree)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
