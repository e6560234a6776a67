// Command dragonscale runs intent trees against the robot-arm demo tools,
// from DSL, natural language or a session script, and serves the engine
// over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dragonscale",
	Short: "DragonScale resolves and executes intent trees",
	Long: `DragonScale turns requests into trees of tool invocations, fills the gaps by
asking the user or a language model, and executes them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file")
	rootCmd.PersistentFlags().String("provider", "scripted", "inference provider: scripted, genkit, genkit-prompts or anthropic")
	rootCmd.PersistentFlags().String("model", "", "model name for the provider")
	rootCmd.PersistentFlags().String("calllog-db", "", "SQLite file for inference call logs (in memory when empty)")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address for the inference cache")
	rootCmd.PersistentFlags().String("cache-file", "", "YAML file for the inference cache when Redis is not used")
	rootCmd.PersistentFlags().Bool("interpret", false, "interpret ASK replies with the model")
	rootCmd.PersistentFlags().Bool("manuals", false, "register the maintenance manuals as a retriever-backed query source")
}

func main() {
	Execute()
}
