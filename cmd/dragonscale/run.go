package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/dragonscale-intents"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/channel"
	"github.com/ZanzyTHEbar/dragonscale-intents/internal/script"
	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
	"github.com/ZanzyTHEbar/dragonscale-intents/pkg/dsl"
)

var runCmd = &cobra.Command{
	Use:   "run [PROMPT]",
	Short: "Run one request against the robot-arm demo",
	Long: `Runs a natural-language request, a DSL tree (--dsl) or a session script
(--script). Questions are asked on the terminal unless a script answers them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("dsl")
		scriptPath, _ := cmd.Flags().GetString("script")
		showCalls, _ := cmd.Flags().GetBool("show-calls")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRequest(ctx, cmd.OutOrStdout(), cmd.InOrStdin(), optionsFrom(cmd), runInput{
			prompt:    strings.Join(args, " "),
			dsl:       text,
			script:    scriptPath,
			showCalls: showCalls,
		})
	},
}

type runInput struct {
	prompt    string
	dsl       string
	script    string
	showCalls bool
}

func runRequest(ctx context.Context, out io.Writer, in io.Reader, o options, input runInput) error {
	var (
		req      dragonscale.Request
		ch       ds.Channel
		scripted ds.InferenceAdapter
		file     *script.File
	)
	switch {
	case input.script != "":
		var err error
		if file, err = script.Load(input.script); err != nil {
			return err
		}
		req = dragonscale.Request{Prompt: file.Prompt, DSL: file.DSL}
		ch = file.Channel()
		scripted = file.Adapter()
		o.interpret = o.interpret || file.Interpret
		fmt.Fprintf(out, "Script: %s\n", file.Name)
	case input.dsl != "":
		req = dragonscale.Request{DSL: input.dsl}
	case input.prompt != "":
		req = dragonscale.Request{Prompt: input.prompt}
	default:
		return fmt.Errorf("nothing to run: pass a prompt, --dsl or --script")
	}
	if ch == nil {
		ch = channel.NewTerminal(in, out)
	}

	rt, err := buildRuntime(ctx, o, ch, scripted)
	if err != nil {
		return err
	}
	defer rt.Close()

	session, err := rt.engine.NewSession()
	if err != nil {
		return err
	}
	report, runErr := session.Do(ctx, req)
	if report == nil {
		return runErr
	}
	printReport(out, report)
	if input.showCalls {
		if err := printCalls(ctx, out, rt, session.ID()); err != nil {
			return err
		}
	}
	if len(rt.arm.Actions()) > 0 {
		fmt.Fprintf(out, "Actions: %s\n", strings.Join(rt.arm.Actions(), ", "))
	}

	if file != nil && file.Expect != nil {
		if err := file.Verify(string(report.Status), report.Results); err != nil {
			return err
		}
		fmt.Fprintln(out, "Expectations met")
		return nil
	}
	return runErr
}

func printReport(out io.Writer, r *dragonscale.Report) {
	fmt.Fprintf(out, "Status: %s\n", r)
	if r.Tree != nil {
		fmt.Fprintf(out, "Tree:\n%s\n", dsl.Pretty(r.Tree))
	}
	for _, a := range r.Answers {
		fmt.Fprintf(out, "Answer: %s\n", a)
	}
	for i, res := range r.Results {
		if res == nil {
			continue
		}
		fmt.Fprintf(out, "Result %d: %v\n", i+1, res)
	}
}

func printCalls(ctx context.Context, out io.Writer, rt *runtime, sessionID string) error {
	calls, err := rt.calls.List(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, c := range calls {
		fmt.Fprintf(out, "Call %s (%s, %v): %s\n", c.Kind, c.Description, c.Duration, strings.TrimSpace(c.Answer))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("dsl", "", "DSL tree to run")
	runCmd.Flags().String("script", "", "session script (YAML)")
	runCmd.Flags().Bool("show-calls", false, "print the inference calls of the run")
}
