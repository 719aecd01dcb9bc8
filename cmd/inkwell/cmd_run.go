package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"inkwell/internal/prompt"
	"inkwell/internal/run"
	"inkwell/internal/telemetry"
)

var (
	runText        string
	runInstruction string
	runStyleGuide  string
	runContext     string
	runRefs        []string
	runMemory      []string
	runMaxTokens   int
	runTemp        float64
	runRender      bool
)

var runCmd = &cobra.Command{
	Use:   "run <skill>",
	Short: "Run a writing skill and stream the result",
	Long: `Runs a skill (rewrite, continue, summarize, tone, or a user-defined
skill) against the remote provider and streams deltas to stdout.
Ctrl-C cancels the run.`,
	Args: cobra.ExactArgs(1),
	RunE: runSkill,
}

func init() {
	runCmd.Flags().StringVarP(&runText, "text", "t", "", "text the skill operates on (required)")
	runCmd.Flags().StringVarP(&runInstruction, "instruction", "i", "", "skill instruction (e.g. target tone)")
	runCmd.Flags().StringVar(&runStyleGuide, "style-guide", "", "house style guide injected into the system prompt")
	runCmd.Flags().StringVar(&runContext, "context", "", "surrounding document context")
	runCmd.Flags().StringArrayVar(&runRefs, "ref", nil, "project-relative reference file (repeatable)")
	runCmd.Flags().StringArrayVar(&runMemory, "memory", nil, "memory snippet, in relevance order (repeatable)")
	runCmd.Flags().IntVar(&runMaxTokens, "max-tokens", 0, "generation token cap (0 = provider default)")
	runCmd.Flags().Float64Var(&runTemp, "temperature", 0, "sampling temperature (0 = provider default)")
	runCmd.Flags().BoolVar(&runRender, "render", false, "render the final output as markdown")
	runCmd.MarkFlagRequired("text")
}

func runSkill(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	backend, err := buildRemoteTransport(cmd.Context(), settings)
	if err != nil {
		return err
	}

	registry := run.NewRegistry(loadSkills(), backend, telemetry.NewZapCollector(logger))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	res, err := registry.Start(ctx, run.Request{
		SkillID: args[0],
		Input: prompt.Input{
			"text":        runText,
			"instruction": runInstruction,
			"styleGuide":  runStyleGuide,
			"context":     runContext,
		},
		Memory:      runMemory,
		Refs:        runRefs,
		MaxTokens:   runMaxTokens,
		Temperature: runTemp,
	})
	if err != nil {
		return err
	}

	// First Ctrl-C cancels the run; the cancelled event ends the stream.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			registry.Cancel(res.RunID)
		case <-ctx.Done():
		}
	}()

	for ev := range res.Events {
		switch ev.Kind {
		case run.KindDelta:
			fmt.Print(ev.Delta)
		case run.KindDone:
			fmt.Println()
			if runRender {
				rendered, rerr := glamour.Render(ev.Result.Text, "auto")
				if rerr == nil {
					fmt.Print(rendered)
				}
			}
		case run.KindError:
			fmt.Println()
			return ev.Err
		case run.KindCancelled:
			fmt.Fprintln(os.Stderr, "\nrun cancelled")
		}
	}
	return nil
}
