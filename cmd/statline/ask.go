package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"statline/internal/pipeline"
)

func newAskCmd(flags *rootFlags) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the governed store, cross-checked against the live feed",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := buildEngine(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer cleanup()

			if interactive {
				return runREPL(cmd, engine)
			}
			if len(args) == 0 {
				return errors.New("provide a question or use --interactive")
			}
			ans, err := engine.Answer(cmd.Context(), strings.Join(args, " "), nil)
			if err != nil {
				return describeRunError(err)
			}
			printAnswer(cmd, ans)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "multi-turn session with follow-up questions")
	return cmd
}

func runREPL(cmd *cobra.Command, engine *pipeline.Engine) error {
	var history []pipeline.Turn
	sc := bufio.NewScanner(os.Stdin)
	fmt.Fprintln(cmd.OutOrStdout(), `Ask away ("exit" to quit).`)
	for {
		fmt.Fprint(cmd.OutOrStdout(), "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			continue
		}
		if q == "exit" || q == "quit" {
			return nil
		}
		ans, err := engine.Answer(cmd.Context(), q, history)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), describeRunError(err))
			continue
		}
		printAnswer(cmd, ans)
		history = append(history, ans.Turn)
	}
}

func printAnswer(cmd *cobra.Command, ans *pipeline.Answer) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ans.Text)
	if ans.Methodology != "" {
		fmt.Fprintf(out, "\nHow: %s\n", ans.Methodology)
	}
	fmt.Fprintf(out, "Confidence: %.0f%%\n", ans.Confidence*100)
	for _, w := range ans.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
}

// describeRunError turns the pipeline's failure taxonomy into a message a
// terminal user can act on.
func describeRunError(err error) error {
	var rerr *pipeline.RunError
	if !errors.As(err, &rerr) {
		return err
	}
	switch rerr.Kind {
	case pipeline.KindUnanswerable:
		return errors.New("no table in the dataset can answer that question; try rephrasing with specific stats or player names")
	case pipeline.KindTimeout:
		return errors.New("the question timed out; try narrowing it (one season, one player, fewer rows)")
	case pipeline.KindOracle:
		return fmt.Errorf("the language model service is unavailable: %v", rerr.Err)
	default:
		return fmt.Errorf("could not produce a valid query for that question: %v", rerr.Err)
	}
}
