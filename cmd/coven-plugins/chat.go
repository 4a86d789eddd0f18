// ABOUTME: Conversation subcommands: context, complete, run and the interactive chat loop
// ABOUTME: Slot values for commands are prompted on stdin; an empty read cancels the command

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-plugins/internal/assembler"
	"github.com/2389/coven-plugins/internal/dispatch"
	"github.com/2389/coven-plugins/internal/gateway"
	"github.com/2389/coven-plugins/internal/plugin"
)

// cancelWord abandons a command while its inputs are being collected.
const cancelWord = "/cancel"

func newContextCommand(flags *globalFlags) *cobra.Command {
	var budget int
	cmd := &cobra.Command{
		Use:   "context [hint...]",
		Short: "Print the system context enabled plugins contribute",
		Long: `Assemble and print the system context for a conversational turn. The
optional hint ranks skills by relevance the way a user message would.`,
		Example: `  coven-plugins context "please triage this NDA"
  coven-plugins context --budget 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if budget > 0 {
				cfg.Context.TokenBudget = budget
			}
			gw, err := startGateway(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			assembled := gw.Turn(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, assembled.Text)
			printContextSummary(out, assembled, cfg.Context.TokenBudget)
			return nil
		},
	}
	cmd.Flags().IntVarP(&budget, "budget", "b", 0, "token budget (defaults to context.token_budget)")
	return cmd
}

func printContextSummary(w io.Writer, ctx *assembler.AssembledContext, budget int) {
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(w, "\n~%d/%d tokens", ctx.EstimatedTokens, budget)
	if len(ctx.IncludedPluginIDs) > 0 {
		gray.Fprintf(w, " from %s", strings.Join(ctx.IncludedPluginIDs, ", "))
	}
	fmt.Fprintln(w)
	if ctx.Truncated {
		color.New(color.FgYellow).Fprintln(w, "context was truncated to fit the budget")
	}
	for _, d := range ctx.Degradations {
		color.New(color.FgYellow).Fprintf(w, "degraded: %s (%s)\n", d.Key(), d.Status)
	}
}

func newCompleteCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <prefix>",
		Short: "Suggest slash commands matching a prefix",
		Example: `  coven-plugins complete /legal:
  coven-plugins complete /nda`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			prefix := dispatch.Prefix
			if len(args) == 1 {
				prefix = args[0]
			}
			printSuggestions(cmd.OutOrStdout(), gw.Autocomplete(prefix))
			return nil
		},
	}
}

func printSuggestions(w io.Writer, groups []dispatch.Group) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No matching commands.")
		return
	}
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, g := range groups {
		color.New(color.Bold).Fprintf(w, "%s\n", g.PluginName)
		for _, s := range g.Suggestions {
			cyan.Fprintf(w, "  %s", s.Invocation)
			if s.ArgumentHint != "" {
				gray.Fprintf(w, " %s", s.ArgumentHint)
			}
			if s.Description != "" {
				fmt.Fprintf(w, "  %s", s.Description)
			}
			fmt.Fprintln(w)
		}
	}
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var showContext bool
	cmd := &cobra.Command{
		Use:   "run <slash-command> [args...]",
		Short: "Run one slash command",
		Example: `  coven-plugins run /legal:triage-nda "$(cat nda.txt)"
  coven-plugins run /legal:review-contract --show-context`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, cfg, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			input := strings.Join(args, " ")
			provider := promptProvider(bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr())
			inv, resp, err := gw.RunCommand(cmd.Context(), input, provider)
			if showContext && inv != nil && inv.Payload != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), inv.Payload.SystemContext)
				printContextSummary(cmd.ErrOrStderr(), inv.Payload.Context, cfg.Context.TokenBudget)
			}
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showContext, "show-context", false, "print the assembled system context to stderr")
	return cmd
}

// promptProvider asks for each pending slot on out and reads answers from reader.
func promptProvider(reader *bufio.Reader, out io.Writer) dispatch.InputProvider {
	return dispatch.InputProviderFunc(func(ctx context.Context, req dispatch.InputRequest) (map[string]string, error) {
		values := make(map[string]string, len(req.Slots))
		for i, slot := range req.Slots {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			label := slot.Name
			if slot.Description != "" {
				label += " (" + slot.Description + ")"
			}
			if !slot.Required {
				label += color.HiBlackString(" [optional]")
			}
			fmt.Fprintf(out, "%s: ", label)

			line, err := reader.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				fmt.Fprintln(out)
				// Input ran out: finish if only optional slots remain.
				if errors.Is(err, io.EOF) && !anyRequired(req.Slots[i:]) {
					return values, nil
				}
				return nil, dispatch.ErrCancelled
			}
			line = strings.TrimSpace(line)
			if line == cancelWord {
				return nil, dispatch.ErrCancelled
			}
			values[slot.Name] = line
		}
		return values, nil
	})
}

func anyRequired(slots []plugin.InputSlot) bool {
	for _, s := range slots {
		if s.Required {
			return true
		}
	}
	return false
}

func printResponse(w io.Writer, resp *dispatch.Response) {
	if resp == nil {
		return
	}
	fmt.Fprintln(w, resp.Text)
	color.New(color.FgHiBlack).Fprintf(w, "\n[%s, %d in / %d out tokens]\n", resp.Model, resp.InputTokens, resp.OutputTokens)
}

func newChatCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with plugin context and slash commands",
		Long: `Start an interactive session. Plain messages are sent with the assembled
system context; /plugin:command lines run commands.

Session commands:
  /complete [prefix]  list matching slash commands
  /context [hint]     show the current system context
  /quit               leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, cfg, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			// Keep the plugins watcher live while chatting; it must stop before Close.
			stop := serveInBackground(cmd.Context(), gw)
			loopErr := chatLoop(cmd.Context(), gw, cmd.InOrStdin(), cmd.OutOrStdout(), cfg.Context.TokenBudget)
			return errors.Join(loopErr, stop())
		},
	}
}

type runner interface {
	Run(ctx context.Context) error
}

// serveInBackground calls r.Run until the returned stop is called. stop
// cancels Run and waits for it to return.
func serveInBackground(ctx context.Context, r runner) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var runErr error
	wg.Go(func() { runErr = r.Run(ctx) })

	return func() error {
		cancel()
		wg.Wait()
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	}
}

func chatLoop(ctx context.Context, gw *gateway.Gateway, in io.Reader, out io.Writer, budget int) error {
	reader := bufio.NewReader(in)
	prompt := color.New(color.FgGreen, color.Bold)

	for {
		prompt.Fprint(out, "› ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintln(out)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/complete" || strings.HasPrefix(line, "/complete "):
			prefix := strings.TrimSpace(strings.TrimPrefix(line, "/complete"))
			if prefix == "" {
				prefix = dispatch.Prefix
			}
			printSuggestions(out, gw.Autocomplete(prefix))
			continue
		case line == "/context" || strings.HasPrefix(line, "/context "):
			assembled := gw.Turn(strings.TrimSpace(strings.TrimPrefix(line, "/context")))
			fmt.Fprintln(out, assembled.Text)
			printContextSummary(out, assembled, budget)
			continue
		}

		resp, err := gw.Chat(ctx, line, promptProvider(reader, out))
		switch {
		case errors.Is(err, dispatch.ErrCancelled), errors.Is(err, context.Canceled):
			color.New(color.FgYellow).Fprintln(out, "cancelled")
		case err != nil:
			color.New(color.FgRed).Fprintf(out, "%v\n", err)
		default:
			printResponse(out, resp)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
