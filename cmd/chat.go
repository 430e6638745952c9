package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"rhythm/chat"
	"rhythm/config"
	apperrors "rhythm/errors"
	"rhythm/toolcall"
)

var (
	chatNew     bool
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant about your listening history",
	Long: `Start an interactive conversation, continuing the last one by default.

With a message argument a single turn is run and the command exits.

Commands inside the conversation:
  /new     start a new conversation
  /exit    quit (Ctrl-D works too)

Ctrl-C cancels the turn in progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		dataset, err := chat.LoadDataset(config.ExpandPath(a.cfg.Chat.StreamsFile))
		if err != nil {
			return err
		}
		if dataset.Len() == 0 {
			a.log.Warnw("no streaming history loaded; set chat.streams_file in config.toml")
		}

		conv, err := chat.New(chat.Options{
			Config:  a.cfg,
			Gateway: a.gateway(),
			Store:   a.store,
			Dataset: dataset,
			Logger:  a.log,
		})
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		switch {
		case chatSession != "":
			err = conv.LoadSession(ctx, chatSession)
		case chatNew:
			_, err = conv.NewSession(ctx)
		default:
			_, err = conv.Resume(ctx)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(args) > 0 {
			return runTurn(ctx, conv, strings.Join(args, " "), out)
		}
		return repl(ctx, conv, cmd.InOrStdin(), out)
	},
}

func init() {
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Start a new conversation instead of resuming")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Resume the conversation with this id")
	rootCmd.AddCommand(chatCmd)
}

func repl(ctx context.Context, conv *chat.Conversation, in io.Reader, out io.Writer) error {
	pc := conv.ProviderConfig()
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%s · %s · %d plays loaded · session %s",
		config.ProviderDisplayName(pc.Provider), pc.Model, conv.Dataset().Len(), conv.Sessions().CurrentID())))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, userStyle.Render("you› "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			id, err := conv.NewSession(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, dimStyle.Render("started session "+id))
			continue
		}

		if err := runTurn(ctx, conv, line, out); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runTurn sends one message. Ctrl-C cancels only this turn. Provider and
// tool failures are printed; only failures outside a turn are returned.
func runTurn(parent context.Context, conv *chat.Conversation, text string, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	var streamed strings.Builder
	onDelta := func(delta string) {
		if streamed.Len() == 0 {
			fmt.Fprint(out, assistantStyle.Render("rhythm› "))
		}
		streamed.WriteString(delta)
		fmt.Fprint(out, delta)
	}
	onProgress := func(ev toolcall.Event) {
		if line := describeEvent(ev); line != "" {
			if streamed.Len() > 0 {
				fmt.Fprintln(out)
				streamed.Reset()
			}
			fmt.Fprintln(out, dimStyle.Render(line))
		}
	}

	res, err := conv.Send(ctx, text, onDelta, onProgress)
	if streamed.Len() > 0 {
		fmt.Fprintln(out)
	}

	switch {
	case err != nil && apperrors.KindOf(err) == apperrors.KindCancelled, errors.Is(err, context.Canceled):
		fmt.Fprintln(out, dimStyle.Render("cancelled"))
	case err != nil:
		fmt.Fprintln(out, errorStyle.Render(apperrors.FormatUserMessage(err)))
	case res.EarlyReturn != nil:
		printEarlyReturn(out, res.EarlyReturn)
	case res.ResponseMessage != nil && res.ResponseMessage.Content != streamed.String():
		fmt.Fprintln(out, assistantStyle.Render("rhythm› ")+res.ResponseMessage.Content)
	}
	return nil
}

func describeEvent(ev toolcall.Event) string {
	switch ev.Type {
	case toolcall.EventToolStart:
		return "  ⚙ " + ev.Tool
	case toolcall.EventToolEnd:
		if ev.Error {
			return "  ✗ " + ev.Tool + " failed"
		}
		return "  ✓ " + ev.Tool
	case toolcall.EventCircuitBreakerTrip:
		return "  ⚠ " + ev.Reason
	case chat.EventStreamRetry:
		return "  ↻ " + ev.Reason
	}
	return ""
}

func printEarlyReturn(out io.Writer, er *toolcall.EarlyReturn) {
	style := errorStyle
	if er.Status == toolcall.StatusPartialSuccess || er.Status == toolcall.StatusPremiumRequired {
		style = warningStyle
	}
	fmt.Fprintln(out, style.Render(er.Content))
	if len(er.PremiumFeatures) > 0 {
		fmt.Fprintln(out, dimStyle.Render("requires: "+strings.Join(er.PremiumFeatures, ", ")))
	}
	if er.Err != nil {
		if s := er.Err.Suggestion(); s != "" {
			fmt.Fprintln(out, dimStyle.Render(s))
		}
	}
}
