package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/paperdeck/internal/config"
	"github.com/zulandar/paperdeck/internal/conversation"
	"github.com/zulandar/paperdeck/internal/engine"
	"github.com/zulandar/paperdeck/internal/workflow"
	"golang.org/x/term"
)

type generateOpts struct {
	outputType string
	style      string
	length     string
	density    string
	content    string
	title      string
	message    string
}

func newGenerateCmd() *cobra.Command {
	var (
		configPath string
		opts       generateOpts
	)

	cmd := &cobra.Command{
		Use:   "generate <file>...",
		Short: "Generate slides or a poster from documents",
		Long: `Uploads the given documents, starts a generation and follows its
progress stage by stage. Press Ctrl+C once to ask for cancellation and a
second time to confirm; press Enter to dismiss a pending cancellation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, configPath, args, opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Paperdeck config file")
	cmd.Flags().StringVarP(&opts.outputType, "type", "t", "", "output type: slides or poster (default from config)")
	cmd.Flags().StringVar(&opts.style, "style", "", "presentation style")
	cmd.Flags().StringVar(&opts.length, "length", "", "slide deck length: short, medium or long")
	cmd.Flags().StringVar(&opts.density, "density", "", "poster density: sparse, medium or dense")
	cmd.Flags().StringVar(&opts.content, "content", "", "content kind: paper or general")
	cmd.Flags().StringVar(&opts.title, "title", "", "session title")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "note recorded with the request")
	return cmd
}

// generationOverrides merges the flags over the configured defaults and
// validates the result.
func generationOverrides(cfg *config.Config, opts generateOpts) (*conversation.GenerationConfig, error) {
	g := config.GenerationConfig{
		OutputType: orString(opts.outputType, cfg.Generation.OutputType),
		Style:      orString(opts.style, cfg.Generation.Style),
		Length:     orString(opts.length, cfg.Generation.Length),
		Density:    orString(opts.density, cfg.Generation.Density),
		Content:    orString(opts.content, cfg.Generation.Content),
	}
	if err := config.ValidateGeneration(g); err != nil {
		return nil, err
	}
	return &conversation.GenerationConfig{
		OutputType: workflow.OutputType(g.OutputType),
		Style:      g.Style,
		Content:    g.Content,
		Length:     g.Length,
		Density:    g.Density,
	}, nil
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

type sendResult struct {
	out engine.Outcome
	err error
}

func runGenerate(cmd *cobra.Command, configPath string, paths []string, opts generateOpts) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	gen, err := generationOverrides(cfg, opts)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	a, err := newApp(cfg, appOpts{})
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	ctx, cancel := context.WithCancel(cmdContext(cmd))
	defer cancel()

	if err := a.poller.Init(ctx); err != nil && cfg.AuthRequired() {
		return fmt.Errorf("generate: check login: %w", err)
	}
	if cfg.AuthRequired() && !a.poller.Session().Authenticated {
		return fmt.Errorf("generate: not logged in, run 'pd auth login' first")
	}

	e := a.engine
	conv, err := e.NewConversation(ctx, opts.title)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	e.SetViewing(conv.ID)

	updates, unsubscribe := e.Tracker().Subscribe(32)
	defer unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var enter <-chan struct{}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		enter = readLines(os.Stdin)
	}

	done := make(chan sendResult, 1)
	go func() {
		res, err := e.Send(ctx, engine.SendRequest{
			ConversationID: conv.ID,
			Text:           opts.message,
			Paths:          paths,
			Config:         gen,
		})
		done <- sendResult{res, err}
	}()

	p := &progressPrinter{w: out, conv: conv.ID, active: workflow.NoActive}
	confirmed := make(chan error, 1)
	var res sendResult
loop:
	for {
		select {
		case u := <-updates:
			p.print(u)
		case <-sigCh:
			switch e.CancelState(conv.ID) {
			case workflow.Idle:
				if _, ok := e.Tracker().Active(conv.ID); !ok {
					// Nothing submitted yet; stop the uploads.
					fmt.Fprintln(out, "\nStopping...")
					cancel()
					continue
				}
				if e.RequestCancel(conv.ID) {
					fmt.Fprintln(out, "\nCancel this generation? Press Ctrl+C again to confirm or Enter to keep going.")
				}
			case workflow.ConfirmPending:
				fmt.Fprintln(out, "Cancelling...")
				go func() { confirmed <- e.ConfirmCancel(cmdContext(cmd), conv.ID) }()
			case workflow.Cancelling:
				fmt.Fprintln(out, "Stopping without waiting for the pipeline.")
				cancel()
			}
		case <-enter:
			if e.Dismiss(conv.ID) {
				fmt.Fprintln(out, "Continuing.")
			}
		case err := <-confirmed:
			switch {
			case errors.Is(err, workflow.ErrCancelTimeout):
				fmt.Fprintln(out, "The pipeline did not acknowledge the cancellation; stopped following it.")
			case err != nil:
				fmt.Fprintf(out, "Cancel failed: %v\n", err)
			}
		case res = <-done:
			break loop
		}
	}

	// Flush progress published before the round closed.
	for {
		select {
		case u := <-updates:
			p.print(u)
			continue
		default:
		}
		break
	}

	errOut := cmd.ErrOrStderr()
	for _, r := range res.out.Rejected {
		fmt.Fprintf(errOut, "Skipped %s: %s\n", r.Path, r.Reason)
	}
	if res.err != nil && res.out.Assistant.Content == "" {
		return fmt.Errorf("generate: %w", res.err)
	}
	return report(out, conv.ID, res)
}

// report prints the assistant reply of the round.
func report(w io.Writer, convID string, res sendResult) error {
	msg := res.out.Assistant
	if msg.IsError {
		return fmt.Errorf("generate: %s", msg.Content)
	}
	fmt.Fprintln(w, msg.Content)
	a := msg.Artifacts
	for _, l := range []struct{ label, url string }{
		{"PPTX", a.PPTX},
		{"PPT", a.PPT},
		{"Poster", a.Poster},
	} {
		if l.url != "" {
			fmt.Fprintf(w, "  %-7s %s\n", l.label+":", l.url)
		}
	}
	fmt.Fprintf(w, "Session: %s\n", convID)
	return res.err
}

// progressPrinter writes one line per stage transition of a conversation.
type progressPrinter struct {
	w      io.Writer
	conv   string
	active int
}

func (p *progressPrinter) print(u workflow.Update) {
	if u.ConversationID != p.conv || u.View == nil {
		return
	}
	v := u.View
	if v.Active == p.active || v.Active < 0 || v.Active >= len(v.Stages) {
		return
	}
	p.active = v.Active
	s := v.Stages[v.Active]
	if s.Description == "" {
		fmt.Fprintf(p.w, "[%d/%d] %s\n", v.Active+1, len(v.Stages), s.Name)
		return
	}
	fmt.Fprintf(p.w, "[%d/%d] %s: %s\n", v.Active+1, len(v.Stages), s.Name, s.Description)
}

// readLines signals once per line read from r. Lines arriving while a
// signal is still unread are dropped, so the reader never blocks on a
// caller that has stopped listening.
func readLines(r io.Reader) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch
}
