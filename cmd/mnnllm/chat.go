package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mnnllm/internal/catalog"
	"github.com/samcharles93/mnnllm/internal/logger"
	"github.com/samcharles93/mnnllm/internal/mnn"
)

type chatOptions struct {
	prompt     string
	streamMode StreamMode
	rawOutput  bool
	showStats  bool
}

func chatCmd() *cli.Command {
	var (
		prompt     string
		streamMode string
		rawOutput  bool
		showStats  bool
	)

	return &cli.Command{
		Name:    "chat",
		Aliases: []string{"run"},
		Usage:   "Load a model and chat with it",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "ask a single question and exit",
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "stream-mode",
				Usage:       "output mode (instant, sentence, quiet)",
				Value:       string(StreamInstant),
				Destination: &streamMode,
			},
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "escape control characters in the reply",
				Destination: &rawOutput,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "print token count and duration after each reply",
				Destination: &showStats,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyChatConfig(cmd, configFromContext(ctx), &streamMode)
			mode, err := parseStreamMode(streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			mod, err := openModule(backendName)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			h := mnn.New(mod, mnn.WithLogger(logger.FromContext(ctx)))
			defer func() { _ = h.Close() }()

			return runChat(ctx, h, catalog.New(catalog.Config{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
			}), chatOptions{
				prompt:     prompt,
				streamMode: mode,
				rawOutput:  rawOutput,
				showStats:  showStats,
			}, os.Stdout, os.Stderr)
		},
	}
}

func runChat(ctx context.Context, h *mnn.Handle, cat *catalog.Catalog, opts chatOptions, stdout, stderr io.Writer) error {
	log := logger.FromContext(ctx)

	path, err := cat.Resolve("")
	if err != nil {
		return fmt.Errorf("resolve model: %w", err)
	}
	if err := loadWithProgress(ctx, h, path, stderr); err != nil {
		return err
	}
	log.Info("model ready", "path", path)

	if strings.TrimSpace(opts.prompt) != "" {
		return ask(ctx, h, opts.prompt, opts, stdout, stderr)
	}

	_, _ = fmt.Fprintln(stderr, "Type /exit to quit.")
	for {
		line, err := readInteractiveLine("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := ask(ctx, h, line, opts, stdout, stderr); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				_, _ = fmt.Fprintln(stderr, "[interrupted]")
				continue
			}
			if errors.Is(err, mnn.ErrEmptyReply) {
				log.Warn("model returned no reply")
				continue
			}
			return err
		}
	}
}

// loadWithProgress loads path in the background and prints a dot to stderr
// every half second until it finishes.
func loadWithProgress(ctx context.Context, h *mnn.Handle, path string, stderr io.Writer) error {
	done := make(chan error, 1)
	h.LoadAsync(ctx, path, func(err error) { done <- err })

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	dots := false
	for {
		select {
		case err := <-done:
			if dots {
				_, _ = fmt.Fprintln(stderr)
			}
			return err
		case <-ticker.C:
			if !dots {
				_, _ = fmt.Fprintf(stderr, "loading %s ", path)
				dots = true
			}
			_, _ = fmt.Fprint(stderr, ".")
		}
	}
}

// ask runs one turn. Ctrl+C during generation interrupts the reply without
// leaving the session.
func ask(ctx context.Context, h *mnn.Handle, question string, opts chatOptions, stdout, stderr io.Writer) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	out := NewStreamWriter(stdout, opts.streamMode, opts.rawOutput)
	var chatOpts []mnn.ChatOption
	if opts.streamMode == StreamSentence {
		chatOpts = append(chatOpts, mnn.WithSentences(out.Sentence))
	}
	res, err := h.Chat(turnCtx, question, out.Token, chatOpts...)
	if err != nil {
		out.Finish("")
		return err
	}
	out.Finish(res.Text)
	if opts.showStats {
		tps := 0.0
		if secs := res.Duration.Seconds(); secs > 0 {
			tps = float64(res.Tokens) / secs
		}
		_, _ = fmt.Fprintf(stderr, "[%d tokens, %s, %.1f tok/s]\n", res.Tokens, res.Duration.Round(time.Millisecond), tps)
	}
	return nil
}
