// ABOUTME: chat subcommand that follows one thread live and sends messages.
// ABOUTME: Wires the conversation controller, handover refresher, metrics endpoint and stdin loop.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-console/internal/conversation"
	"github.com/2389/coven-console/internal/handover"
	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/metrics"
	"github.com/2389/coven-console/internal/paginate"
	"github.com/2389/coven-console/internal/scope"
)

var chatScope string

// errQuit ends the chat session without reporting an error.
var errQuit = errors.New("quit")

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatScope, "scope", "all", `topic to show: all, none, "" or a topic name`)
}

var chatCmd = &cobra.Command{
	Use:   "chat <thread-id>",
	Short: "Open a thread, follow it live and send messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(getContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	thread, err := findThread(ctx, client, args[0], cfg.Pagination.ListPageSize)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	var ctrl *conversation.Controller
	refresher := handover.NewRefresher(func(ctx context.Context, threadID string) error {
		if th, ok := ctrl.Thread(); !ok || th.ID != threadID {
			recorder.Refresh("stale")
			return nil
		}
		// A handover moves the thread to another workflow; history and
		// the stream stay as they are.
		th, found, err := lookupThread(ctx, client, threadID, cfg.Pagination.ListPageSize)
		if err != nil {
			recorder.Refresh("error")
			return err
		}
		if !found || !ctrl.UpdateThread(th) {
			recorder.Refresh("stale")
			return nil
		}
		recorder.Refresh("ok")
		return nil
	}, cfg.Handover.RefreshInterval, nil, logger)
	defer refresher.Close()

	ctrl = conversation.New(client, conversation.Options{
		Identity: conversation.Identity{
			ParticipantID: cfg.Identity.ParticipantID,
			WorkflowType:  cfg.Identity.WorkflowType,
			WorkflowID:    cfg.Identity.WorkflowID,
		},
		PageSize:         cfg.Pagination.MessagePageSize,
		Heartbeat:        cfg.Stream.HeartbeatInterval,
		OptimisticWindow: cfg.Sync.OptimisticWindow,
		HandoverWindow:   cfg.Handover.RecencyWindow,
		JustSentTTL:      cfg.Sync.JustSentTTL,
		AwaitingAfter:    cfg.Reply.AwaitingAfter,
		ErrorAfter:       cfg.Reply.ErrorAfter,
		OnHandoverDetected: func(threadID string) {
			refresher.Trigger(threadID)
		},
		Logger:  logger,
		Metrics: recorder,
	})
	defer ctrl.Close()

	out := color.Output
	v := newView(out, ctrl.IsJustSent)

	g, gctx := errgroup.WithContext(ctx)

	snapshots := ctrl.Subscribe(gctx)
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case s, ok := <-snapshots:
				if !ok {
					return nil
				}
				v.Render(s)
			case <-ticker.C:
				v.Reply(ctrl.ReplyStatus())
			case <-gctx.Done():
				return nil
			}
		}
	})

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.Handler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := ctrl.SelectThread(gctx, thread); err != nil {
			// The view shows the load error; the stream may still deliver.
			logger.Warn("loading thread failed", "thread_id", thread.ID, "error", err)
		}
		if sel := scope.Parse(chatScope); !sel.IsAll() {
			if err := ctrl.SelectScope(gctx, sel); err != nil {
				logger.Warn("selecting topic failed", "topic", sel.String(), "error", err)
			}
		}

		fmt.Fprintln(out, color.HiBlackString("Type a message and press Enter. /help for commands. Ctrl+C to quit."))
		err := readInput(gctx, os.Stdin, func(line string) error {
			return handleInput(gctx, ctrl, out, line)
		})
		// Ending input ends the session.
		cancel()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	fmt.Fprintln(out, "\nGoodbye!")
	return nil
}

// threadLister is the part of the api client used to find threads.
type threadLister interface {
	ListThreads(ctx context.Context, page, pageSize int) ([]message.Thread, error)
}

// findThread looks the thread up in the thread list so sends carry its
// identity. A thread that is not listed is opened by id alone.
func findThread(ctx context.Context, client threadLister, threadID string, pageSize int) (message.Thread, error) {
	th, found, err := lookupThread(ctx, client, threadID, pageSize)
	if err != nil {
		return message.Thread{}, err
	}
	if !found {
		return message.Thread{ID: threadID}, nil
	}
	return th, nil
}

// lookupThread scans the thread list page by page for threadID.
func lookupThread(ctx context.Context, client threadLister, threadID string, pageSize int) (message.Thread, bool, error) {
	if pageSize <= 0 {
		pageSize = paginate.ListPageSize
	}
	for page := 1; ; page++ {
		threads, err := client.ListThreads(ctx, page, pageSize)
		if err != nil {
			return message.Thread{}, false, fmt.Errorf("list threads: %w", err)
		}
		for _, th := range threads {
			if th.ID == threadID {
				return th, true, nil
			}
		}
		if len(threads) < pageSize {
			return message.Thread{}, false, nil
		}
	}
}

// readInput calls handle for every non-blank line of in until in ends, ctx
// is done or handle returns an error.
func readInput(ctx context.Context, in io.Reader, handle func(line string) error) error {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := handle(line); err != nil {
				return err
			}
		}
	}
}

// chatController is the part of the controller the input loop drives.
type chatController interface {
	LoadMore(ctx context.Context) error
	SelectScope(ctx context.Context, sel scope.Selection) error
	Refresh(ctx context.Context) error
	Send(ctx context.Context, in conversation.SendInput) (string, error)
}

// handleInput runs one line typed by the user. Failures are printed and
// the session continues; only /quit ends it.
func handleInput(ctx context.Context, ctrl chatController, out io.Writer, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/quit", "/exit", "/q":
		return errQuit
	case "/help":
		printHelp(out)
		return nil
	case "/more":
		err = ctrl.LoadMore(ctx)
		if errors.Is(err, paginate.ErrNoMore) {
			fmt.Fprintln(out, color.HiBlackString("· no older messages"))
			return nil
		}
		if errors.Is(err, paginate.ErrInFlight) {
			return nil
		}
	case "/scope", "/topic":
		err = ctrl.SelectScope(ctx, scope.Parse(arg))
	case "/refresh":
		err = ctrl.Refresh(ctx)
	default:
		if strings.HasPrefix(line, "/") && !strings.HasPrefix(line, "//") {
			fmt.Fprintf(out, "unknown command %s, try /help\n", cmd)
			return nil
		}
		// "//text" sends a message that starts with a slash.
		_, err = ctrl.Send(ctx, conversation.SendInput{Text: strings.TrimPrefix(line, "/")})
	}
	if err != nil {
		fmt.Fprintln(out, color.RedString("[error] %v", err))
	}
	return nil
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  /more          Load older messages")
	fmt.Fprintln(out, "  /scope <name>  Show one topic (all, none, \"\" or a name)")
	fmt.Fprintln(out, "  /refresh       Reload the thread and reconnect the stream")
	fmt.Fprintln(out, "  /help          Show this help")
	fmt.Fprintln(out, "  /quit          Exit the console")
	fmt.Fprintln(out, "Anything else is sent to the thread. Start with // to send a leading slash.")
}
