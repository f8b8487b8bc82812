// ABOUTME: Minimal fake platform for E2E testing of coven-console over HTTP and SSE.
// ABOUTME: Usage: fake-backend [-addr localhost:8080] [-token t | -jwt-secret s] [-reply-delay 1s] [-handover]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/2389/coven-console/internal/auth"
	"github.com/2389/coven-console/internal/fakebackend"
	"github.com/2389/coven-console/internal/message"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "HTTP listen address")
	token := flag.String("token", "", "Bearer token required on every request (empty disables auth)")
	jwtSecret := flag.String("jwt-secret", "", "Accept HS256 JWTs signed with this secret instead of -token")
	replyDelay := flag.Duration("reply-delay", time.Second, "Delay before the fake agent answers a chat message")
	withHandover := flag.Bool("handover", false, "Follow every agent reply with a handover signal")
	seed := flag.Int("seed", 20, "Number of history messages in the demo thread")
	flag.Parse()

	if err := run(*addr, *token, *jwtSecret, *replyDelay, *withHandover, *seed); err != nil {
		log.Fatal(err)
	}
}

func run(addr, token, jwtSecret string, replyDelay time.Duration, withHandover bool, seed int) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	opts := []fakebackend.Option{
		fakebackend.WithLogger(logger),
		fakebackend.WithAgentReply(replyDelay),
	}
	if token != "" {
		opts = append(opts, fakebackend.WithToken(token))
	}
	if jwtSecret != "" {
		opts = append(opts, fakebackend.WithJWTSecret([]byte(jwtSecret)))
	}
	if withHandover {
		opts = append(opts, fakebackend.WithHandover())
	}
	backend := fakebackend.New(opts...)

	thread := backend.CreateThread("demo-user", "support", "wf-demo")
	backend.Seed(thread.ID, demoHistory(thread, seed)...)
	fmt.Fprintf(os.Stderr, "demo thread %s with %d messages\n", thread.ID, seed)

	if jwtSecret != "" {
		demoToken, err := auth.NewJWTVerifier([]byte(jwtSecret), nil).Generate(thread.ParticipantID, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("generating demo token: %w", err)
		}
		fmt.Fprintf(os.Stderr, "token for %s: %s\n", thread.ParticipantID, demoToken)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "listening on http://%s\n", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Open streams never finish on their own.
	backend.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// demoHistory builds n alternating messages, one minute apart, ending a
// minute ago. Every fifth message is in the "billing" topic.
func demoHistory(thread message.Thread, n int) []message.Message {
	start := time.Now().Add(-time.Duration(n+1) * time.Minute)
	msgs := make([]message.Message, 0, n)
	for i := range n {
		m := message.Message{
			ThreadID:      thread.ID,
			ParticipantID: thread.ParticipantID,
			WorkflowType:  thread.WorkflowType,
			WorkflowID:    thread.WorkflowID,
			Type:          message.TypeChat,
			CreatedAt:     start.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 0 {
			m.Direction = message.DirectionIncoming
			m.Text = fmt.Sprintf("question %d", i/2+1)
		} else {
			m.Direction = message.DirectionOutgoing
			m.Text = fmt.Sprintf("**answer %d**", i/2+1)
		}
		if i%5 == 4 {
			m.Scope = message.StringPtr("billing")
		}
		msgs = append(msgs, m)
	}
	return msgs
}
