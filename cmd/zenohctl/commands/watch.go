package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// watchCmd streams matching-state transitions for a key expression,
// adapted from cmd/gobfdctl's "monitor" session-event stream: there it
// watched BFD state transitions over a server stream, here it watches
// whether any subscriber/queryable currently matches key, driven by
// session.MatchingListener.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <key-expr>",
		Short: "Stream matching-state transitions for a key expression until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			key := args[0]
			if _, err := sess.MatchingListener(key, func(hasMatch bool) {
				fmt.Printf("%s: has_match=%v\n", key, hasMatch)
			}); err != nil {
				return fmt.Errorf("matching listener %s: %w", key, err)
			}

			fmt.Printf("watching %s, press Ctrl+C to stop\n", key)
			<-ctx.Done()
			return nil
		},
	}
}
