package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zenoh-pico-go/zenohpico/internal/session"
	"github.com/zenoh-pico-go/zenohpico/internal/wire"
)

func subCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sub <key-expr>",
		Short: "Subscribe to a key expression and print samples until interrupted",
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
			if _, err := sess.DeclareSubscriber(key, func(s session.Sample) {
				fmt.Printf("[%s] %s: %s\n", kindName(s.Kind), s.Key, s.Payload)
			}); err != nil {
				return fmt.Errorf("declare subscriber %s: %w", key, err)
			}

			fmt.Printf("subscribed to %s, press Ctrl+C to stop\n", key)
			<-ctx.Done()
			return nil
		},
	}
}

// kindName renders a wire.SampleKind for CLI output.
func kindName(k wire.SampleKind) string {
	if k == wire.SampleKindDelete {
		return "DELETE"
	}
	return "PUT"
}
