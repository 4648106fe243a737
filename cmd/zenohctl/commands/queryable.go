package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zenoh-pico-go/zenohpico/internal/session"
)

func queryableCmd() *cobra.Command {
	var complete bool
	var reply string

	cmd := &cobra.Command{
		Use:   "queryable <key-expr>",
		Short: "Serve queries on a key expression until interrupted",
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
			if _, err := sess.DeclareQueryable(key, complete, func(q session.Query) {
				fmt.Printf("query %s\n", q.Key)
				if q.Reply != nil {
					q.Reply(session.Sample{Key: q.Key, Payload: []byte(reply)})
				}
				if q.Finish != nil {
					q.Finish()
				}
			}); err != nil {
				return fmt.Errorf("declare queryable %s: %w", key, err)
			}

			fmt.Printf("serving queries on %s, press Ctrl+C to stop\n", key)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&complete, "complete", false, "advertise this queryable as a complete data source")
	cmd.Flags().StringVar(&reply, "reply", "", "payload to send in reply to every query")
	return cmd
}
