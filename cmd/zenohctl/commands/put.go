package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func putCmd() *cobra.Command {
	var asDelete bool

	cmd := &cobra.Command{
		Use:   "put <key-expr> [payload]",
		Short: "Publish a PUT (or, with --delete, a DELETE) sample on a key expression",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := openSession(context.Background())
			if err != nil {
				return err
			}
			defer sess.Close()

			key := args[0]
			if asDelete {
				if err := sess.Delete(key); err != nil {
					return fmt.Errorf("delete %s: %w", key, err)
				}
				fmt.Printf("delete %s\n", key)
				return nil
			}

			var payload []byte
			if len(args) == 2 {
				payload = []byte(args[1])
			}
			if err := sess.Put(key, payload); err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
			fmt.Printf("put %s (%d bytes)\n", key, len(payload))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asDelete, "delete", false, "publish a DELETE instead of a PUT")
	return cmd
}
