package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenoh-pico-go/zenohpico/internal/session"
)

func getCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "get <key-expr>",
		Short: "Query a key expression and print every reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			sess, err := openSession(context.Background())
			if err != nil {
				return err
			}
			defer sess.Close()

			done := make(chan struct{})
			count := 0
			err = sess.Get(args[0], func(sample session.Sample, ok bool) {
				if !ok {
					close(done)
					return
				}
				count++
				printSample(sample)
			}, session.WithGetTimeout(timeout))
			if err != nil {
				return fmt.Errorf("get %s: %w", args[0], err)
			}

			<-done
			fmt.Printf("(%d replies)\n", count)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2500*time.Millisecond, "how long to wait for replies")
	return cmd
}

// printSample renders a reply sample per --format.
func printSample(sample session.Sample) {
	if outputFormat == "json" {
		b, err := json.Marshal(struct {
			Key     string `json:"key"`
			Payload string `json:"payload"`
		}{Key: sample.Key, Payload: string(sample.Payload)})
		if err != nil {
			fmt.Printf("%s: %s\n", sample.Key, sample.Payload)
			return
		}
		fmt.Println(string(b))
		return
	}
	fmt.Printf("%s: %s\n", sample.Key, sample.Payload)
}
