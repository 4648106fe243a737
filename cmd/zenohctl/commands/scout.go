package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenoh-pico-go/zenohpico/internal/session"
)

func scoutCmd() *cobra.Command {
	var (
		locator string
		timeout time.Duration
		what    uint8
	)

	cmd := &cobra.Command{
		Use:   "scout",
		Short: "Discover peers over the scouting multicast group",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			zid, err := randomZID()
			if err != nil {
				return fmt.Errorf("generate zid: %w", err)
			}

			hellos, err := session.Scout(context.Background(), session.ScoutConfig{
				Locator: locator,
				What:    what,
				ZID:     zid,
				Timeout: timeout,
			})
			if err != nil {
				return fmt.Errorf("scout: %w", err)
			}

			if len(hellos) == 0 {
				fmt.Println("no peers discovered")
				return nil
			}
			for _, h := range hellos {
				fmt.Printf("%s  whatami=%d  locators=%v\n", h.ZID.String(), h.WhatAmI, h.Locators)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&locator, "locator", "udp/224.0.0.224:7446", "scouting multicast locator")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Second, "scouting budget")
	cmd.Flags().Uint8Var(&what, "what", 4, "bitmask of roles to scout for (router=1, peer=2, client=4)")

	return cmd
}
