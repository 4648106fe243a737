// zenohctl is a CLI client that opens short-lived zenoh-pico sessions to
// put, get, subscribe, serve queries, and scout for peers.
package main

import "github.com/zenoh-pico-go/zenohpico/cmd/zenohctl/commands"

func main() {
	commands.Execute()
}
