// Command chatrelay runs the forwarding engine: `chatrelay serve` starts
// the Control API and worker supervisor; `chatrelay migrate`, `doctor`,
// `accounts`, and `jobs` are offline/operational subcommands.
package main

import "github.com/relaycrew/chatrelay/cmd"

func main() {
	cmd.Execute()
}
