// Command swarmnode runs a single swarm coordination node: gossip
// transport, op-log, committee/quorum tracking, and the checkpoint/pruning
// background workers wired together per swarmcore/core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"swarmcore/cmd/swarmnode/internal/bootstrap"
	"swarmcore/cmd/swarmnode/internal/devnet"
)

func main() {
	root := &cobra.Command{
		Use:   "swarmnode",
		Short: "Run a swarm coordination node",
	}
	root.AddCommand(bootstrap.RunCmd())
	root.AddCommand(bootstrap.CheckpointCmd())
	root.AddCommand(bootstrap.FastSyncCmd())
	root.AddCommand(devnet.Cmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(bootstrap.ExitCodeFor(err))
	}
}
