// Command chatmesh runs a peer-to-peer chat node.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nspcc-dev/chatmesh/cli/node"
)

// Version is set at build time.
var Version = "dev"

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "chatmesh"
	app.Version = Version
	app.Usage = "Peer-to-peer chat node"
	app.ErrWriter = os.Stdout
	app.Commands = []*cli.Command{node.NewCommand()}
	app.DefaultCommand = "run"
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
