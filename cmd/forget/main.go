// Command forget is an administrative escape hatch: given one or more
// bot tokens, it revokes each (replacing it with an unguessable value,
// so the bot can never authenticate with it again) and marks the owning
// bot suspended, without touching its game history. Adapted from the
// teacher's standalone misc/kgp-forget tool, which spoke the legacy KGP
// wire protocol directly to a running server; this one talks to the
// same SQLite file the services use, since this rebuild has no
// equivalent wire protocol to carry a "forget" verb over.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"lineup/cmd"
	"lineup/db"
)

func main() {
	cmd.RegisterCommonFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-conf FILE] TOKEN [TOKEN ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	conf := cmd.LoadConf(cmd.Default())
	st := cmd.MakeState(conf)
	d := db.Register(st, &conf)
	defer d.Shutdown()

	ctx := context.Background()
	for _, token := range flag.Args() {
		found, err := d.RevokeBot(ctx, token)
		if err != nil {
			log.Fatal(err)
		}
		if !found {
			fmt.Fprintf(os.Stderr, "no bot owns token %q\n", token)
			continue
		}
		fmt.Printf("revoked %q\n", token)
	}
}
