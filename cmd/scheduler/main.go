// Command scheduler runs the Lineup Scheduler service: it exposes a
// trigger endpoint that runs a matchmaking pass and dispatches run
// requests to the Runner through a leaky-bucket limiter.
package main

import (
	"flag"

	"lineup/cmd"
	"lineup/db"
	"lineup/scheduler"
)

func main() {
	cmd.RegisterCommonFlags()
	flag.Parse()

	conf := cmd.LoadConf(cmd.Default())
	st := cmd.MakeState(conf)

	d := db.Register(st, &conf)
	scheduler.Register(st, &conf, d)

	st.Start()
}
