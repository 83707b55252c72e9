// Command dispatcher runs the Lineup Dispatcher service: it ingests bot
// code submissions, records game results, and serves per-bot
// participation and version statistics.
package main

import (
	"flag"

	"lineup/cmd"
	"lineup/db"
	"lineup/dispatcher"
)

func main() {
	cmd.RegisterCommonFlags()
	flag.Parse()

	conf := cmd.LoadConf(cmd.Default())
	st := cmd.MakeState(conf)

	d := db.Register(st, &conf)
	dispatcher.Register(st, &conf, d)

	st.Start()
}
