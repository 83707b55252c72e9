// Command runner runs the Lineup Runner service: it accepts RunGameTasks
// over HTTP, plays each match behind a sandboxed BotInstance backend, and
// reports results back to the caller's callback URL.
package main

import (
	"flag"
	"log"
	"os/exec"

	dockerclient "github.com/docker/docker/client"

	"lineup/bot"
	"lineup/cmd"
	"lineup/runner"
	"lineup/sandbox"
)

func main() {
	cmd.RegisterCommonFlags()
	flag.Parse()

	conf := cmd.LoadConf(cmd.Default())
	st := cmd.MakeState(conf)

	ex := buildExecutor(conf.Runner)
	runner.Register(st, &conf, ex)

	st.Start()
}

// buildExecutor constructs the sandbox.Executor named by rc.Backend,
// mirroring the teacher's ControlledAgent backend selection.
func buildExecutor(rc cmd.RunnerConf) sandbox.Executor {
	switch rc.Backend {
	case "inprocess":
		return &sandbox.InProcess{
			InitTimeout: rc.InitTimeout,
			MoveTimeout: rc.MoveTimeout,
			New:         bot.NewMinMax(rc.InProcessMinMaxDepth),
		}
	case "process":
		if len(rc.ProcessCommand) == 0 {
			log.Fatal("runner: process backend requires process_command")
		}
		return &sandbox.Process{
			Command: func() *exec.Cmd {
				return exec.Command(rc.ProcessCommand[0], rc.ProcessCommand[1:]...)
			},
			InitTimeout: rc.InitTimeout,
			MoveTimeout: rc.MoveTimeout,
		}
	case "docker":
		cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
		if err != nil {
			log.Fatal(err)
		}
		return &sandbox.Docker{
			Client:      cli,
			Image:       rc.DockerImage,
			CPUs:        rc.DockerCPUs,
			MemoryBytes: rc.DockerMemoryMB * 1024 * 1024,
			InitTimeout: rc.InitTimeout,
			MoveTimeout: rc.MoveTimeout,
		}
	default:
		log.Fatalf("runner: unknown backend %q", rc.Backend)
		return nil
	}
}
