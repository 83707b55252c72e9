// Package cmd provides the configuration and lifecycle scaffolding shared
// by the dispatcher, scheduler and runner binaries.
package cmd

import (
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"lineup"
)

const DefaultConfFile = "lineup.toml"

// DatabaseConf configures the Dispatcher's SQLite-backed store.
type DatabaseConf struct {
	File string `toml:"file"`
}

// DispatcherConf configures the code-ingest/results/query service.
type DispatcherConf struct {
	Port         uint   `toml:"port"`
	SchedulerURL string `toml:"scheduler_url"`
}

// SchedulerConf configures the matchmaking/pacing service.
type SchedulerConf struct {
	Port          uint   `toml:"port"`
	RunnerURL     string `toml:"runner_url"`
	DispatcherURL string `toml:"dispatcher_url"`

	MinGamesPerVersion uint `toml:"min_games_per_version"`
	MaxGamesToSchedule uint `toml:"max_games_to_schedule"`
	MaxBotsToSchedule  uint `toml:"max_bots_to_schedule"`

	BucketSize        uint `toml:"bucket_size"`
	RequestsPerMinute uint `toml:"requests_per_minute"`
}

// RunnerConf configures the sandboxed match-execution service.
type RunnerConf struct {
	Port    uint   `toml:"port"`
	Backend string `toml:"backend"` // "inprocess", "process", or "docker"

	InitTimeout     time.Duration `toml:"init_timeout"`
	MoveTimeout     time.Duration `toml:"move_timeout"`
	CallbackTimeout time.Duration `toml:"callback_timeout"`

	BoardWidth  uint `toml:"board_width"`
	BoardHeight uint `toml:"board_height"`

	// InProcessMinMaxDepth configures the reference MinMax bot's search
	// depth when Backend is "inprocess".
	InProcessMinMaxDepth int `toml:"inprocess_minmax_depth"`

	// ProcessCommand is the argv (program plus arguments) used to spawn
	// one child per bot when Backend is "process".
	ProcessCommand []string `toml:"process_command"`

	// DockerImage, DockerCPUs and DockerMemoryMB configure the
	// container-per-bot backend when Backend is "docker".
	DockerImage    string `toml:"docker_image"`
	DockerCPUs     int64  `toml:"docker_cpus"`
	DockerMemoryMB int64  `toml:"docker_memory_mb"`
}

// Conf is the top-level, TOML-decoded configuration. Each binary only
// reads the sections it needs.
type Conf struct {
	Database   DatabaseConf   `toml:"database"`
	Dispatcher DispatcherConf `toml:"dispatcher"`
	Scheduler  SchedulerConf  `toml:"scheduler"`
	Runner     RunnerConf     `toml:"runner"`
}

// Default returns the configuration used when no file and no flags
// override a value, mirroring the teacher's conf.Default.
func Default() Conf { return defaultConfig }

// defaultConfig is the configuration used when no file and no flags
// override a value, mirroring the teacher's defaultConfig var.
var defaultConfig = Conf{
	Database: DatabaseConf{
		File: "lineup.db",
	},
	Dispatcher: DispatcherConf{
		Port:         8080,
		SchedulerURL: "http://localhost:8081/",
	},
	Scheduler: SchedulerConf{
		Port:               8081,
		RunnerURL:          "http://localhost:8082/",
		DispatcherURL:      "http://localhost:8080/game_result",
		MinGamesPerVersion: 10,
		MaxGamesToSchedule: 100,
		MaxBotsToSchedule:  50,
		BucketSize:         5,
		RequestsPerMinute:  60,
	},
	Runner: RunnerConf{
		Port:                 8082,
		Backend:              "process",
		InitTimeout:          200 * time.Millisecond,
		MoveTimeout:          100 * time.Millisecond,
		CallbackTimeout:      10 * time.Second,
		BoardWidth:           7,
		BoardHeight:          7,
		InProcessMinMaxDepth: 4,
		ProcessCommand:       []string{"bot_runner"},
		DockerImage:          "lineup-bot:latest",
		DockerCPUs:           1,
		DockerMemoryMB:       256,
	},
}

var (
	debug  = false
	silent = false
	dump   = false
	cfile  = DefaultConfFile
)

// RegisterCommonFlags wires -debug, -silent, -dump-config and -conf,
// identical across all binaries. Each binary's main() calls this once
// before flag.Parse; no binary registers per-section flags.
func RegisterCommonFlags() {
	flag.BoolVar(&debug, "debug", debug, "Enable debug output")
	flag.BoolVar(&silent, "silent", silent, "Disable log output")
	flag.BoolVar(&dump, "dump-config", dump, "Dump configuration to standard output and exit")
	flag.StringVar(&cfile, "conf", cfile, "Path to configuration file")
}

// LoadConf opens cfile (or skips silently if it doesn't exist and was
// never explicitly requested) and decodes it over base. It then applies
// the debug/silent logging switches and honors -dump-config exactly as
// the teacher's LoadConf does.
func LoadConf(base Conf) Conf {
	conf := base
	file, err := os.Open(cfile)
	switch {
	case err == nil:
		defer file.Close()
		if _, decErr := toml.NewDecoder(file).Decode(&conf); decErr != nil {
			log.Print(decErr)
			conf = base
		}
	case os.IsNotExist(err) && cfile == DefaultConfFile:
		// no config file is fine; run on defaults plus flags
	default:
		log.Fatal(err)
	}

	switch {
	case debug:
		lineup.Debug.SetOutput(os.Stderr)
		log.Default().SetFlags(log.LstdFlags | log.Lshortfile)
		lineup.Debug.Println("Debug logging has been enabled")
	case silent:
		log.Default().SetOutput(io.Discard)
	}

	if dump {
		if err := (&conf).Dump(os.Stdout); err != nil {
			log.Fatalln("Failed to dump configuration:", err)
		}
		os.Exit(0)
	}

	return conf
}

// Dump serializes conf as TOML.
func (c *Conf) Dump(wr io.Writer) error {
	return toml.NewEncoder(wr).Encode(c)
}
