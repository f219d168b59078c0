package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/hearth-home/hearth/config"
	"github.com/hearth-home/hearth/entries"
	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/services"
	"github.com/hearth-home/hearth/services/api"
	"github.com/hearth-home/hearth/services/automata"
	"github.com/hearth-home/hearth/services/discovery"
	"github.com/hearth-home/hearth/services/example"
	"github.com/hearth-home/hearth/services/hass"
	"github.com/hearth-home/hearth/services/mastodon"
	"github.com/hearth-home/hearth/services/ping"
	"github.com/hearth-home/hearth/services/pushbullet"
	"github.com/hearth-home/hearth/services/slack"
	"github.com/hearth-home/hearth/services/sysmon"
	"github.com/hearth-home/hearth/services/telegram"
	"github.com/hearth-home/hearth/services/watchdog"
)

// set by the build
var version = "dev"

func registerServices() {
	services.Register(&api.Service{})
	services.Register(&automata.Service{})
	services.Register(&discovery.Service{})
	services.Register(&hass.Service{})
	services.Register(&mastodon.Service{})
	services.Register(&pushbullet.Service{})
	services.Register(&slack.Service{})
	services.Register(&telegram.Service{})
	services.Register(&watchdog.Service{})

	// integrations register for config entry routing too
	entries.RegisterIntegration(&example.Service{})
	entries.RegisterIntegration(&ping.Service{})
	entries.RegisterIntegration(&sysmon.Service{})
}

func usage() {
	fmt.Println("Usage: hearth COMMAND [ARGS]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("   run     service,...|all  Run services")
	fmt.Println("   query   verb [args]      Query running services")
	fmt.Println("   config  get|set [file]   Read or update hub config")
	fmt.Println("   status  [service]        Get service status")
	fmt.Println("   switch  entity on|off    Control a switch")
	fmt.Println("   version                  Print version")
	fmt.Println()
}

var emptyParams = url.Values{}

func main() {
	log.SetOutput(os.Stdout)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	ps := []string{}
	if flag.NArg() > 1 {
		ps = flag.Args()[1:]
	}

	services.SetupLogging()

	command := flag.Args()[0]
	switch command {
	default:
		usage()
	case "run":
		run(ps)
	case "query":
		if len(ps) == 0 {
			usage()
			return
		}
		query(ps[0], ps[1:], url.Values{"timeout": {"5000"}, "responses": {"1"}})
	case "config":
		configCommand(ps)
	case "status":
		if len(ps) == 0 {
			query("status", []string{}, emptyParams)
		} else {
			query(ps[0]+"/status", []string{}, url.Values{"responses": {"1"}})
		}
	case "switch":
		commandSwitch(ps)
	case "version":
		fmt.Println(version)
	}
}

func commandSwitch(ps []string) {
	if len(ps) < 2 {
		usage()
		return
	}
	params := url.Values{
		"entity":  []string{ps[0]},
		"command": []string{ps[1]},
	}
	resp, err := request("api/services/control", params)
	if err != nil {
		fmtFatalf("error: %s\n", err)
	}
	defer resp.Body.Close()
	io.Copy(os.Stdout, resp.Body)
	fmt.Println()
}

// bootstrapConfig publishes the on-disk configuration as the retained
// config event services wait on, so a fresh broker starts up without a
// separate `hearth config set`.
func bootstrapConfig() {
	data, err := os.ReadFile(config.Path())
	if err != nil {
		log.Printf("No config file at %s, waiting for bus config", config.Path())
		return
	}
	if _, err := config.OpenRaw(data); err != nil {
		log.Fatalf("Invalid config %s: %s", config.Path(), err)
	}
	ev := pubsub.NewEvent("config", pubsub.Fields{"config": string(data)})
	ev.SetRetained(true)
	services.Publisher.Emit(ev)
	ev.Published.Wait()
}

// run starts the named services (or all) in this process.
func run(ps []string) {
	services.Setup("hearth")
	registerServices()
	bootstrapConfig()

	var names []string
	if len(ps) == 0 || (len(ps) == 1 && ps[0] == "all") {
		// the services list in config scopes "all", not every service
		// compiled in
		if conf, err := config.Open(); err == nil && len(conf.Services) > 0 {
			names = conf.Services
		} else {
			names = services.Registered()
		}
	} else {
		for _, p := range ps {
			names = append(names, strings.Split(p, ",")...)
		}
	}

	// set up stored config entries once the services are up
	go func() {
		services.WaitForConfig()
		entries.SetupAll()
	}()

	services.Launch(names)
}
