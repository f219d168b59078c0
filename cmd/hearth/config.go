package main

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/hearth-home/hearth/config"
	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/services"
)

// configCommand reads or updates the hub configuration.
//
//	hearth config get            print the active config
//	hearth config set [file]     push a config (default: the local file)
//
// Updates go out as a retained config event, so running services reload
// without a restart.
func configCommand(ps []string) {
	if len(ps) == 0 {
		usage()
		return
	}
	switch ps[0] {
	case "get":
		resp, err := request("api/config", url.Values{"path": {"hearth/config"}})
		if err != nil {
			fmtFatalf("error: %s\n", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			fmtFatalf("error: %s\n", resp.Status)
		}
		io.Copy(os.Stdout, resp.Body)
	case "set":
		filename := config.Path()
		if len(ps) > 1 {
			filename = ps[1]
		}
		setConfig(filename)
	default:
		usage()
	}
}

func setConfig(filename string) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmtFatalf("Error opening %s: %s\n", filename, err)
	}
	if _, err := config.OpenRaw(data); err != nil {
		fmtFatalf("Invalid config: %s\n", err)
	}

	fields := pubsub.Fields{
		"config": string(data),
	}
	ev := pubsub.NewEvent("config", fields)
	ev.SetRetained(true) // config messages are retained
	services.SetupBroker("hearth-config")
	services.Publisher.Emit(ev)
	ev.Published.Wait()
	services.Shutdown()
	fmt.Printf("Updated config (%d bytes)\n", len(data))
}
