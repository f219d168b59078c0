package config

import (
	"io"
	"io/ioutil"
	"log"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

type EndpointsConf struct {
	Mqtt struct {
		Broker string
	}
	Api struct {
		Addr  string
		Token string
	}
	Redis string
}

type Duration struct {
	Duration time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}
	val, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = val
	return nil
}

type DiscoveryConf struct {
	Enabled bool
}

type EarthConf struct {
	Latitude  float64
	Longitude float64
}

type HassConf struct {
	Prefix string
}

type MastodonConf struct {
	Server        string
	Client_id     string
	Client_secret string
	Access_token  string
}

type PingConf struct {
	Interval *Duration
}

type PushbulletConf struct {
	Token string
}

type SlackConf struct {
	Token   string
	Channel string
}

type SysmonConf struct {
	Interval *Duration
}

type TelegramConf struct {
	Token   string
	Chat_id int64
}

type WatchdogConf struct {
	Alert    string
	Entities map[string]string
	Services []string
}

// Configuration structure
type Config struct {
	// yaml fields
	Services   []string
	Endpoints  EndpointsConf
	Discovery  DiscoveryConf
	Earth      EarthConf
	Hass       HassConf
	Mastodon   MastodonConf
	Ping       PingConf
	Pushbullet PushbulletConf
	Slack      SlackConf
	Sysmon     SysmonConf
	Telegram   TelegramConf
	Watchdog   WatchdogConf
}

// Open configuration from disk. HEARTH_CONFIG overrides the default
// location under .config/hearth.
func Open() (*Config, error) {
	file, err := os.Open(Path())
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return OpenReader(file)
}

// Path returns the location of the configuration file.
func Path() string {
	if p := os.Getenv("HEARTH_CONFIG"); p != "" {
		return p
	}
	return ConfigPath("hearth.yml")
}

// Open configuration from a reader.
func OpenReader(r io.Reader) (*Config, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return OpenRaw(data)
}

// Open configuration from []byte.
func OpenRaw(data []byte) (*Config, error) {
	conf := &Config{}
	err := yaml.Unmarshal(data, conf)
	if err != nil {
		return nil, err
	}
	return conf, nil
}

func Must(conf *Config, err error) *Config {
	if err != nil {
		log.Fatalln("Configuration error:", err)
	}
	return conf
}

// Resolve a configuration file under .config/hearth
func ConfigPath(p string) string {
	config := os.Getenv("XDG_CONFIG_HOME")
	if config == "" {
		config = path.Join(os.Getenv("HOME"), ".config")
	}
	return path.Join(config, "hearth", p)
}

// Resolve a log file under .local/state/hearth
func LogPath(p string) string {
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		state = path.Join(os.Getenv("HOME"), ".local", "state")
	}
	return path.Join(state, "hearth", p)
}
