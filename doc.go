// The hearth home automation hub
//
// Features
//
// - Integrations configured through config flows, no yaml per device
//
// - Entities (sensors, binary sensors, switches) with persistent state
//
// - Centralized polling with change-only notifications
//
// - State machine based automation (gofsm + expressions)
//
// - Distributed message system (MQTT bus, services run anywhere)
//
// - Lightweight, small memory footprint (runs on the Raspberry Pi)
//
// - Remotely controllable (REST api, websocket event stream, chat bots)
//
// - Sunset / sunrise triggered automation
//
// Services
//
// - REST + websocket API
//
// - Automations (automata)
//
// - Liveness watchdog
//
// - mDNS discovery
//
// - Home Assistant MQTT discovery bridge
//
// - Telegram, Slack, Pushbullet, Mastodon alerts
//
// Integrations
//
// - example: the reference polled device (temperature/humidity/battery + switch)
//
// - ping: ICMP reachability monitoring
//
// - sysmon: hub machine cpu/memory/load/uptime
package hearth
