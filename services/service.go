package services

import (
	"flag"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"time"

	"github.com/hearth-home/hearth/config"
	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/pubsub/mqtt"
	"github.com/hearth-home/hearth/util"
)

// Service interface
type Service interface {
	ID() string
	Run() error
}

// ServiceInit interface
type ServiceInit interface {
	Service
	Init() error
}

type Flags interface {
	Flags()
}

var serviceMap map[string]Service = map[string]Service{}
var enabled []Service
var Config *config.Config

var Publisher pubsub.Publisher
var Subscriber pubsub.Subscriber
var Stor Store

type ConfigWaiter struct {
	Value   []byte
	hash    uint32
	events  <-chan *pubsub.Event
	update  func()
	Updated chan bool
}

func NewConfigWaiter(topic pubsub.Topic) *ConfigWaiter {
	return &ConfigWaiter{
		events:  Subscriber.Subscribe(topic),
		Updated: make(chan bool),
	}
}

func (c *ConfigWaiter) Wait() {
	if c.loopOne() {
		if c.update != nil {
			c.update()
		}
		c.notify()
	}
}

func (c *ConfigWaiter) notify() {
	// non-blocking send
	select {
	case c.Updated <- true:
	default:
	}
}

func (c *ConfigWaiter) loopOne() bool {
	ev := <-c.events
	// config events carry the raw yaml in the "config" field
	value := []byte(ev.StringField("config"))
	if len(value) == 0 {
		return false
	}
	hashValue := hash(value)
	previous := c.hash
	if previous == hashValue {
		// ignore duplicate events - from services subscribing to hearth/#.
		return false
	}
	c.hash = hashValue
	c.Value = value
	return true
}

type ConfigService struct {
	ConfigWaiter
	Value *config.Config
}

func NewConfigService() *ConfigService {
	cs := &ConfigService{
		ConfigWaiter{
			events:  Subscriber.Subscribe(pubsub.Exact("config")),
			Updated: make(chan bool),
		},
		nil,
	}
	cs.update = func() {
		// (re)load config
		conf, err := config.OpenRaw(cs.ConfigWaiter.Value)
		if err != nil {
			log.Println("Error reading config:", err)
			return
		}
		cs.Value = conf
		Config = conf // set global
	}
	return cs
}

func SetupLogging() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.SetOutput(os.Stdout)
}

func hash(s []byte) uint32 {
	h := fnv.New32a()
	h.Write(s)
	return h.Sum32()
}

var globalConfigService *ConfigService

func WaitForConfig() *ConfigService {
	if globalConfigService == nil {
		globalConfigService = NewConfigService()
		// await first config
		globalConfigService.Wait()
		// listen for updates
		go globalConfigService.Watch()
	}
	return globalConfigService
}

func (c *ConfigService) Watch() {
	for {
		c.Wait()
	}
}

func SetupFlags() {
	for _, service := range enabled {
		// any service specific flags
		if f, ok := service.(Flags); ok {
			f.Flags()
		}
	}
	flag.Parse()
}

// SetupBroker connects the process to the bus. HEARTH_MQTT overrides the
// configuration file, eg: tcp://127.0.0.1:1883
func SetupBroker(name string) {
	url := os.Getenv("HEARTH_MQTT")
	if url == "" {
		if conf, err := config.Open(); err == nil {
			url = conf.Endpoints.Mqtt.Broker
		}
	}
	if url == "" {
		log.Fatalln("Set HEARTH_MQTT or endpoints.mqtt.broker to the mqtt server. eg: tcp://127.0.0.1:1883")
	}

	broker := mqtt.NewBroker(url, name)
	Publisher = broker.Publisher()
	if Publisher == nil {
		log.Fatalln("Failed to initialise pub endpoint")
	}
	Subscriber = broker.Subscriber()
	if Subscriber == nil {
		log.Fatalln("Failed to initialise sub endpoint")
	}
}

// SetupStore connects the process to redis. HEARTH_REDIS overrides the
// configuration file, defaulting to localhost.
func SetupStore() {
	address := os.Getenv("HEARTH_REDIS")
	if address == "" {
		if conf, err := config.Open(); err == nil {
			address = conf.Endpoints.Redis
		}
	}
	if address == "" {
		address = "127.0.0.1:6379"
	}

	store, err := NewRedisStore(address)
	if err != nil {
		log.Fatalln("Failed to connect to store:", err)
	}
	Stor = store
}

func Setup(name string) {
	SetupBroker(name)
	SetupStore()
}

func Launch(ss []string) {
	enabled = []Service{}
	for _, name := range ss {
		if service, ok := serviceMap[name]; ok {
			enabled = append(enabled, service)
		} else {
			log.Fatalf("Service %s does not exist", name)
		}
	}

	SetupFlags()

	// listen for queries
	go QuerySubscriber()

	for _, service := range enabled {
		log.Printf("Starting %s\n", service.ID())
		if service, ok := service.(ServiceInit); ok {
			err := service.Init()
			if err != nil {
				log.Fatalf("Error init service %s: %s", service.ID(), err.Error())
			}
			log.Printf("Initialized %s\n", service.ID())
		} else {
			// services without Init
			WaitForConfig()
		}
	}

	done := make(chan error, len(enabled))
	for _, service := range enabled {
		// run heartbeater
		go Heartbeat(service.ID())
		go func(service Service) {
			done <- service.Run()
		}(service)
	}
	if err := <-done; err != nil {
		log.Fatalf("Error running service: %s", err.Error())
	}
}

func Heartbeat(id string) {
	started := time.Now()
	entity := fmt.Sprintf("heartbeat.%s", id)
	fields := pubsub.Fields{
		"entity":  entity,
		"pid":     os.Getpid(),
		"started": started.Format(time.RFC3339),
	}

	// notify systemd ready
	util.SdNotify(false, util.SdNotifyReady)

	// wait 5 seconds before heartbeating - if the process dies very soon
	time.Sleep(time.Second * 5)

	for {
		uptime := int(time.Now().Sub(started).Seconds())
		fields["uptime"] = uptime
		ev := pubsub.NewEvent("heartbeat", fields)
		ev.SetRetained(true)
		Publisher.Emit(ev)
		ev.Published.Wait() // block on actually publishing
		time.Sleep(time.Second * 60)
		// notify systemd watchdog
		util.SdNotify(false, util.SdNotifyWatchdog)
	}
}

func Register(service Service) {
	if _, exists := serviceMap[service.ID()]; exists {
		log.Fatalf("Duplicate service registered: %s", service.ID())
	}
	serviceMap[service.ID()] = service
}

// Registered returns the names of all registered services.
func Registered() []string {
	var names []string
	for name := range serviceMap {
		names = append(names, name)
	}
	return names
}

// Enabled returns the names of the services running in this process.
func Enabled() []string {
	var names []string
	for _, service := range enabled {
		names = append(names, service.ID())
	}
	return names
}

func Shutdown() {
	if Publisher != nil {
		Publisher.Close()
	}
}
