// Service for a slack bot.
//
// Alerts targeted "slack" are posted to the configured channel, and messages
// addressed to the bot are run as queries with the answers posted back.
package slack

import (
	"fmt"
	"log"
	"time"

	"github.com/nlopes/slack"

	"github.com/hearth-home/hearth/pubsub"
	"github.com/hearth-home/hearth/services"
)

// Service slack
type Service struct{}

// ID of the service
func (self *Service) ID() string {
	return "slack"
}

func (self *Service) Run() error {
	if services.Config.Slack.Token == "" {
		log.Fatalln("Please set:\nslack:\n  token: \"...\"")
	}

	api := slack.New(services.Config.Slack.Token)
	rtm := api.NewRTM()
	go slacker(rtm)
	alertTransmitter(rtm)

	return nil
}

func lookupChannelByName(api *slack.RTM, name string) *slack.Channel {
	channels, err := api.GetChannels(true)
	if err != nil {
		log.Fatal(err)
	}
	for _, channel := range channels {
		if "#"+channel.Name == name || channel.Name == name {
			return &channel
		}
	}
	return nil
}

func alertTransmitter(rtm *slack.RTM) {
	name := services.Config.Slack.Channel
	channel := lookupChannelByName(rtm, name)
	if channel == nil {
		log.Fatalf("You must create %s and invite me", name)
	}
	if !channel.IsMember {
		log.Fatalf("You must invite me in to %s", name)
	}

	for ev := range services.Subscriber.Subscribe(pubsub.Prefix("alert")) {
		if ev.Target() != "slack" {
			continue
		}
		rtm.SendMessage(rtm.NewOutgoingMessage(ev.StringField("message"), channel.ID))
	}
}

func slacker(rtm *slack.RTM) {
	go rtm.ManageConnection()

	greeted := false
	userId := ""
Loop:
	for {
		select {
		case msg := <-rtm.IncomingEvents:
			switch event := msg.Data.(type) {
			case *slack.ConnectedEvent:
				// say hello in the first channel we're in
				if len(event.Info.Channels) > 0 {
					if !greeted {
						channel := event.Info.Channels[0]
						rtm.SendMessage(rtm.NewOutgoingMessage("hearth bot reporting for duty!", channel.ID))
					}
					greeted = true
				}
				// remember our id
				userId = event.Info.User.ID

			case *slack.MessageEvent:
				if event.User == userId || event.BotID != "" {
					// ignore messages from self or bots
					continue
				}
				// send the message as a query
				log.Println("Querying:", event.Text)
				ch := services.QueryChannel(event.Text, time.Duration(5)*time.Second)

				gotResponse := false
				for ev := range ch {
					// send back responses
					message := ev.StringField("message")
					if message == "" {
						message = ev.String()
					}
					rtm.SendMessage(rtm.NewOutgoingMessage(message, event.Channel))
					gotResponse = true
				}

				if !gotResponse {
					rtm.SendMessage(rtm.NewOutgoingMessage("Sorry, nothing answered!", event.Channel))
				}

			case *slack.RTMError:
				fmt.Printf("Error: %s\n", event.Error())

			case *slack.InvalidAuthEvent:
				fmt.Printf("Invalid credentials")
				break Loop

			default:
				// ignore other events
			}
		}
	}
}
