package gateway

import (
	"context"
	"log"

	"github.com/bwmarrin/discordgo"
)

const discordLimit = 2000

// DiscordGateway answers messages in any channel the bot can read. The
// channel id is used as the chat id.
type DiscordGateway struct {
	Session *discordgo.Session
	Handler Handler
	done    chan struct{}
}

func NewDiscordGateway(token string, handler Handler) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	dg := &DiscordGateway{Session: s, Handler: handler, done: make(chan struct{})}
	s.AddHandler(dg.onMessage)
	return dg, nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	log.Printf("[discord:%s] %s", m.Author.Username, m.Content)

	response := dg.Handler.Handle(context.Background(), m.ChannelID, m.Content)
	if response == "" {
		return
	}
	if err := dg.Send(m.ChannelID, response); err != nil {
		log.Printf("Error sending to %s: %v", m.ChannelID, err)
	}
}

// Start opens the websocket and blocks until Stop.
func (dg *DiscordGateway) Start() error {
	if err := dg.Session.Open(); err != nil {
		return err
	}
	if dg.Session.State.User != nil {
		log.Printf("Discord connected as %s", dg.Session.State.User.Username)
	}
	<-dg.done
	return nil
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	for _, part := range chunk(text, discordLimit) {
		if _, err := dg.Session.ChannelMessageSend(chatID, part); err != nil {
			return err
		}
	}
	return nil
}

func (dg *DiscordGateway) Stop() error {
	select {
	case <-dg.done:
	default:
		close(dg.done)
	}
	return dg.Session.Close()
}
