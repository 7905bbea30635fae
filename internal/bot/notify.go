package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Event is a completed trade or withdrawal worth announcing
type Event struct {
	Side      string
	UserID    int64
	Mint      string
	Amount    uint64
	AmountOut uint64
	Signature string
}

// Notifier announces events somewhere outside the chat
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

var sideColors = map[string]int{
	"BUY":      0x2ecc71,
	"SELL":     0xe74c3c,
	"WITHDRAW": 0x3498db,
}

// Discord posts events to a channel webhook
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
}

// NewDiscord parses a webhook URL of the form
// https://discord.com/api/webhooks/<id>/<token>
func NewDiscord(webhookURL string) (*Discord, error) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[len(parts)-3] != "webhooks" {
		return nil, fmt.Errorf("not a webhook url: %s", u.Redacted())
	}

	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	s.Client.Timeout = 10 * time.Second

	return &Discord{
		session: s,
		id:      parts[len(parts)-2],
		token:   parts[len(parts)-1],
	}, nil
}

// Notify posts ev as an embed
func (d *Discord) Notify(ctx context.Context, ev Event) error {
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("%s completed", ev.Side),
		Color:     sideColors[ev.Side],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: fmt.Sprintf("%d", ev.UserID), Inline: true},
			{Name: "Asset", Value: ev.Mint, Inline: true},
			{Name: "Amount", Value: fmt.Sprintf("%d", ev.Amount), Inline: true},
		},
	}
	if ev.AmountOut > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Received", Value: fmt.Sprintf("%d", ev.AmountOut), Inline: true})
	}
	if ev.Signature != "" {
		embed.URL = "https://solscan.io/tx/" + ev.Signature
		embed.Description = "`" + ev.Signature + "`"
	}

	_, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
