package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"colonywars/internal/ledger"
)

// discordMessageLimit is Discord's cap on one message body.
const discordMessageLimit = 2000

type channelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts headline events to one Discord channel.
type DiscordNotifier struct {
	sender  channelSender
	channel string
	log     *slog.Logger
}

func NewDiscordNotifier(token, channel string, logger *slog.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return newDiscordNotifier(session, channel, logger), nil
}

func newDiscordNotifier(sender channelSender, channel string, logger *slog.Logger) *DiscordNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordNotifier{sender: sender, channel: channel, log: logger}
}

func (d *DiscordNotifier) Notify(ctx context.Context, events []ledger.Event) error {
	var lines []string
	for _, ev := range events {
		if line, ok := headline(ev); ok {
			lines = append(lines, line)
		}
	}
	for _, msg := range chunkLines(lines, discordMessageLimit) {
		if _, err := d.sender.ChannelMessageSend(d.channel, msg, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	if len(lines) > 0 {
		d.log.Info("discord notified", "lines", len(lines))
	}
	return nil
}

func headline(ev ledger.Event) (string, bool) {
	switch ev.Type {
	case ledger.EventSeasonStarted:
		return fmt.Sprintf(":crossed_swords: Season %d has begun", ev.Season), true
	case ledger.EventSeasonEnded:
		return fmt.Sprintf(":checkered_flag: Season %d is over", ev.Season), true
	case ledger.EventAllianceCreated:
		return fmt.Sprintf(":handshake: Alliance %s formed%s", ev.Alliance.Short(), dataSuffix(ev, "name")), true
	case ledger.EventAllianceDisbanded:
		return fmt.Sprintf(":broken_heart: Alliance %s disbanded", ev.Alliance.Short()), true
	case ledger.EventBetrayalRecorded:
		return fmt.Sprintf(":dagger: Colony %s betrayed alliance %s", ev.Colony.Short(), ev.Alliance.Short()), true
	case ledger.EventForgivenessExecuted:
		return fmt.Sprintf(":dove: Alliance %s forgave colony %s", ev.Alliance.Short(), ev.Colony.Short()), true
	case ledger.EventBattleDeclared:
		return fmt.Sprintf(":fire: Colony %s attacked%s", ev.Colony.Short(), dataSuffix(ev, "defender")), true
	case ledger.EventBattleResolved:
		return fmt.Sprintf(":trophy: Colony %s won a battle", ev.Colony.Short()), true
	case ledger.EventColonyWithdrawn:
		return fmt.Sprintf(":white_flag: Colony %s withdrew from the war", ev.Colony.Short()), true
	}
	return "", false
}

func dataSuffix(ev ledger.Event, key string) string {
	v, ok := ev.Data[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf(" (%s: %v)", key, v)
}

func chunkLines(lines []string, limit int) []string {
	var (
		out []string
		b   strings.Builder
	)
	for _, line := range lines {
		if len(line) > limit {
			line = line[:limit]
		}
		if b.Len() > 0 && b.Len()+1+len(line) > limit {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
