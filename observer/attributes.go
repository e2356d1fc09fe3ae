package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for runtime dispatch spans.
var (
	AttrEvent     = attribute.Key("bot.event")
	AttrCommand   = attribute.Key("bot.command")
	AttrAction    = attribute.Key("bot.action")
	AttrFlow      = attribute.Key("bot.flow")
	AttrPipe      = attribute.Key("bot.pipe")
	AttrJob       = attribute.Key("bot.scheduler.job")
	AttrGuildID   = attribute.Key("bot.guild_id")
	AttrChannelID = attribute.Key("bot.channel_id")
)
