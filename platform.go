package golem

import (
	"context"
	"time"
)

// Message is the platform-neutral outbound message shape. Extra carries
// adapter-specific payload (embeds, components) untouched.
type Message struct {
	Content string
	Extra   map[string]any
}

// PlatformClient is the capability contract the runtime's platform actions
// call through. Implementations translate to the underlying chat protocol;
// errors they return are wrapped as ExternalError by the action layer.
type PlatformClient interface {
	// Messages
	SendMessage(ctx context.Context, channelID string, msg Message) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendDM(ctx context.Context, userID string, msg Message) (messageID string, err error)

	// Reactions
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, channelID, messageID, emoji string) error

	// Moderation
	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string, deleteDays int) error
	UnbanMember(ctx context.Context, guildID, userID string) error
	TimeoutMember(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
	SetNickname(ctx context.Context, guildID, userID, nick string) error

	// Roles
	CreateRole(ctx context.Context, guildID, name string, props map[string]any) (roleID string, err error)
	DeleteRole(ctx context.Context, guildID, roleID string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error

	// Channels
	CreateChannel(ctx context.Context, guildID, name, kind string, props map[string]any) (channelID string, err error)
	DeleteChannel(ctx context.Context, channelID string) error

	// Fetches
	FetchGuild(ctx context.Context, guildID string) (map[string]any, error)
	FetchChannel(ctx context.Context, channelID string) (map[string]any, error)
	FetchUser(ctx context.Context, userID string) (map[string]any, error)
	FetchMember(ctx context.Context, guildID, userID string) (map[string]any, error)

	// Voice
	VoiceConnect(ctx context.Context, guildID, channelID string) error
	VoiceDisconnect(ctx context.Context, guildID string) error
	VoicePlay(ctx context.Context, guildID, source string) error
	VoiceSeek(ctx context.Context, guildID string, pos time.Duration) error
}

// CanvasRenderer renders a named generator from the document's canvas
// declarations into image bytes.
type CanvasRenderer interface {
	Render(ctx context.Context, generator string, params map[string]any) ([]byte, error)
}
