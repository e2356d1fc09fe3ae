package golem

import (
	"context"

	"github.com/spf13/cast"
)

// envID pulls an entity ID from the evaluation context, accepting both the
// entity object form ({"channel": {"id": "C"}}) and the flat form
// ("channelId").
func envID(env map[string]any, entity, flat string) string {
	if m, ok := env[entity].(map[string]any); ok {
		if s, ok := m["id"].(string); ok {
			return s
		}
	}
	return cast.ToString(env[flat])
}

// targetChannel resolves an action's channel: explicit "channel" config
// first, then the triggering channel from context.
func targetChannel(inv *Invocation) (string, error) {
	ch, err := inv.String("channel")
	if err != nil {
		return "", err
	}
	if ch != "" {
		return ch, nil
	}
	if ch := envID(inv.Env(), "channel", "channelId"); ch != "" {
		return ch, nil
	}
	return "", &ValidationError{Field: "channel", Msg: "no channel in config or context"}
}

// targetGuild resolves the guild an action operates on.
func targetGuild(inv *Invocation) (string, error) {
	g, err := inv.String("guild")
	if err != nil {
		return "", err
	}
	if g != "" {
		return g, nil
	}
	if g := envID(inv.Env(), "guild", "guildId"); g != "" {
		return g, nil
	}
	return "", &ValidationError{Field: "guild", Msg: "no guild in config or context"}
}

func external(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Op: op, Err: err}
}

// buildMessage assembles the outbound message from content plus any embeds
// or components, which pass through to the adapter untouched.
func buildMessage(inv *Invocation) (Message, error) {
	content, err := inv.String("content")
	if err != nil {
		return Message{}, err
	}
	msg := Message{Content: content}
	for _, key := range []string{"embeds", "components", "attachments"} {
		v, err := inv.Value(key)
		if err != nil {
			return Message{}, err
		}
		if v != nil {
			if msg.Extra == nil {
				msg.Extra = make(map[string]any)
			}
			msg.Extra[key] = v
		}
	}
	return msg, nil
}

// storeAs captures a result value into scratch under the action's "as"
// field, when present.
func storeAs(inv *Invocation, v any) {
	if as, _ := inv.Raw("as"); as != nil {
		inv.Ctx.Set(cast.ToString(as), v)
	}
}

// registerPlatformActions installs the message, moderation, role, channel,
// voice, and canvas actions against the platform client.
func registerPlatformActions(e *Executor, pc PlatformClient, cr CanvasRenderer, lm *LocaleManager) {
	e.MustRegister("reply", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		ch, err := targetChannel(inv)
		if err != nil {
			return nil, Continue(), err
		}
		msg, err := buildMessage(inv)
		if err != nil {
			return nil, Continue(), err
		}
		id, err := pc.SendMessage(ctx, ch, msg)
		if err != nil {
			return nil, Continue(), external("reply", err)
		}
		storeAs(inv, id)
		return id, Continue(), nil
	})

	e.MustRegister("locale_reply", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		key, err := inv.String("key")
		if err != nil {
			return nil, Continue(), err
		}
		locale, err := inv.String("locale")
		if err != nil {
			return nil, Continue(), err
		}
		paramsVal, err := inv.Value("params")
		if err != nil {
			return nil, Continue(), err
		}
		params, _ := paramsVal.(map[string]any)
		ch, err := targetChannel(inv)
		if err != nil {
			return nil, Continue(), err
		}
		id, err := pc.SendMessage(ctx, ch, Message{Content: lm.Get(key, locale, params)})
		if err != nil {
			return nil, Continue(), external("locale_reply", err)
		}
		storeAs(inv, id)
		return id, Continue(), nil
	})

	e.MustRegister("send_message", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		ch, err := inv.String("channel")
		if err != nil {
			return nil, Continue(), err
		}
		if ch == "" {
			return nil, Continue(), &ValidationError{Field: "channel", Msg: "send_message requires channel"}
		}
		msg, err := buildMessage(inv)
		if err != nil {
			return nil, Continue(), err
		}
		id, err := pc.SendMessage(ctx, ch, msg)
		if err != nil {
			return nil, Continue(), external("send_message", err)
		}
		storeAs(inv, id)
		return id, Continue(), nil
	})

	e.MustRegister("edit_message", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		ch, err := targetChannel(inv)
		if err != nil {
			return nil, Continue(), err
		}
		msgID, err := inv.String("message")
		if err != nil {
			return nil, Continue(), err
		}
		msg, err := buildMessage(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("edit_message", pc.EditMessage(ctx, ch, msgID, msg))
	})

	e.MustRegister("delete_message", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		ch, err := targetChannel(inv)
		if err != nil {
			return nil, Continue(), err
		}
		msgID, err := inv.String("message")
		if err != nil {
			return nil, Continue(), err
		}
		if msgID == "" {
			msgID = envID(inv.Env(), "message", "messageId")
		}
		return nil, Continue(), external("delete_message", pc.DeleteMessage(ctx, ch, msgID))
	})

	e.MustRegister("bulk_delete", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		ch, err := targetChannel(inv)
		if err != nil {
			return nil, Continue(), err
		}
		idsVal, err := inv.Value("messages")
		if err != nil {
			return nil, Continue(), err
		}
		ids, _ := idsVal.([]any)
		for _, id := range ids {
			if err := pc.DeleteMessage(ctx, ch, cast.ToString(id)); err != nil {
				return nil, Continue(), external("bulk_delete", err)
			}
		}
		return nil, Continue(), nil
	})

	e.MustRegister("dm", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		user, err := inv.String("user")
		if err != nil {
			return nil, Continue(), err
		}
		if user == "" {
			user = envID(inv.Env(), "user", "userId")
		}
		msg, err := buildMessage(inv)
		if err != nil {
			return nil, Continue(), err
		}
		id, err := pc.SendDM(ctx, user, msg)
		if err != nil {
			return nil, Continue(), external("dm", err)
		}
		storeAs(inv, id)
		return id, Continue(), nil
	})

	e.MustRegister("add_reaction", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		return reactionAction(ctx, inv, pc.AddReaction, "add_reaction")
	})
	e.MustRegister("remove_reaction", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		return reactionAction(ctx, inv, pc.RemoveReaction, "remove_reaction")
	})

	e.MustRegister("kick", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, user, reason, err := moderationTarget(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("kick", pc.KickMember(ctx, guild, user, reason))
	})

	e.MustRegister("ban", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, user, reason, err := moderationTarget(inv)
		if err != nil {
			return nil, Continue(), err
		}
		days, err := inv.Int("delete_days", 0)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("ban", pc.BanMember(ctx, guild, user, reason, days))
	})

	e.MustRegister("unban", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, user, _, err := moderationTarget(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("unban", pc.UnbanMember(ctx, guild, user))
	})

	e.MustRegister("set_nickname", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, user, _, err := moderationTarget(inv)
		if err != nil {
			return nil, Continue(), err
		}
		nick, err := inv.String("nickname")
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("set_nickname", pc.SetNickname(ctx, guild, user, nick))
	})

	e.MustRegister("timeout", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, user, reason, err := moderationTarget(inv)
		if err != nil {
			return nil, Continue(), err
		}
		d := inv.Duration("duration", 0)
		if d <= 0 {
			return nil, Continue(), &ValidationError{Field: "duration", Msg: "timeout requires a positive duration"}
		}
		return nil, Continue(), external("timeout", pc.TimeoutMember(ctx, guild, user, d, reason))
	})

	e.MustRegister("create_role", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, err := targetGuild(inv)
		if err != nil {
			return nil, Continue(), err
		}
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		propsVal, err := inv.Value("props")
		if err != nil {
			return nil, Continue(), err
		}
		props, _ := propsVal.(map[string]any)
		id, err := pc.CreateRole(ctx, guild, name, props)
		if err != nil {
			return nil, Continue(), external("create_role", err)
		}
		storeAs(inv, id)
		return id, Continue(), nil
	})

	e.MustRegister("delete_role", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, err := targetGuild(inv)
		if err != nil {
			return nil, Continue(), err
		}
		role, err := inv.String("role")
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("delete_role", pc.DeleteRole(ctx, guild, role))
	})

	e.MustRegister("add_role", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, user, role, err := roleTarget(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("add_role", pc.AddRole(ctx, guild, user, role))
	})

	e.MustRegister("remove_role", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, user, role, err := roleTarget(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("remove_role", pc.RemoveRole(ctx, guild, user, role))
	})

	e.MustRegister("create_channel", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, err := targetGuild(inv)
		if err != nil {
			return nil, Continue(), err
		}
		name, err := inv.String("name")
		if err != nil {
			return nil, Continue(), err
		}
		kind, err := inv.String("type")
		if err != nil {
			return nil, Continue(), err
		}
		propsVal, err := inv.Value("props")
		if err != nil {
			return nil, Continue(), err
		}
		props, _ := propsVal.(map[string]any)
		id, err := pc.CreateChannel(ctx, guild, name, kind, props)
		if err != nil {
			return nil, Continue(), external("create_channel", err)
		}
		storeAs(inv, id)
		return id, Continue(), nil
	})

	e.MustRegister("delete_channel", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		ch, err := targetChannel(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("delete_channel", pc.DeleteChannel(ctx, ch))
	})

	e.MustRegister("fetch", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		kind, err := inv.String("entity")
		if err != nil {
			return nil, Continue(), err
		}
		id, err := inv.String("id")
		if err != nil {
			return nil, Continue(), err
		}
		var out map[string]any
		switch kind {
		case "guild":
			out, err = pc.FetchGuild(ctx, id)
		case "channel":
			out, err = pc.FetchChannel(ctx, id)
		case "user":
			out, err = pc.FetchUser(ctx, id)
		case "member":
			guild, gerr := targetGuild(inv)
			if gerr != nil {
				return nil, Continue(), gerr
			}
			out, err = pc.FetchMember(ctx, guild, id)
		default:
			return nil, Continue(), &ValidationError{Field: "entity", Msg: "fetch entity must be guild, channel, user, or member"}
		}
		if err != nil {
			return nil, Continue(), external("fetch", err)
		}
		storeAs(inv, out)
		return out, Continue(), nil
	})

	e.MustRegister("voice_connect", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, err := targetGuild(inv)
		if err != nil {
			return nil, Continue(), err
		}
		ch, err := targetChannel(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("voice_connect", pc.VoiceConnect(ctx, guild, ch))
	})

	e.MustRegister("voice_disconnect", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, err := targetGuild(inv)
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("voice_disconnect", pc.VoiceDisconnect(ctx, guild))
	})

	e.MustRegister("voice_play", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, err := targetGuild(inv)
		if err != nil {
			return nil, Continue(), err
		}
		source, err := inv.String("source")
		if err != nil {
			return nil, Continue(), err
		}
		return nil, Continue(), external("voice_play", pc.VoicePlay(ctx, guild, source))
	})

	// voice_seek accepts compound positions like "1h30m" or "1m30s".
	e.MustRegister("voice_seek", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		guild, err := targetGuild(inv)
		if err != nil {
			return nil, Continue(), err
		}
		pos, err := inv.String("position")
		if err != nil {
			return nil, Continue(), err
		}
		d, err := ParseSeekDuration(pos)
		if err != nil {
			return nil, Continue(), &ValidationError{Field: "position", Msg: err.Error()}
		}
		return nil, Continue(), external("voice_seek", pc.VoiceSeek(ctx, guild, d))
	})

	e.MustRegister("canvas_render", func(ctx context.Context, inv *Invocation) (any, Signal, error) {
		if cr == nil {
			return nil, Continue(), &ValidationError{Field: "canvas", Msg: "no canvas renderer configured"}
		}
		gen, err := inv.String("generator")
		if err != nil {
			return nil, Continue(), err
		}
		paramsVal, err := inv.Value("params")
		if err != nil {
			return nil, Continue(), err
		}
		params, _ := paramsVal.(map[string]any)
		img, err := cr.Render(ctx, gen, params)
		if err != nil {
			return nil, Continue(), external("canvas_render", err)
		}
		storeAs(inv, img)
		return img, Continue(), nil
	})
}

func reactionAction(ctx context.Context, inv *Invocation, op func(context.Context, string, string, string) error, name string) (any, Signal, error) {
	ch, err := targetChannel(inv)
	if err != nil {
		return nil, Continue(), err
	}
	msgID, err := inv.String("message")
	if err != nil {
		return nil, Continue(), err
	}
	if msgID == "" {
		msgID = envID(inv.Env(), "message", "messageId")
	}
	emoji, err := inv.String("emoji")
	if err != nil {
		return nil, Continue(), err
	}
	return nil, Continue(), external(name, op(ctx, ch, msgID, emoji))
}

func moderationTarget(inv *Invocation) (guild, user, reason string, err error) {
	guild, err = targetGuild(inv)
	if err != nil {
		return
	}
	user, err = inv.String("user")
	if err != nil {
		return
	}
	if user == "" {
		user = envID(inv.Env(), "user", "userId")
	}
	reason, err = inv.String("reason")
	return
}

func roleTarget(inv *Invocation) (guild, user, role string, err error) {
	guild, err = targetGuild(inv)
	if err != nil {
		return
	}
	user, err = inv.String("user")
	if err != nil {
		return
	}
	if user == "" {
		user = envID(inv.Env(), "user", "userId")
	}
	role, err = inv.String("role")
	return
}
