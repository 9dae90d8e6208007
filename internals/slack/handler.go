// Package slack answers analytics questions asked in Slack. Every thread is
// its own conversation session.
package slack

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/sync/errgroup"

	"github.com/jadenj13/analyst/internals/conversation"
	"github.com/jadenj13/analyst/internals/sandbox"
)

const failureReply = "Sorry, something went wrong. Please try again."

type Answerer interface {
	Handle(ctx context.Context, key, text string) (conversation.Result, error)
}

type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

type Handler struct {
	client poster
	socket *socketmode.Client
	botID  string
	agent  Answerer
	log    *slog.Logger
	wg     sync.WaitGroup
}

type IncomingMessage struct {
	ThreadTS  string // thread root, or the message itself when it starts one
	ChannelID string
	UserID    string
	Text      string
	IsDM      bool
}

// SessionKey names the conversation the message belongs to.
func (m IncomingMessage) SessionKey() string {
	return "slack:" + m.ChannelID + ":" + m.ThreadTS
}

func NewHandler(ctx context.Context, botToken, appToken string, agent Answerer, log *slog.Logger) (*Handler, error) {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(
		api,
		socketmode.OptionLog(slog.NewLogLogger(log.Handler(), slog.LevelDebug)),
	)

	// The bot's own id is needed to strip mentions from message text.
	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth test: %w", err)
	}

	return &Handler{
		client: api,
		socket: socket,
		botID:  authResp.UserID,
		agent:  agent,
		log:    log,
	}, nil
}

// Run keeps the socket-mode connection open and serves events until ctx is
// done. Answers still being produced are allowed to finish.
func (h *Handler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.socket.RunContext(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case evt, ok := <-h.socket.Events:
				if !ok {
					return nil
				}
				h.handleEvent(gctx, evt)
			}
		}
	})
	err := g.Wait()
	h.wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (h *Handler) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			h.socket.Ack(*evt.Request)
		}
		payload, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || payload.Type != slackevents.CallbackEvent {
			return
		}
		if msg, ok := h.incoming(payload.InnerEvent); ok {
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.dispatch(context.WithoutCancel(ctx), msg)
			}()
		}
	case socketmode.EventTypeConnecting:
		h.log.Info("connecting to slack")
	case socketmode.EventTypeConnected:
		h.log.Info("connected to slack")
	case socketmode.EventTypeConnectionError:
		h.log.Error("slack connection error", "data", evt.Data)
	}
}

func (h *Handler) incoming(inner slackevents.EventsAPIInnerEvent) (IncomingMessage, bool) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		return IncomingMessage{
			ThreadTS:  threadTS(ev.ThreadTimeStamp, ev.TimeStamp),
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Text:      h.stripMention(ev.Text),
		}, true

	case *slackevents.MessageEvent:
		// Channel messages arrive as mentions; only direct messages are
		// taken here, and never the bot's own.
		if ev.ChannelType != "im" || ev.BotID != "" || ev.SubType != "" {
			return IncomingMessage{}, false
		}
		return IncomingMessage{
			ThreadTS:  threadTS(ev.ThreadTimeStamp, ev.TimeStamp),
			ChannelID: ev.Channel,
			UserID:    ev.User,
			Text:      ev.Text,
			IsDM:      true,
		}, true
	}
	return IncomingMessage{}, false
}

func (h *Handler) dispatch(ctx context.Context, msg IncomingMessage) {
	key := msg.SessionKey()
	h.log.Info("incoming message",
		"session", key,
		"user", msg.UserID,
		"dm", msg.IsDM,
	)

	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	res, err := h.agent.Handle(ctx, key, msg.Text)
	if err != nil {
		h.log.Error("agent error", "session", key, "err", err)
		h.postReply(ctx, msg, failureReply)
		return
	}

	h.postReply(ctx, msg, res.FinalText)
	for i, plot := range res.Artifacts {
		h.uploadChart(ctx, msg, i+1, plot)
	}
}

func (h *Handler) postReply(ctx context.Context, msg IncomingMessage, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	_, _, err := h.client.PostMessageContext(ctx,
		msg.ChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(msg.ThreadTS),
	)
	if err != nil {
		h.log.Error("failed to post message", "session", msg.SessionKey(), "err", err)
	}
}

func (h *Handler) uploadChart(ctx context.Context, msg IncomingMessage, n int, uri string) {
	_, data, err := sandbox.DecodeDataURI(uri)
	if err != nil {
		h.log.Warn("skipping chart", "session", msg.SessionKey(), "err", err)
		return
	}
	name := fmt.Sprintf("chart-%d.png", n)
	_, err = h.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:         msg.ChannelID,
		ThreadTimestamp: msg.ThreadTS,
		Filename:        name,
		Title:           name,
		FileSize:        len(data),
		Reader:          bytes.NewReader(data),
	})
	if err != nil {
		h.log.Error("failed to upload chart", "session", msg.SessionKey(), "err", err)
	}
}

func (h *Handler) stripMention(text string) string {
	mention := "<@" + h.botID + ">"
	return strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
}

func threadTS(threadTS, msgTS string) string {
	if threadTS != "" {
		return threadTS
	}
	return msgTS
}
