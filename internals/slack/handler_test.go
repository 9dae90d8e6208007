package slack

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jadenj13/analyst/internals/conversation"
)

type fakeAnswerer struct {
	HandleFn func(ctx context.Context, key, text string) (conversation.Result, error)
}

func (f fakeAnswerer) Handle(ctx context.Context, key, text string) (conversation.Result, error) {
	return f.HandleFn(ctx, key, text)
}

type fakePoster struct {
	mu      sync.Mutex
	posts   int
	uploads []slack.UploadFileV2Parameters
	postErr error
}

func (f *fakePoster) PostMessageContext(_ context.Context, _ string, _ ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	return "C1", "1.0", f.postErr
}

func (f *fakePoster) UploadFileV2Context(_ context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, params)
	return &slack.FileSummary{ID: "F1"}, nil
}

func newTestHandler(a Answerer, p *fakePoster) *Handler {
	return &Handler{
		client: p,
		botID:  "UBOT",
		agent:  a,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestIncoming(t *testing.T) {
	h := newTestHandler(nil, &fakePoster{})

	tests := []struct {
		name   string
		inner  any
		wantOK bool
		want   IncomingMessage
	}{
		{
			name:   "mention starts a thread",
			inner:  &slackevents.AppMentionEvent{Channel: "C1", User: "U1", Text: "<@UBOT> revenue by day?", TimeStamp: "111.1"},
			wantOK: true,
			want:   IncomingMessage{ThreadTS: "111.1", ChannelID: "C1", UserID: "U1", Text: "revenue by day?"},
		},
		{
			name:   "mention inside a thread",
			inner:  &slackevents.AppMentionEvent{Channel: "C1", User: "U1", Text: "and by week <@UBOT>", TimeStamp: "222.2", ThreadTimeStamp: "111.1"},
			wantOK: true,
			want:   IncomingMessage{ThreadTS: "111.1", ChannelID: "C1", UserID: "U1", Text: "and by week"},
		},
		{
			name:   "direct message",
			inner:  &slackevents.MessageEvent{Channel: "D1", ChannelType: "im", User: "U1", Text: "hi", TimeStamp: "333.3"},
			wantOK: true,
			want:   IncomingMessage{ThreadTS: "333.3", ChannelID: "D1", UserID: "U1", Text: "hi", IsDM: true},
		},
		{
			name:  "bot message",
			inner: &slackevents.MessageEvent{Channel: "D1", ChannelType: "im", BotID: "B1", Text: "echo"},
		},
		{
			name:  "channel message",
			inner: &slackevents.MessageEvent{Channel: "C1", ChannelType: "channel", User: "U1", Text: "<@UBOT> hi"},
		},
		{
			name:  "edited message",
			inner: &slackevents.MessageEvent{Channel: "D1", ChannelType: "im", SubType: "message_changed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := h.incoming(slackevents.EventsAPIInnerEvent{Data: tt.inner})
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSessionKey(t *testing.T) {
	msg := IncomingMessage{ChannelID: "C1", ThreadTS: "111.1"}
	assert.Equal(t, "slack:C1:111.1", msg.SessionKey())
}

func TestDispatchPostsAnswerAndCharts(t *testing.T) {
	var gotKey, gotText string
	p := &fakePoster{}
	h := newTestHandler(fakeAnswerer{HandleFn: func(_ context.Context, key, text string) (conversation.Result, error) {
		gotKey, gotText = key, text
		return conversation.Result{
			FinalText: "## Revenue",
			Artifacts: []string{"data:image/png;base64,aGVsbG8=", "not-a-uri"},
		}, nil
	}}, p)

	h.dispatch(context.Background(), IncomingMessage{ChannelID: "C1", ThreadTS: "111.1", Text: "revenue?"})

	assert.Equal(t, "slack:C1:111.1", gotKey)
	assert.Equal(t, "revenue?", gotText)
	assert.Equal(t, 1, p.posts)
	require.Len(t, p.uploads, 1)
	up := p.uploads[0]
	assert.Equal(t, "C1", up.Channel)
	assert.Equal(t, "111.1", up.ThreadTimestamp)
	assert.Equal(t, "chart-1.png", up.Filename)
	assert.Equal(t, 5, up.FileSize)
}

func TestDispatchFailure(t *testing.T) {
	p := &fakePoster{}
	h := newTestHandler(fakeAnswerer{HandleFn: func(context.Context, string, string) (conversation.Result, error) {
		return conversation.Result{}, errors.New("boom")
	}}, p)

	h.dispatch(context.Background(), IncomingMessage{ChannelID: "C1", ThreadTS: "1", Text: "q"})
	assert.Equal(t, 1, p.posts)
	assert.Empty(t, p.uploads)
}

func TestDispatchIgnoresEmptyText(t *testing.T) {
	called := false
	p := &fakePoster{}
	h := newTestHandler(fakeAnswerer{HandleFn: func(context.Context, string, string) (conversation.Result, error) {
		called = true
		return conversation.Result{}, nil
	}}, p)

	h.dispatch(context.Background(), IncomingMessage{ChannelID: "C1", ThreadTS: "1", Text: "  "})
	assert.False(t, called)
	assert.Zero(t, p.posts)
}
