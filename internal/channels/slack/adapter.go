// Package slack connects the gateway to Slack over Socket Mode. It
// normalizes mentions, DMs and file shares into InboundEvents and
// implements the outbound platform surface (post, update, upload) plus
// thread history retrieval.
package slack

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aidalabs/aida/internal/channels"
	"github.com/aidalabs/aida/internal/contextmgr"
	"github.com/aidalabs/aida/pkg/models"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// deepThinkPrefix marks an explicit deep-analysis command.
const deepThinkPrefix = "+think"

// Config holds the Slack credentials.
type Config struct {
	BotToken string
	AppToken string
}

// Adapter is the Slack Socket Mode connection.
type Adapter struct {
	cfg     Config
	client  *slack.Client
	socket  *socketmode.Client
	handler channels.Handler
	logger  *slog.Logger

	status   channels.Status
	statusMu sync.RWMutex

	botUserID   string
	botUserIDMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates a Slack adapter delivering events to handler.
func NewAdapter(cfg Config, handler channels.Handler, logger *slog.Logger) *Adapter {
	client := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
	)
	return &Adapter{
		cfg:     cfg,
		client:  client,
		socket:  socketmode.New(client, socketmode.OptionDebug(false)),
		handler: handler,
		logger:  logger,
	}
}

// Start authenticates, then runs the Socket Mode connection and event
// loop in background goroutines.
func (a *Adapter) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	authResp, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	a.botUserIDMu.Lock()
	a.botUserID = authResp.UserID
	a.botUserIDMu.Unlock()
	a.logger.Info("slack adapter started", "bot_user_id", authResp.UserID)

	a.wg.Add(1)
	go a.eventLoop()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.socket.RunContext(a.ctx); err != nil && a.ctx.Err() == nil {
			a.logger.Error("socket mode terminated", "error", err)
			a.updateStatus(false, err.Error())
		}
	}()

	a.updateStatus(true, "")
	return nil
}

// Stop shuts the connection down.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.updateStatus(false, "")
		return nil
	case <-ctx.Done():
		a.updateStatus(false, "shutdown timeout")
		return ctx.Err()
	}
}

// Status reports connection health.
func (a *Adapter) Status() channels.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

func (a *Adapter) updateStatus(connected bool, errMsg string) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.Connected = connected
	a.status.Error = errMsg
	if connected {
		a.status.LastPing = time.Now().Unix()
	}
}

func (a *Adapter) eventLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case event, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.statusMu.Lock()
			a.status.LastPing = time.Now().Unix()
			a.statusMu.Unlock()

			switch event.Type {
			case socketmode.EventTypeConnecting:
				a.logger.Debug("connecting to socket mode")
			case socketmode.EventTypeConnectionError:
				a.logger.Warn("socket mode connection error", "data", event.Data)
				a.updateStatus(false, "connection error")
			case socketmode.EventTypeConnected:
				a.logger.Info("connected to socket mode")
				a.updateStatus(true, "")
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				a.socket.Ack(*event.Request)
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		a.logger.Warn("unexpected events api payload", "data", event.Data)
		if event.Request != nil {
			a.socket.Ack(*event.Request)
		}
		return
	}
	// Ack before processing; Slack redelivers unacked events and the
	// dedup set downstream absorbs any overlap.
	a.socket.Ack(*event.Request)

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.dispatch(&slackevents.MessageEvent{
			Type:            ev.Type,
			User:            ev.User,
			Text:            ev.Text,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
			Channel:         ev.Channel,
		})
	case *slackevents.MessageEvent:
		a.handleMessage(ev)
	}
}

// handleMessage filters message events down to the ones the bot should
// answer: DMs, explicit mentions, and thread replies in conversations
// it is part of. Everything the bot itself posts is ignored.
func (a *Adapter) handleMessage(event *slackevents.MessageEvent) {
	if event.BotID != "" || event.SubType == "bot_message" {
		return
	}
	// File shares arrive with a subtype; other subtypes (edits, joins)
	// are not conversational input.
	if event.SubType != "" && event.SubType != "file_share" {
		return
	}

	a.botUserIDMu.RLock()
	botUserID := a.botUserID
	a.botUserIDMu.RUnlock()
	if event.User == botUserID {
		return
	}

	isDM := strings.HasPrefix(event.Channel, "D")
	isMention := strings.Contains(event.Text, "<@"+botUserID+">")
	if !isDM && !isMention && event.ThreadTimeStamp == "" {
		return
	}

	a.dispatch(event)
}

func (a *Adapter) dispatch(event *slackevents.MessageEvent) {
	inbound := a.normalize(event)
	if inbound.Text == "" && len(inbound.Attachments) == 0 {
		return
	}
	a.handler(a.ctx, inbound)
}

// normalize converts a Slack message event into the gateway's inbound
// shape: mentions stripped, deep-think command detected, files
// classified, image links extracted.
func (a *Adapter) normalize(event *slackevents.MessageEvent) *models.InboundEvent {
	text := stripMentions(event.Text)

	deepThink := false
	if strings.HasPrefix(strings.ToLower(text), deepThinkPrefix) {
		deepThink = true
		text = strings.TrimSpace(text[len(deepThinkPrefix):])
	}

	inbound := &models.InboundEvent{
		Channel:    event.Channel,
		User:       event.User,
		Text:       text,
		TS:         event.TimeStamp,
		ThreadTS:   event.ThreadTimeStamp,
		IsDM:       strings.HasPrefix(event.Channel, "D"),
		DeepThink:  deepThink,
		ImageURLs:  extractImageURLs(text),
		ReceivedAt: time.Now(),
	}

	files := event.Files
	if len(files) == 0 && event.Message != nil {
		files = event.Message.Files
	}
	for _, file := range files {
		inbound.Attachments = append(inbound.Attachments, models.Attachment{
			ID:       file.ID,
			Name:     file.Name,
			Mimetype: file.Mimetype,
			URL:      file.URLPrivateDownload,
			Size:     int64(file.Size),
			Kind:     classifyMimetype(file.Mimetype),
		})
	}
	return inbound
}

// PostMessage posts text into the channel, threaded when threadTS is
// set. Returns the timestamp of the new message.
func (a *Adapter) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := a.client.PostMessageContext(ctx, channel, options...)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	return ts, nil
}

// UpdateMessage edits a previously posted message in place.
func (a *Adapter) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	_, _, _, err := a.client.UpdateMessageContext(ctx, channel, ts, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

// UploadFile uploads a file into the channel thread.
func (a *Adapter) UploadFile(ctx context.Context, channel, threadTS, filename, title string, data []byte) error {
	_, err := a.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:         channel,
		ThreadTimestamp: threadTS,
		Filename:        filename,
		Title:           title,
		Reader:          bytes.NewReader(data),
		FileSize:        len(data),
	})
	if err != nil {
		return fmt.Errorf("upload file: %w", err)
	}
	return nil
}

// ThreadReplies fetches prior messages of a thread for context
// assembly.
func (a *Adapter) ThreadReplies(ctx context.Context, channel, threadTS string, limit int) ([]contextmgr.ThreadMessage, error) {
	msgs, _, _, err := a.client.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("thread replies: %w", err)
	}

	out := make([]contextmgr.ThreadMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, contextmgr.ThreadMessage{
			User:  msg.User,
			BotID: msg.BotID,
			Text:  stripMentions(msg.Text),
		})
	}
	return out, nil
}
