package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"homevoice/pkg/channel"
	"homevoice/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const (
	channelName = "telegram"

	// Telegram clears a chat action after about five seconds.
	chatActionRefresh = 4 * time.Second
	previewRunes      = 120
)

// defaultVoiceMimeType is what Telegram voice notes are recorded as.
const defaultVoiceMimeType = "audio/ogg"

const (
	replyStart       = "Send a command as text or voice 🎤"
	replyUnsupported = "Only text and voice are supported 🎤"
	replyUnknown     = "Unknown sender"
)

// downloader fetches the bytes of a Telegram file by ID.
type downloader interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
}

type botDownloader struct {
	bot *telego.Bot
}

func (d botDownloader) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := d.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}

	data, err := tu.DownloadFile(d.bot.FileDownloadURL(file.FilePath))
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}

	return data, nil
}

// Adapter bridges Telegram updates into inbound command messages.
type Adapter struct {
	cfg     config.TelegramConfig
	senders allowList
	log     *slog.Logger

	mu  sync.RWMutex
	bot *telego.Bot
}

// NewAdapter checks cfg and builds an adapter. The bot connects in Run.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:     cfg,
		senders: newAllowList(cfg.AllowFrom),
		log:     log.With("component", "channel.telegram"),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and forwards commands through handler.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.setBot(bot)
	defer a.setBot(nil)

	a.log.Info("Telegram channel started")

	files := botDownloader{bot: bot}
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			message := update.Message
			if message == nil {
				continue
			}

			stopBusy := a.showBusy(ctx, bot, message.Chat.ID)
			reply := a.handleMessage(ctx, files, handler, message)
			stopBusy()

			if reply == "" {
				continue
			}
			a.log.Info("Replying", "chat_id", message.Chat.ID, "content", preview(reply))

			if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(message.Chat.ID), reply)); err != nil {
				a.log.Error("Reply failed", "chat_id", message.Chat.ID, "error", err)
			}
		}
	}
}

// handleMessage turns one Telegram message into an inbound command and
// returns the reply text, or "" when nothing should be sent.
func (a *Adapter) handleMessage(ctx context.Context, files downloader, handler channel.Handler, message *telego.Message) string {
	if message.From == nil {
		return ""
	}

	text := strings.TrimSpace(message.Text)
	if text == "/start" {
		return replyStart
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senders.permits(senderID) {
		a.log.Warn("Sender not in allow_from", "sender_id", senderID)
		return replyUnknown
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	inbound := channel.InboundMessage{
		Channel:  channelName,
		SenderID: senderID,
		ChatID:   chatID,
		Metadata: map[string]string{
			"telegram_message_id": strconv.Itoa(message.MessageID),
		},
	}

	fileID, mimeType := attachment(message)
	switch {
	case fileID != "":
		audio, err := files.Download(ctx, fileID)
		if err != nil {
			a.log.Error("Failed to download attachment", "chat_id", chatID, "error", err)
			return "Could not download the voice message, please try again"
		}
		inbound.Audio = audio
		inbound.MimeType = mimeType
		a.log.Info("Received voice command", "chat_id", chatID, "sender_id", senderID, "mime_type", mimeType, "bytes", len(audio))
	case text != "":
		inbound.Text = text
		a.log.Info("Received text command", "chat_id", chatID, "sender_id", senderID, "content", preview(text))
	default:
		return replyUnsupported
	}

	outbound, err := handler(ctx, inbound)
	if reply := strings.TrimSpace(outbound.Content); reply != "" {
		return reply
	}
	if reply := strings.TrimSpace(outbound.Error); reply != "" {
		return reply
	}
	if err != nil {
		a.log.Error("Command handoff failed", "chat_id", chatID, "error", err)
		return err.Error()
	}
	return ""
}

// Notify sends text to chatID through the running bot.
func (a *Adapter) Notify(ctx context.Context, chatID string, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()
	if bot == nil {
		return errors.New("telegram channel is not running")
	}

	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(id), text)); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

func (a *Adapter) setBot(bot *telego.Bot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bot = bot
}

// attachment returns the file ID and mime type of a voice note or audio file.
func attachment(message *telego.Message) (string, string) {
	switch {
	case message.Voice != nil:
		return message.Voice.FileID, mimeOrDefault(message.Voice.MimeType)
	case message.Audio != nil:
		return message.Audio.FileID, mimeOrDefault(message.Audio.MimeType)
	default:
		return "", ""
	}
}

func mimeOrDefault(mimeType string) string {
	if trimmed := strings.TrimSpace(mimeType); trimmed != "" {
		return trimmed
	}
	return defaultVoiceMimeType
}

// allowList holds the sender IDs permitted to send commands. A nil list
// permits everyone.
type allowList map[string]struct{}

func newAllowList(ids []string) allowList {
	var list allowList
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if list == nil {
			list = make(allowList, len(ids))
		}
		list[id] = struct{}{}
	}
	return list
}

func (l allowList) permits(senderID string) bool {
	if l == nil {
		return true
	}
	_, ok := l[strings.TrimSpace(senderID)]
	return ok
}

// preview shortens text for logs without splitting a UTF-8 sequence.
func preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "…"
}

// showBusy keeps a typing action visible in chatID until stop is called.
// stop waits for the refresh goroutine to exit.
func (a *Adapter) showBusy(ctx context.Context, bot *telego.Bot, chatID int64) (stop func()) {
	busyCtx, cancel := context.WithCancel(ctx)
	params := tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if err := bot.SendChatAction(busyCtx, params); err != nil && busyCtx.Err() == nil {
				a.log.Debug("Chat action failed", "chat_id", chatID, "error", err)
			}
			select {
			case <-busyCtx.Done():
				return
			case <-time.After(chatActionRefresh):
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
