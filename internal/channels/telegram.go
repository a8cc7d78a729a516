package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/meetquest/internal/bus"
	"github.com/basket/meetquest/internal/engine"
	"github.com/basket/meetquest/internal/export"
)

// Callback payloads for the inline quest buttons.
const (
	callbackJoinQuest  = "join_quest"
	callbackStartQuest = "start_quest"
)

// TelegramConfig holds the transport settings.
type TelegramConfig struct {
	Token          string
	AdminChatIDs   []int64
	AdminUsernames []string
	WelcomeImage   string
}

// TelegramChannel implements the Channel interface for Telegram.
type TelegramChannel struct {
	token          string
	adminIDs       map[int64]struct{}
	adminUsernames map[string]struct{}
	welcomeImage   string
	engine         *engine.Engine
	exporter       *export.Exporter
	eventBus       *bus.Bus
	logger         *slog.Logger
	bot            *tgbotapi.BotAPI
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(cfg TelegramConfig, eng *engine.Engine, exporter *export.Exporter, logger *slog.Logger, eventBus *bus.Bus) *TelegramChannel {
	adminIDs := make(map[int64]struct{})
	for _, id := range cfg.AdminChatIDs {
		adminIDs[id] = struct{}{}
	}
	adminUsernames := make(map[string]struct{})
	for _, name := range cfg.AdminUsernames {
		name = strings.ToLower(strings.TrimPrefix(name, "@"))
		if name != "" {
			adminUsernames[name] = struct{}{}
		}
	}
	return &TelegramChannel{
		token:          cfg.Token,
		adminIDs:       adminIDs,
		adminUsernames: adminUsernames,
		welcomeImage:   cfg.WelcomeImage,
		engine:         eng,
		exporter:       exporter,
		eventBus:       eventBus,
		logger:         logger,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	// Forward organizer-facing events in the background.
	go t.notifyAdmins(ctx)
	go t.watchCompletions(ctx)

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2x the long-poll timeout (stall detection).
// Returns nil on context cancellation, or an error to trigger reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// tgbotapi uses a 60s long-poll timeout. If we see nothing for 2.5 minutes,
	// the connection is likely dead (the library blocks rather than closing the channel).
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			// Reset stall timer on every received update (including empty long-poll returns).
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				t.handleMessage(ctx, update.Message)
				continue
			}
			if update.CallbackQuery != nil {
				t.handleCallbackQuery(ctx, update.CallbackQuery)
				continue
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func identityFrom(user *tgbotapi.User) engine.Identity {
	display := user.FirstName
	if display == "" {
		display = user.UserName
	}
	full := strings.TrimSpace(user.FirstName + " " + user.LastName)
	return engine.Identity{
		ID:          user.ID,
		DisplayName: display,
		FullName:    full,
		Handle:      user.UserName,
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	switch msg.Command() {
	case "start":
		t.handleStart(ctx, msg)
	case "export":
		t.handleExport(ctx, msg)
	case "help":
		t.handleHelp(ctx, msg)
	default:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		t.handleAnswer(ctx, msg, text)
	}
}

func (t *TelegramChannel) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	who := identityFrom(msg.From)
	out, err := t.engine.Start(ctx, who)
	if err != nil {
		t.logger.Error("start failed", "participant", who.ID, "error", err)
		t.reply(msg.Chat.ID, tryAgainText)
		return
	}

	switch out.Kind {
	case engine.OutcomeWelcome:
		t.sendWelcome(msg.Chat.ID, out.DisplayName)
	case engine.OutcomePrompt:
		t.replyMarkdownV2(msg.Chat.ID, resumeText(out.Prompt))
	case engine.OutcomeAlreadyCompleted:
		t.replyMarkdownV2(msg.Chat.ID, alreadyCompletedStartText(out.Ticket))
	}
}

func (t *TelegramChannel) sendWelcome(chatID int64, name string) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Присоединиться к квесту", callbackJoinQuest),
		),
	)
	text := welcomeText(name)

	if t.welcomeImage != "" {
		if _, err := os.Stat(t.welcomeImage); err == nil {
			photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(t.welcomeImage))
			photo.Caption = text
			photo.ParseMode = "MarkdownV2"
			photo.ReplyMarkup = keyboard
			if _, err := t.bot.Send(photo); err == nil {
				return
			}
			t.logger.Warn("welcome photo send failed, falling back to text")
		}
	}

	reply := tgbotapi.NewMessage(chatID, text)
	reply.ParseMode = "MarkdownV2"
	reply.ReplyMarkup = keyboard
	if _, err := t.bot.Send(reply); err != nil {
		t.logger.Error("failed to send welcome", "error", err)
	}
}

// handleCallbackQuery handles the inline join/begin buttons.
func (t *TelegramChannel) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil || query.Message == nil {
		return
	}
	ack := tgbotapi.NewCallback(query.ID, "")
	if _, err := t.bot.Request(ack); err != nil {
		t.logger.Warn("failed to ack callback", "error", err)
	}

	chatID := query.Message.Chat.ID
	switch query.Data {
	case callbackJoinQuest:
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Приступить к заданию 1", callbackStartQuest),
			),
		)
		reply := tgbotapi.NewMessage(chatID, questRulesText)
		reply.ParseMode = "MarkdownV2"
		reply.ReplyMarkup = keyboard
		if _, err := t.bot.Send(reply); err != nil {
			t.logger.Error("failed to send quest rules", "error", err)
		}

	case callbackStartQuest:
		out, err := t.engine.Begin(ctx, query.From.ID)
		if err != nil {
			t.logger.Error("begin failed", "participant", query.From.ID, "error", err)
			t.reply(chatID, tryAgainText)
			return
		}
		switch out.Kind {
		case engine.OutcomePrompt:
			t.replyMarkdown(chatID, out.Prompt)
		case engine.OutcomeAlreadyCompleted:
			t.replyMarkdownV2(chatID, alreadyCompletedStartText(out.Ticket))
		case engine.OutcomeNotStarted:
			t.reply(chatID, notStartedText)
		}
	}
}

func (t *TelegramChannel) handleAnswer(ctx context.Context, msg *tgbotapi.Message, text string) {
	chatID := msg.Chat.ID
	out, err := t.engine.Submit(ctx, msg.From.ID, text)
	if err != nil {
		t.logger.Error("submit failed", "participant", msg.From.ID, "error", err)
		t.reply(chatID, tryAgainText)
		return
	}

	switch out.Kind {
	case engine.OutcomeNotStarted:
		t.reply(chatID, notStartedText)

	case engine.OutcomeRejected:
		t.replyMarkdownV2(chatID, rejectedText(out.Reason))

	case engine.OutcomeRetry:
		t.reply(chatID, retryText(out.Missing))

	case engine.OutcomePrompt:
		// TaskIndex is the next task, so the recorded one is TaskIndex-1
		// and its human-facing number is TaskIndex.
		t.replyMarkdownV2(chatID, answerRecordedText(out.TaskIndex))
		t.replyMarkdown(chatID, out.Prompt)

	case engine.OutcomeCorrection:
		t.reply(chatID, puzzleForgivenText)
		t.reply(chatID, out.Correction)
		t.replyMarkdownV2(chatID, answerRecordedText(out.TaskIndex))
		t.replyMarkdown(chatID, out.Prompt)

	case engine.OutcomeCompleted:
		if out.Correction != "" {
			t.reply(chatID, puzzleForgivenText)
			t.reply(chatID, out.Correction)
		}
		t.replyMarkdownV2(chatID, answerRecordedText(out.TaskIndex+1))
		t.replyMarkdownV2(chatID, completionText(out.Ticket))

	case engine.OutcomeAlreadyCompleted:
		t.reply(chatID, alreadyCompletedText(out.Ticket))

	case engine.OutcomePoolExhausted:
		t.reply(chatID, poolExhaustedText)
	}
}

func (t *TelegramChannel) handleExport(ctx context.Context, msg *tgbotapi.Message) {
	if !t.isAdmin(msg.From.ID, msg.From.UserName) {
		t.replyMarkdownV2(msg.Chat.ID, "Доступ запрещен\\. Эта команда доступна только организаторам\\.")
		return
	}

	rows, err := t.exporter.Refresh(ctx)
	if err != nil {
		t.logger.Error("export refresh failed", "error", err)
		t.replyMarkdownV2(msg.Chat.ID, "Ошибка при подготовке выгрузки: "+escapeMarkdownV2(err.Error()))
		return
	}
	if rows == 0 {
		t.replyMarkdownV2(msg.Chat.ID, "*Выгрузка пока недоступна\\.*\n\nУчастников еще нет\\.")
		return
	}

	csvDoc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FilePath(t.exporter.CSVPath()))
	csvDoc.Caption = "*Выгрузка участников розыгрыша \\(CSV\\)*"
	csvDoc.ParseMode = "MarkdownV2"
	if _, err := t.bot.Send(csvDoc); err != nil {
		t.logger.Error("failed to send csv export", "error", err)
	}

	txtDoc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FilePath(t.exporter.TXTPath()))
	txtDoc.Caption = "Имя;ник;номер в розыгрыше"
	if _, err := t.bot.Send(txtDoc); err != nil {
		t.logger.Error("failed to send txt export", "error", err)
	}
}

func (t *TelegramChannel) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.CommandArguments())
	if text == "" {
		t.reply(msg.Chat.ID, "Напишите вопрос после команды, например: /help не приходит задание")
		return
	}

	who := identityFrom(msg.From)
	if _, err := t.engine.Help(ctx, who, text); err != nil {
		t.logger.Error("help request failed", "participant", who.ID, "error", err)
		t.reply(msg.Chat.ID, tryAgainText)
		return
	}
	t.reply(msg.Chat.ID, "Запрос передан организаторам. С вами свяжутся в ближайшее время.")
}

// notifyAdmins forwards help requests and pool exhaustion to every
// admin chat.
func (t *TelegramChannel) notifyAdmins(ctx context.Context) {
	if t.eventBus == nil || len(t.adminIDs) == 0 {
		return
	}
	helpSub := t.eventBus.Subscribe(bus.TopicHelpRequested)
	raffleSub := t.eventBus.Subscribe(bus.TopicRaffleExhausted)
	defer t.eventBus.Unsubscribe(helpSub)
	defer t.eventBus.Unsubscribe(raffleSub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-helpSub.Ch():
			payload, ok := ev.Payload.(bus.HelpRequestedEvent)
			if !ok {
				continue
			}
			text := helpNotificationText(payload)
			for chatID := range t.adminIDs {
				t.reply(chatID, text)
			}
		case ev := <-raffleSub.Ch():
			payload, ok := ev.Payload.(bus.RaffleExhaustedEvent)
			if !ok {
				continue
			}
			text := fmt.Sprintf("Номера для розыгрыша закончились (лимит %d). Участник %d остался без номера.",
				payload.MaxTickets, payload.ParticipantID)
			for chatID := range t.adminIDs {
				t.reply(chatID, text)
			}
		}
	}
}

// watchCompletions regenerates the raffle tables after every completion
// and tells the admin chats who finished.
func (t *TelegramChannel) watchCompletions(ctx context.Context) {
	if t.eventBus == nil {
		return
	}
	sub := t.eventBus.Subscribe(bus.TopicQuestCompleted)
	defer t.eventBus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Ch():
			payload, ok := ev.Payload.(bus.QuestCompletedEvent)
			if !ok {
				continue
			}
			if _, err := t.exporter.Refresh(ctx); err != nil {
				t.logger.Error("raffle table refresh failed", "error", err)
			}
			if len(t.adminIDs) == 0 {
				continue
			}
			text := fmt.Sprintf("Участник %s завершил квест. Номер в розыгрыше: %d.",
				payload.DisplayName, payload.Ticket)
			for chatID := range t.adminIDs {
				t.reply(chatID, text)
			}
		}
	}
}

func (t *TelegramChannel) isAdmin(userID int64, username string) bool {
	if _, ok := t.adminIDs[userID]; ok {
		return true
	}
	_, ok := t.adminUsernames[strings.ToLower(username)]
	return ok
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

// replyMarkdown sends with legacy Markdown, which the task prompts use.
func (t *TelegramChannel) replyMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram markdown reply", "error", err)
	}
}

func (t *TelegramChannel) replyMarkdownV2(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram markdown reply", "error", err)
	}
}
