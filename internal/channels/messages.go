package channels

import (
	"fmt"
	"strings"

	"github.com/basket/meetquest/internal/bus"
)

const questRulesText = "*Что нужно сделать:*\n\n" +
	"• Выполнить *6 заданий* в боте\n" +
	"• Успеть до *17:30*\n" +
	"• В конце квеста ты получишь *номер для участия в розыгрыше*\n\n" +
	"Задания нетрудные: предстоит приятный нетворкинг и пару интересных задачек\\!\n\n" +
	"*Готов начать?*"

const notStartedText = "Для участия в квесте используй команду /start."

const tryAgainText = "Что-то пошло не так. Попробуйте ещё раз чуть позже."

const puzzleForgivenText = "Немного не совпало, но ничего страшного — это было непростое задание.\n\n" +
	"Вот правильные ответы:"

const poolExhaustedText = "К сожалению, номера для розыгрыша закончились.\n\n" +
	"Твой последний ответ сохранён — обратись к организаторам на стойке регистрации."

func welcomeText(name string) string {
	return fmt.Sprintf("*Привет, %s*\\!\n\n"+
		"*Рады видеть тебя на Большом митапе PRO AI\\!*\n\n"+
		"Для участия в розыгрыше призов присоединяйся к квесту\\. "+
		"Это займет всего несколько минут, и ты сможешь выиграть крутые призы\\!",
		escapeMarkdownV2(name))
}

func resumeText(prompt string) string {
	return fmt.Sprintf("*Вы уже начали проходить квест\\.*\n\n"+
		"Текущее задание:\n\n%s\n\n"+
		"Продолжайте выполнять задания\\.",
		escapeMarkdownV2(prompt))
}

func alreadyCompletedStartText(ticket int) string {
	return fmt.Sprintf("*Вы уже завершили квест\\!*\n\nВаш номер для розыгрыша: *%d*", ticket)
}

func alreadyCompletedText(ticket int) string {
	return fmt.Sprintf("Квест завершён, ты молодец!\n\n"+
		"Все 6 заданий выполнены\n\n"+
		"Твой номер для розыгрыша: %d", ticket)
}

func rejectedText(reason string) string {
	return escapeMarkdownV2(reason) + "\n\nПопробуйте еще раз\\!"
}

func retryText(missing []string) string {
	if len(missing) == 0 {
		return "Ответ пока не выглядит полным.\n\n" +
			"Попробуй ещё раз — у тебя есть ещё одна попытка."
	}
	return fmt.Sprintf("Не все ответы совпали.\n\n"+
		"Ты пока не расшифровал: %s.\n\n"+
		"Попробуй ещё раз — у тебя есть ещё одна попытка.",
		strings.Join(missing, ", "))
}

func answerRecordedText(taskNumber int) string {
	return fmt.Sprintf("*Отлично\\!* Ответ на задание *%d* зафиксирован\\.\n\n"+
		"Переходим дальше\\.\\.\\.", taskNumber)
}

func completionText(ticket int) string {
	return fmt.Sprintf("*Квест пройден, поздравляем\\!*\n\n"+
		"*Твой номер для розыгрыша: %d*\n\n"+
		"Сохрани этот номер\\! Он понадобится для участия в розыгрыше призов\\.\n\n"+
		"Розыгрыш состоится в *18:00* на основной сцене\\.\n\n"+
		"Жди объявления результатов\\! Удачи\\!", ticket)
}

func helpNotificationText(ev bus.HelpRequestedEvent) string {
	handle := ""
	if ev.Handle != "" {
		handle = " (@" + ev.Handle + ")"
	}
	return fmt.Sprintf("Запрос помощи от %s%s [%d]:\n\n%s\n\nid запроса: %s",
		ev.DisplayName, handle, ev.ParticipantID, ev.Message, ev.RequestID)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
// Must escape: _ * [ ] ( ) ~ > # + - = | { } . !
func escapeMarkdownV2(s string) string {
	const specialChars = "_*[]()~>#+-=|{}.!"

	result := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(specialChars, c) >= 0 {
			result = append(result, '\\')
		}
		result = append(result, c)
	}
	return string(result)
}
