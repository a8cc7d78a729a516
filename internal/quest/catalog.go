// Package quest defines the fixed quest task catalog and the answer
// validation rules. The catalog is immutable for the lifetime of the
// process: tasks are ordered by index and each task carries a minimum
// length floor plus one task-specific rule.
package quest

import "errors"

// ErrOutOfRange is returned when a task index is beyond the catalog.
// This indicates a wiring bug, not a participant mistake.
var ErrOutOfRange = errors.New("task index out of range")

// DefaultPuzzleAttempts is the total number of submissions the emoji
// puzzle allows before the answer key is shown and the participant is
// moved on anyway (one honest try plus one retry).
const DefaultPuzzleAttempts = 2

// Task is one fixed step of the quest.
type Task struct {
	Index  int
	Prompt string

	// Length is the minimum-length floor applied to every answer before
	// the task-specific rule runs.
	Length MinLength

	// Rule is the task-specific validation rule.
	Rule Rule
}

// Catalog holds the ordered task list.
type Catalog struct {
	tasks []Task
}

// Count returns the number of tasks in the catalog.
func (c *Catalog) Count() int {
	return len(c.tasks)
}

// TaskAt returns the task at the given 0-based index.
func (c *Catalog) TaskAt(index int) (Task, error) {
	if index < 0 || index >= len(c.tasks) {
		return Task{}, ErrOutOfRange
	}
	return c.tasks[index], nil
}

const tooShort = "Ваш ответ слишком короткий. Пожалуйста, напишите более развернутый ответ."

// puzzleCorrection is the canonical answer key shown after the puzzle
// is forgiven.
const puzzleCorrection = "Правильные ответы на 3 задание:\n" +
	"🤖🧠 - искусственный интеллект\n" +
	"🚗📖 - машинное обучение\n" +
	"🧠📶 - нейросеть\n" +
	"🖥️👁️ - компьютерное зрение"

// NewCatalog builds the six-task meetup quest. puzzleAttempts bounds the
// emoji puzzle submissions before forgiveness; values below 2 fall back
// to DefaultPuzzleAttempts.
func NewCatalog(puzzleAttempts int) *Catalog {
	if puzzleAttempts < 2 {
		puzzleAttempts = DefaultPuzzleAttempts
	}

	tasks := []Task{
		{
			Prompt: "*Первое задание:*\n\n" +
				"Познакомься с любым участником митапа и узнай, есть ли у вас общие интересы и хобби.\n" +
				"Пришли боту: «Я и (имя участника) вместе любим …».",
			Length: MinLength{N: 5, Reason: tooShort},
			Rule: RequiredTokens{
				AllOf: []string{"я", "и"},
				AllReason: "Пожалуйста, используйте формат: «Я и [имя] вместе любим [интерес]».\n" +
					"Например: «Я и Мария вместе любим pro ai».",
				AnyOf:     []string{"вместе", "любим"},
				AnyReason: "В вашем ответе должно быть упоминание общего интереса с другим участником.",
			},
		},
		{
			Prompt: "*Второе задание:*\n\n" +
				"Закончи фразу «На митапе PRO AI я хочу ….» и пришли в этот чат.\n" +
				"Это могут быть твои ожидания от митапа.",
			Length: MinLength{N: 5, Reason: tooShort},
			Rule:   MinLength{N: 10, Reason: "Пожалуйста, напишите более подробно о ваших ожиданиях от митапа."},
		},
		{
			Prompt: "*Третье задание:*\n\n" +
				"Расшифруй ИИ-понятия по эмодзи:\n" +
				"🤖🧠\n" +
				"🚗📖\n" +
				"🧠📶\n" +
				"🖥️👁️\n\n" +
				"Пришли ответы в сообщении.\n" +
				"Можно использовать разные разделители: запятые, точки, переносы строк, тире.\n" +
				"Порядок ответов не важен.",
			Length: MinLength{N: 5, Reason: tooShort},
			Rule: SetMatch{
				Targets: []Target{
					{Key: "🤖🧠", Variants: []string{
						"искусственный интеллект", "ии", "ai", "artificial intelligence",
						"искусственныйинтеллект",
					}},
					{Key: "🚗📖", Variants: []string{
						"машинное обучение", "ml", "machine learning",
						"машинноеобучение", "мл",
					}},
					{Key: "🧠📶", Variants: []string{
						"нейросеть", "нейронная сеть", "neural network", "nn",
						"нейросети", "нейронные сети",
					}},
					{Key: "🖥️👁️", Variants: []string{
						"компьютерное зрение", "cv", "computer vision",
						"компьютерноезрение",
					}},
				},
				MaxAttempts: puzzleAttempts,
				Correction:  puzzleCorrection,
			},
		},
		{
			Prompt: "*Четвертое задание:*\n\n" +
				"Передай привет любому участнику митапа, с которым успел пообщаться или познакомиться.\n" +
				"Напиши свое послание.",
			Length: MinLength{N: 5, Reason: tooShort},
			Rule: RequiredTokens{
				AnyOf: []string{"привет", "здравствуй", "приветствую", "здравствуйте", "hi", "hello"},
				AnyReason: "Это задание про передачу привета участнику митапа.\n" +
					"Напишите приветственное сообщение для кого-то из участников.",
			},
		},
		{
			Prompt: "*Пятое задание:*\n\n" +
				"Узнай у любого человека на митапе, каким неочевидным навыком он гордится\n" +
				"(например: «умеет собирать кубик-рубик за минуту»).\n" +
				"Пришли сюда имя человека и его навык.",
			Length: MinLength{N: 10, Reason: "Пожалуйста, напишите чуть подробнее про участника и его навык."},
			Rule:   NoOp{},
		},
		{
			Prompt: "*Шестое задание:*\n\n" +
				"У тебя есть любое приложение нейросети? Самое время воспользоваться!\n" +
				"Спроси у твоей любимой нейросети, что такое «Аугментация данных в ИИ простыми словами?»,\n" +
				"и отправь короткий ответ.",
			Length: MinLength{N: 10, Reason: "Пожалуйста, пришлите более развернутый ответ."},
			Rule:   NoOp{},
		},
	}

	for i := range tasks {
		tasks[i].Index = i
	}
	return &Catalog{tasks: tasks}
}
