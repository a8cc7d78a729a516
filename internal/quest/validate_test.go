package quest_test

import (
	"errors"
	"testing"

	"github.com/basket/meetquest/internal/quest"
)

func TestCatalog_CountAndBounds(t *testing.T) {
	c := quest.NewCatalog(0)
	if c.Count() != 6 {
		t.Fatalf("Count() = %d, want 6", c.Count())
	}

	for i := 0; i < c.Count(); i++ {
		task, err := c.TaskAt(i)
		if err != nil {
			t.Fatalf("TaskAt(%d): %v", i, err)
		}
		if task.Index != i {
			t.Fatalf("TaskAt(%d).Index = %d, want %d", i, task.Index, i)
		}
		if task.Prompt == "" {
			t.Fatalf("TaskAt(%d) has empty prompt", i)
		}
	}

	if _, err := c.TaskAt(6); !errors.Is(err, quest.ErrOutOfRange) {
		t.Fatalf("TaskAt(6) err = %v, want ErrOutOfRange", err)
	}
	if _, err := c.TaskAt(-1); !errors.Is(err, quest.ErrOutOfRange) {
		t.Fatalf("TaskAt(-1) err = %v, want ErrOutOfRange", err)
	}

	if _, err := c.Validate(6, "что угодно", 0); !errors.Is(err, quest.ErrOutOfRange) {
		t.Fatalf("Validate(6) err = %v, want ErrOutOfRange", err)
	}
}

func TestValidate_LengthFloor(t *testing.T) {
	c := quest.NewCatalog(0)

	v, err := c.Validate(0, "  ок ", 0)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictRejected {
		t.Fatalf("short answer verdict = %q, want REJECTED", v.Kind)
	}
	if v.Reason == "" {
		t.Fatal("rejection carries no reason text")
	}
}

func TestValidate_RequiredTokens(t *testing.T) {
	c := quest.NewCatalog(0)

	cases := []struct {
		name   string
		index  int
		answer string
		want   quest.VerdictKind
	}{
		{"intro full phrase", 0, "Я и Аня вместе любим кофе", quest.VerdictAccepted},
		{"intro missing shared interest", 0, "Я и Пётр знакомы давно", quest.VerdictRejected},
		{"intro case insensitive", 0, "я И мария ВМЕСТЕ рисуем", quest.VerdictAccepted},
		{"greeting with privet", 3, "Привет, Саша!", quest.VerdictAccepted},
		{"greeting english hello", 3, "hello Dima, рад знакомству", quest.VerdictAccepted},
		{"greeting without greeting word", 3, "Саша, ты классный спикер", quest.VerdictRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := c.Validate(tc.index, tc.answer, 0)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if v.Kind != tc.want {
				t.Fatalf("verdict = %q, want %q (reason %q)", v.Kind, tc.want, v.Reason)
			}
			if v.Kind == quest.VerdictRejected && v.Reason == "" {
				t.Fatal("rejection carries no reason text")
			}
		})
	}
}

func TestValidate_ElaborationTasks(t *testing.T) {
	c := quest.NewCatalog(0)

	for _, index := range []int{1, 4, 5} {
		v, err := c.Validate(index, "коротко", 0)
		if err != nil {
			t.Fatalf("Validate(%d): %v", index, err)
		}
		if v.Kind != quest.VerdictRejected {
			t.Fatalf("task %d short verdict = %q, want REJECTED", index, v.Kind)
		}

		v, err = c.Validate(index, "На митапе я хочу получить новые знакомства и идеи", 0)
		if err != nil {
			t.Fatalf("Validate(%d): %v", index, err)
		}
		if v.Kind != quest.VerdictAccepted {
			t.Fatalf("task %d long verdict = %q, want ACCEPTED", index, v.Kind)
		}
	}
}

func TestValidate_PuzzleAllConceptsViaAbbreviations(t *testing.T) {
	c := quest.NewCatalog(0)

	v, err := c.Validate(2, "ии, мл, нейросеть, cv", 0)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictAccepted {
		t.Fatalf("verdict = %q, want ACCEPTED (missing %v)", v.Kind, v.Missing)
	}
}

func TestValidate_PuzzleSeparatorNormalization(t *testing.T) {
	c := quest.NewCatalog(0)

	answer := "Искусственный интеллект - машинное обучение;\nнейронная сеть:\tcomputer vision."
	v, err := c.Validate(2, answer, 0)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictAccepted {
		t.Fatalf("verdict = %q, want ACCEPTED (missing %v)", v.Kind, v.Missing)
	}
}

func TestValidate_PuzzleMissingOneConcept(t *testing.T) {
	c := quest.NewCatalog(0)

	// Everything except computer vision.
	v, err := c.Validate(2, "ии, машинное обучение, нейросеть", 0)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictPartialRetry {
		t.Fatalf("verdict = %q, want PARTIAL_RETRY", v.Kind)
	}
	if len(v.Missing) != 1 || v.Missing[0] != "🖥️👁️" {
		t.Fatalf("Missing = %v, want exactly the vision key", v.Missing)
	}
	if v.AttemptsLeft != 1 {
		t.Fatalf("AttemptsLeft = %d, want 1", v.AttemptsLeft)
	}
}

func TestValidate_PuzzleNothingMatched(t *testing.T) {
	c := quest.NewCatalog(0)

	v, err := c.Validate(2, "понятия не имею, что это", 0)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictPartialRetry {
		t.Fatalf("verdict = %q, want PARTIAL_RETRY", v.Kind)
	}
	if len(v.Missing) != 4 {
		t.Fatalf("Missing = %v, want all four keys", v.Missing)
	}
}

func TestValidate_PuzzleForgivenOnSecondFailure(t *testing.T) {
	c := quest.NewCatalog(0)

	v, err := c.Validate(2, "всё ещё не знаю ответа", 1)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictAcceptedWithCorrection {
		t.Fatalf("verdict = %q, want ACCEPTED_WITH_CORRECTION", v.Kind)
	}
	if v.Correction == "" {
		t.Fatal("correction carries no answer key")
	}
}

func TestValidate_PuzzleAttemptBudgetConfigurable(t *testing.T) {
	c := quest.NewCatalog(3)

	v, err := c.Validate(2, "не знаю ответа на это", 1)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictPartialRetry {
		t.Fatalf("second failure with budget 3: verdict = %q, want PARTIAL_RETRY", v.Kind)
	}
	if v.AttemptsLeft != 1 {
		t.Fatalf("AttemptsLeft = %d, want 1", v.AttemptsLeft)
	}

	v, err = c.Validate(2, "не знаю ответа на это", 2)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictAcceptedWithCorrection {
		t.Fatalf("third failure with budget 3: verdict = %q, want ACCEPTED_WITH_CORRECTION", v.Kind)
	}
}

func TestValidate_PuzzleCorrectAnswerIgnoresAttempts(t *testing.T) {
	c := quest.NewCatalog(0)

	v, err := c.Validate(2, "ии, мл, нейросеть, cv", 5)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v.Kind != quest.VerdictAccepted {
		t.Fatalf("verdict = %q, want ACCEPTED regardless of attempt count", v.Kind)
	}
}
