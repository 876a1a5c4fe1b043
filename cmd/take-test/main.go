// Command take-test runs one timed test in the terminal against the
// Assessment Repository configured in the environment.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/stemsi/olpm-engine/internal/config"
	"github.com/stemsi/olpm-engine/internal/engine"
	"github.com/stemsi/olpm-engine/internal/logger"
	"github.com/stemsi/olpm-engine/internal/model"
	"github.com/stemsi/olpm-engine/internal/repository"
)

const usage = `Commands:
  <question number> <A-D>   answer a question, e.g. "3 B"
  list                      show questions and your answers
  pause | resume            freeze or restart the countdown
  submit                    send your answers
  exit                      leave without submitting`

func main() {
	cfg := config.Load()
	// Engine logs go to stderr so they do not interleave with the prompt.
	log := logger.New(os.Stderr, "warn", "pretty")

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("=== OLPM Timed Test ===")

	// Link
	fmt.Print("Enter test link: ")
	link, _ := reader.ReadString('\n')
	link = strings.TrimSpace(link)
	if link == "" {
		fmt.Println("Error: link is required")
		return
	}

	// Token
	token := cfg.APIToken
	if token == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print("Enter access token: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Println("Error reading token")
			return
		}
		token = strings.TrimSpace(string(raw))
	}

	repo := repository.NewAssessmentRepository(cfg.RepositoryURL, token, cfg.RequestTimeout)
	eng := engine.New(repo, engine.WithLogger(log), engine.WithTickInterval(cfg.TickInterval))
	defer eng.Close()

	def, err := eng.LoadTest(context.Background(), link)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		fmt.Println("No test was found for this link.")
		return
	case err != nil:
		fmt.Printf("Could not load the test: %v\n", err)
		return
	}

	fmt.Printf("\n%s\n%d questions, %s\n\n", def.Title, len(def.Questions), formatSeconds(def.DurationSeconds))
	fmt.Print("Press Enter to start.")
	if _, err := reader.ReadString('\n'); err != nil {
		return
	}
	if err := eng.Start(); err != nil {
		fmt.Printf("Could not start: %v\n", err)
		return
	}

	printQuestions(os.Stdout, def, eng.Snapshot().Answers)
	fmt.Println(usage)

	events, unsubscribe := eng.Subscribe(16)
	defer unsubscribe()
	go watchTime(events)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	for {
		snap := eng.Snapshot()
		if snap.Phase == model.PhaseSubmitted {
			printResult(os.Stdout, def, snap.Result)
			return
		}

		fmt.Printf("[%s left] > ", formatSeconds(snap.RemainingSeconds))
		line, ok := <-lines
		if !ok {
			eng.Exit()
			return
		}
		if done := runCommand(eng, def, line); done {
			return
		}
	}
}

// runCommand executes one line of input and reports whether the session is over.
func runCommand(eng *engine.Engine, def *model.TestDefinition, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "list":
		printQuestions(os.Stdout, def, eng.Snapshot().Answers)
	case "pause":
		report(eng.Pause())
	case "resume":
		report(eng.Resume())
	case "exit":
		eng.Exit()
		fmt.Println("Left the test. Nothing was submitted.")
		return true
	case "submit":
		res, err := eng.Submit(context.Background(), model.SubmitUserInitiated)
		if err != nil && !errors.Is(err, engine.ErrAlreadySubmitted) {
			fmt.Printf("Submission failed: %v\nYour answers are kept. Type submit to try again.\n", err)
			return false
		}
		printResult(os.Stdout, def, res)
		return true
	case "help":
		fmt.Println(usage)
	default:
		if len(fields) != 2 {
			fmt.Println(usage)
			return false
		}
		var n int
		if _, err := fmt.Sscanf(fields[0], "%d", &n); err != nil || n < 1 || n > len(def.Questions) {
			fmt.Printf("Question number must be between 1 and %d\n", len(def.Questions))
			return false
		}
		opt := model.OptionLabel(strings.ToUpper(fields[1]))
		report(eng.SelectAnswer(def.Questions[n-1].ID, opt))
	}
	return false
}

func report(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

// watchTime prints a warning at the last minute and announces expiry.
func watchTime(events <-chan model.Event) {
	warned := false
	for ev := range events {
		snap := ev.Snapshot
		switch {
		case ev.Type == model.EventTick && !warned && snap.RemainingSeconds <= 60:
			warned = true
			fmt.Println("\n*** One minute left ***")
		case ev.Type == model.EventPhase && snap.Phase == model.PhaseSubmitting && snap.RemainingSeconds == 0:
			fmt.Println("\n*** Time is up, submitting your answers. Press Enter. ***")
		case ev.Type == model.EventPhase && snap.Phase == model.PhaseErrored:
			fmt.Printf("\n*** Submission failed: %s. Type submit to retry. ***\n", snap.Error)
		}
	}
}

func printQuestions(w io.Writer, def *model.TestDefinition, answers model.AnswerMap) {
	for i, q := range def.Questions {
		fmt.Fprintf(w, "\n%d. %s\n", i+1, q.Text)
		for _, label := range model.OptionLabels {
			mark := " "
			if answers[q.ID] == label {
				mark = "*"
			}
			fmt.Fprintf(w, "  %s %s) %s\n", mark, label, q.Options[label])
		}
	}
	fmt.Fprintln(w)
}

func printResult(w io.Writer, def *model.TestDefinition, res *model.SubmissionResult) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "\nScore: %.2f (%.1f%%)\n", res.Score, res.Percentage)

	order := make(map[string]int, len(def.Questions))
	for i, q := range def.Questions {
		order[q.ID] = i
	}
	reviews := append([]model.QuestionReview(nil), res.Answers...)
	sort.Slice(reviews, func(i, j int) bool { return order[reviews[i].QuestionID] < order[reviews[j].QuestionID] })

	for _, r := range reviews {
		selected := "-"
		if r.SelectedOption != nil {
			selected = string(*r.SelectedOption)
		}
		verdict := "wrong"
		if r.IsCorrect {
			verdict = "correct"
		}
		fmt.Fprintf(w, "  %d. you: %s  answer: %s  %s\n", order[r.QuestionID]+1, selected, r.CorrectOption, verdict)
	}
}

func formatSeconds(s int) string {
	return (time.Duration(s) * time.Second).String()
}
