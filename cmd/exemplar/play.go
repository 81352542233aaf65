package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cgast/exemplar/pkg/examples"
	"github.com/cgast/exemplar/pkg/session"
	"github.com/cgast/exemplar/pkg/trial"
)

// handlePlay implements `exemplar play [study.yaml]`, running a study in
// the terminal.
func handlePlay(args []string) error {
	var cf commonFlags
	fs := newFlagSet("play", &cf)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cf)
	if err != nil {
		return err
	}
	defer a.close()

	study, err := a.loadStudy(fs.Arg(0))
	if err != nil {
		return err
	}
	runner := a.newRunner()
	if err := a.startInspector(runner); err != nil {
		return err
	}
	if err := runner.Load(study); err != nil {
		return err
	}

	fmt.Printf("exemplar v%s: %s\n", version, study.Meta.Name)
	fmt.Println("Type 'help' for available commands, 'quit' to stop.")
	fmt.Println()

	view, err := runner.Start()
	if err != nil {
		return err
	}
	printView(view)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("exemplar> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")

		var action trial.Action
		switch cmd {
		case "quit", "exit":
			fmt.Println("Goodbye.")
			return nil
		case "help":
			printPlayHelp()
			continue
		case "state":
			if v, err := runner.View(); err == nil {
				printView(v)
			}
			continue
		case "add":
			action = trial.Action{Type: trial.ActionAddExample, Text: rest}
		case "rm", "remove":
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				fmt.Println("Usage: rm <number>")
				continue
			}
			action = trial.Action{Type: trial.ActionRemoveExample, Index: n - 1}
		case "guess":
			action = trial.Action{Type: trial.ActionSubmitGuess, Text: rest}
		case "next":
			action = trial.Action{Type: trial.ActionAdvance}
		default:
			fmt.Printf("unknown command %q, try 'help'\n", cmd)
			continue
		}

		out, err := runner.Handle(action)
		if err != nil {
			return err
		}
		if out.Status.Rejected() {
			fmt.Printf("  (%s)\n", describeStatus(out.Status))
		}
		if out.Record == nil {
			printView(out.View)
			continue
		}

		fmt.Printf("Trial %d of %d complete.\n\n", out.View.Progress.Index+1, out.View.Progress.Total)
		view, err := runner.Start()
		if errors.Is(err, session.ErrFinished) {
			fmt.Printf("Study finished: %d trials recorded for session %s.\n",
				len(runner.Records()), runner.Session().ID)
			return nil
		}
		if err != nil {
			return err
		}
		printView(view)
	}
	return scanner.Err()
}

func printPlayHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  add <text>      Add an example string (elicitation trials)")
	fmt.Println("  rm <n>          Remove example number n")
	fmt.Println("  guess <regex>   Submit a pattern guess (guessing trials)")
	fmt.Println("  next            Finish the trial and go on")
	fmt.Println("  state           Show the current trial")
	fmt.Println("  quit            Stop; completed trials stay recorded")
}

func printView(v trial.View) {
	fmt.Printf("[%d/%d] %s\n", v.Progress.Index+1, v.Progress.Total, v.Description)
	if v.Prompt != "" {
		fmt.Println(v.Prompt)
	}

	switch v.Kind {
	case trial.KindGuessing:
		fmt.Println("Examples:")
		for _, s := range v.ShownExamples {
			fmt.Printf("  %s\n", s)
		}
		if v.Guess != nil {
			fmt.Printf("Your guess %q is %s.\n", v.Guess.Text, v.Guess.Verdict)
			if v.Guess.Witness != nil {
				w := v.Guess.Witness
				fmt.Printf("  For example %q: target %s, guess %s.\n", w.Text, acceptance(w.Canonical), acceptance(w.Guess))
			}
			if v.Guess.Reason != "" {
				fmt.Printf("  %s\n", v.Guess.Reason)
			}
		}
	default:
		printExamples(v.Examples)
	}

	if v.CanAdvance {
		fmt.Println("Type 'next' to continue.")
	}
	fmt.Println()
}

func printExamples(exs []examples.Example) {
	if len(exs) == 0 {
		fmt.Println("  (no examples yet)")
		return
	}
	for i, ex := range exs {
		mark := "Invalid"
		if ex.Valid {
			mark = "Valid"
		}
		fmt.Printf("  %2d. %-30s %s\n", i+1, ex.Text, mark)
	}
}

func acceptance(ok bool) string {
	if ok {
		return "accepts"
	}
	return "rejects"
}

func describeStatus(s trial.Status) string {
	switch s {
	case trial.StatusRejectedEmpty:
		return "empty input ignored"
	case trial.StatusRejectedDuplicate:
		return "already in the list"
	case trial.StatusRejectedOutOfRange:
		return "no such example"
	case trial.StatusRejectedPremature:
		return "cannot finish yet: add only valid examples, or submit a guess"
	case trial.StatusRejectedWrongKind:
		return "not available in this trial"
	case trial.StatusRejectedClosed:
		return "trial already complete"
	default:
		return string(s)
	}
}
