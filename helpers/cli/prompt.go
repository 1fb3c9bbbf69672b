// Package cli runs interactive operator console.
package cli

import (
	"bufio"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

// NotifyStop calls stop once on first HUP/INT/TERM/QUIT.
// Returned func unsubscribes.
func NotifyStop(stop func()) func() {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	done := make(chan struct{})
	go func() {
		select {
		case <-signalCh:
			stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(signalCh)
		close(done)
	}
}

// MainLoop feeds console lines to exec until input ends.
// Terminal gets go-prompt with completion, otherwise stdin is read line by line.
func MainLoop(tag string, exec func(line string), complete func(d prompt.Document) []prompt.Suggest) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(exec, complete, prompt.OptionPrefix(tag+"> ")).Run()
		return
	}
	ReadLines(os.Stdin, exec)
}

// ReadLines calls exec for each trimmed non-empty line.
func ReadLines(r io.Reader, exec func(line string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := trimLine(scanner.Text())
		if line != "" {
			exec(line)
		}
	}
}

// Completer suggests fixed commands by prefix of current word.
func Completer(suggests []prompt.Suggest) func(d prompt.Document) []prompt.Suggest {
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}
