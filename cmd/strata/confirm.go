// File: cmd/strata/confirm.go
// Brief: Confirmation prompt for launch and delete.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errAborted = errors.New("aborted")

func confirm(ctx context.Context, in io.Reader, out io.Writer, prompt string) error {
	if in == nil || !interactive(in) {
		return errors.New("refusing to proceed without confirmation; rerun with --yes")
	}
	fmt.Fprint(out, strings.TrimSpace(prompt)+" ")

	reader := bufio.NewReader(in)
	readResult := make(chan struct {
		line string
		err  error
	}, 1)
	go func() {
		line, err := reader.ReadString('\n')
		readResult <- struct {
			line string
			err  error
		}{line: line, err: err}
	}()

	var line string
	var err error
	select {
	case <-ctx.Done():
		fmt.Fprintln(out)
		return ctx.Err()
	case res := <-readResult:
		line, err = res.line, res.err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}

// interactive reports whether in can answer a prompt. Non-file readers are
// treated as scripted input.
func interactive(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return true
	}
	return term.IsTerminal(int(f.Fd()))
}
