package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// prompter reads secrets from the terminal without echo, or line by line
// when input is not a terminal
type prompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{in: cmd.InOrStdin(), out: cmd.ErrOrStderr()}
}

func (p *prompter) readSecret(prompt string) ([]byte, error) {
	fmt.Fprint(p.out, prompt)

	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		return secret, err
	}

	if p.reader == nil {
		p.reader = bufio.NewReader(p.in)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	fmt.Fprintln(p.out)
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// readNewSecret asks for a value twice and requires both to match
func (p *prompter) readNewSecret(what string) ([]byte, error) {
	first, err := p.readSecret(fmt.Sprintf("Enter %s: ", what))
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", what)
	}

	second, err := p.readSecret(fmt.Sprintf("Enter %s again: ", what))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) {
		return nil, fmt.Errorf("%s values did not match", what)
	}
	return first, nil
}
