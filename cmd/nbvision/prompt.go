package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
)

// termPrompter asks questions on the terminal.
type termPrompter struct {
	rl *readline.Instance
}

func newTermPrompter() (*termPrompter, error) {
	rl, err := readline.New("> ")
	if err != nil {
		return nil, err
	}
	return &termPrompter{rl: rl}, nil
}

func (p *termPrompter) Close() error { return p.rl.Close() }

func (p *termPrompter) Pick(ctx context.Context, placeholder string, items []string) (string, error) {
	fmt.Println(placeholder)
	for i, item := range items {
		fmt.Printf("  %d) %s\n", i+1, item)
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := p.rl.Readline()
		if isCancel(err) {
			return "", nil
		}
		if err != nil {
			return "", err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			return "", nil
		}
		if item, ok := matchItem(line, items); ok {
			return item, nil
		}
		fmt.Printf("Enter a number between 1 and %d, or nothing to cancel\n", len(items))
	}
}

func (p *termPrompter) Input(ctx context.Context, placeholder, hint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Println(placeholder)
	if hint != "" {
		fmt.Println(hint)
	}

	secret, err := p.rl.ReadPassword("> ")
	if isCancel(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

func isCancel(err error) bool {
	return errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF)
}

// matchItem accepts a 1-based index or a case-insensitive item name.
func matchItem(line string, items []string) (string, bool) {
	if n, err := strconv.Atoi(line); err == nil {
		if n >= 1 && n <= len(items) {
			return items[n-1], true
		}
		return "", false
	}
	for _, item := range items {
		if strings.EqualFold(item, line) {
			return item, true
		}
	}
	return "", false
}
