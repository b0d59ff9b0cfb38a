package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/alexjbarnes/link-connect/connections"
)

// prompter reads answers line by line. A single goroutine owns the
// reader so a canceled prompt does not lose the next line.
type prompter struct {
	lines <-chan string
	w     io.Writer
}

func newPrompter(ctx context.Context, r io.Reader, w io.Writer) *prompter {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	return &prompter{lines: lines, w: w}
}

// ask prints question and returns the trimmed answer. io.EOF means input
// is exhausted.
func (p *prompter) ask(ctx context.Context, question string) (string, error) {
	fmt.Fprint(p.w, question)

	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}

		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// choose asks for a 1-based index into n options. Empty input returns
// def.
func (p *prompter) choose(ctx context.Context, question string, n, def int) (int, error) {
	for {
		answer, err := p.ask(ctx, question)
		if err != nil {
			return 0, err
		}

		if answer == "" && def >= 0 {
			return def, nil
		}

		i, err := strconv.Atoi(answer)
		if err == nil && i >= 1 && i <= n {
			return i - 1, nil
		}

		fmt.Fprintf(p.w, "enter a number between 1 and %d\n", n)
	}
}

// terminalPresenter shows the institution URL and waits for the user to
// paste the redirect URL back.
type terminalPresenter struct {
	prompt *prompter
}

func (t *terminalPresenter) Present(ctx context.Context, authURL *url.URL, callbackScheme string) (*url.URL, error) {
	fmt.Fprintf(t.prompt.w, "\nOpen this URL in a browser to sign in with your bank:\n\n  %s\n\n", authURL)

	answer, err := t.prompt.ask(ctx, fmt.Sprintf("Paste the %s:// redirect URL (empty to cancel): ", callbackScheme))
	if err == io.EOF {
		return nil, connections.ErrPresenterUnavailable
	}

	if err != nil {
		return nil, err
	}

	if answer == "" {
		return nil, connections.ErrPresentationCanceled
	}

	u, err := url.Parse(answer)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect url: %w", err)
	}

	return u, nil
}
