package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/openfroyo/decom/pkg/engine"
)

// errNotInteractive is returned when confirmation is needed without a terminal.
var errNotInteractive = errors.New("standard input is not a terminal; pass --skip-confirmation to run unattended")

var _ engine.Confirmer = (*promptConfirmer)(nil)

// promptConfirmer shows the plan and asks the operator on a terminal.
type promptConfirmer struct {
	in          io.Reader
	out         io.Writer
	interactive func() bool
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{
		in:  in,
		out: out,
		interactive: func() bool {
			f, ok := in.(*os.File)
			return ok && term.IsTerminal(int(f.Fd()))
		},
	}
}

// Confirm implements engine.Confirmer. Only "y" or "yes" proceed.
func (p *promptConfirmer) Confirm(ctx context.Context, plan *engine.Plan) (bool, error) {
	if !p.interactive() {
		return false, errNotInteractive
	}

	renderPlan(p.out, plan)
	fmt.Fprint(p.out, "\n"+warningStyle.Render("Remove everything listed above? [y/N]: "))

	answer := make(chan string, 1)
	failed := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			failed <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-failed:
		return false, err
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
