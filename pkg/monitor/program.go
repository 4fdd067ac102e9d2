package monitor

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"brainlink/pkg/protocol"
	"brainlink/pkg/transport"
)

// Program runs a Model and feeds it from a hub subscription.
type Program struct {
	prog *tea.Program
}

func NewProgram(m Model, opts ...tea.ProgramOption) *Program {
	return &Program{prog: tea.NewProgram(m, opts...)}
}

// SetLink is safe to call from any goroutine; it blocks until the program
// loop accepts the message or exits.
func (p *Program) SetLink(s transport.ConnectionState) {
	p.prog.Send(LinkMsg(s))
}

// Run blocks until the user quits or ctx is cancelled.
func (p *Program) Run(ctx context.Context, in <-chan protocol.Reading) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				p.prog.Quit()
				return
			case r, ok := <-in:
				if !ok {
					p.prog.Quit()
					return
				}
				p.prog.Send(ReadingMsg(r))
			}
		}
	}()

	_, err := p.prog.Run()
	return err
}
