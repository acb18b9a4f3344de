package console

import (
	"bufio"
	"context"
	"io"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// Module reads commands from in and writes to out for the life of the app.
type Module struct {
	console *Console
	in      io.Reader
	logger  types.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ mono.Module = (*Module)(nil)

// NewModule creates the console module.
func NewModule(console *Console, in io.Reader, logger types.Logger) *Module {
	return &Module{console: console, in: in, logger: logger}
}

func (m *Module) Name() string {
	return "console"
}

// Start begins reading input in the background.
func (m *Module) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(m.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer close(m.done)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				if err := m.console.Execute(ctx, line); err != nil {
					m.console.println("error: " + err.Error())
				}
			}
		}
	}()

	m.logger.Info("Console started, type /help for commands")
	return nil
}

// Stop stops executing commands. A pending read on in is abandoned.
func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.logger.Info("Console stopped")
	return nil
}
