// Package panel is a terminal button panel for driving the robot from a
// keyboard. Arrow keys are the direction buttons and space or enter is
// CENTER.
//
// Terminals report key presses and auto-repeats but never releases, so a
// key counts as held for a hold window after its last press. Holding a key
// down keeps it held through the terminal's repeat events.
package panel

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"

	"botlink/internal/buttons"
	"botlink/internal/command"
)

// DefaultHold is how long a key stays held after its last press.
const DefaultHold = 120 * time.Millisecond

// Panel is a buttons.Source fed by a bubbletea program.
type Panel struct {
	hold  time.Duration
	clock clockwork.Clock
	robot string

	mu      sync.Mutex
	running bool
	pressed map[buttons.Button]time.Time

	program atomic.Pointer[tea.Program]
	logBuf  bytes.Buffer
	logMu   sync.Mutex
}

// New builds a Panel. robot is shown in the title.
func New(robot string, hold time.Duration, clk clockwork.Clock) *Panel {
	if hold <= 0 {
		hold = DefaultHold
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Panel{
		hold:    hold,
		clock:   clk,
		robot:   robot,
		pressed: make(map[buttons.Button]time.Time),
	}
}

// Sample returns the keys pressed within the hold window. ok is false
// while the panel is not running.
func (p *Panel) Sample() (buttons.Set, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return 0, false
	}
	now := p.clock.Now()
	var set buttons.Set
	for b, at := range p.pressed {
		if now.Sub(at) < p.hold {
			set = set.With(b)
		}
	}
	return set, true
}

func (p *Panel) press(b buttons.Button) {
	p.mu.Lock()
	p.pressed[b] = p.clock.Now()
	p.mu.Unlock()
}

func (p *Panel) setRunning(v bool) {
	p.mu.Lock()
	p.running = v
	if !v {
		clear(p.pressed)
	}
	p.mu.Unlock()
}

// Model returns the bubbletea model bound to this panel.
func (p *Panel) Model() Model {
	return Model{panel: p}
}

// Run shows the panel until the user quits or ctx is done. Quitting from
// the keyboard returns ErrQuit.
func (p *Panel) Run(ctx context.Context) error {
	prog := tea.NewProgram(p.Model(), tea.WithContext(ctx), tea.WithAltScreen())
	p.program.Store(prog)
	defer func() {
		p.program.Store(nil)
		p.setRunning(false)
	}()

	_, err := prog.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}
	return ErrQuit
}

// ErrQuit is returned by Run when the user closes the panel.
var ErrQuit = errors.New("panel closed")

// ShowSent displays cmd as the last transmitted command. It matches the
// encoder's OnSend hook.
func (p *Panel) ShowSent(cmd command.Command) {
	p.send(sentMsg{cmd: cmd, at: p.clock.Now()})
}

func (p *Panel) send(msg tea.Msg) {
	if prog := p.program.Load(); prog != nil {
		prog.Send(msg)
	}
}

// LogWriter returns a writer that shows each complete line in the
// panel's log pane. Lines written while the panel is not running are
// dropped.
func (p *Panel) LogWriter() *LogWriter {
	return &LogWriter{panel: p}
}

// LogWriter forwards log lines to a running panel.
type LogWriter struct {
	panel *Panel
}

func (w *LogWriter) Write(b []byte) (int, error) {
	p := w.panel
	p.logMu.Lock()
	p.logBuf.Write(b)
	var lines []string
	for {
		line, err := p.logBuf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			p.logBuf.Reset()
			p.logBuf.WriteString(line)
			break
		}
		lines = append(lines, line[:len(line)-1])
	}
	p.logMu.Unlock()

	for _, l := range lines {
		p.send(logMsg(l))
	}
	return len(b), nil
}
