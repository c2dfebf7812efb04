// Package report prints the human-readable progress of a run.
package report

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/verte-zerg/punchsync/internal/model"
	"github.com/verte-zerg/punchsync/internal/reconcile"
	"github.com/verte-zerg/punchsync/internal/stats"
)

const timeLayout = "02/01 15:04"

// Symbols prefixing each punch line.
const (
	SymbolSent      = "✓"
	SymbolDuplicate = "⊘"
	SymbolFailed    = "✗"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	dupStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
)

// Printer writes run progress as plain lines. It implements
// reconcile.Observer.
type Printer struct {
	w     io.Writer
	color bool
	err   error
}

var _ reconcile.Observer = (*Printer)(nil)

// NewPrinter returns a printer writing to w. Colour is used only when w is a
// terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: shouldUseColor(w)}
}

// Err returns the first write error, if any.
func (p *Printer) Err() error {
	return p.err
}

// Header prints the run banner.
func (p *Printer) Header(w model.SyncWindow, backend, tenant string, terminals int) {
	p.line(p.style(titleStyle, "Attendance sync"))
	p.line(fmt.Sprintf("Period:    %s → %s", w.Start.Format("2006-01-02 15:04"), w.End.Format("2006-01-02 15:04")))
	p.line("Backend:   " + backend)
	p.line("Tenant:    " + tenant)
	p.line("Terminals: " + strconv.Itoa(terminals))
}

func (p *Printer) TerminalStarted(cfg model.TerminalConfig) {
	p.line("")
	addr := cfg.Address
	if cfg.Port != 0 {
		addr = net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	}
	p.line(p.style(titleStyle, cfg.Name) + " " + p.style(dimStyle, "("+addr+")"))
}

func (p *Printer) TerminalConnected(_ model.TerminalConfig, info reconcile.DeviceInfo) {
	device := info.Name
	if info.Firmware != "" {
		device += " " + info.Firmware
	}
	if strings.TrimSpace(device) != "" {
		p.line("  " + p.style(dimStyle, "device: "+strings.TrimSpace(device)))
	}
	p.line(fmt.Sprintf("  users: %d, records: %d, in window: %d", info.Users, info.Records, info.InWindow))
}

func (p *Printer) PunchProcessed(_ model.TerminalConfig, index, total int, punch model.ClassifiedPunch, o model.Outcome) {
	p.line("  " + p.formatPunch(index, total, punch, o))
}

func (p *Printer) TerminalFinished(cfg model.TerminalConfig, c stats.Counts, err error) {
	if err != nil {
		p.line("  " + p.style(failStyle, SymbolFailed+" "+err.Error()))
		return
	}
	if c.Total == 0 {
		p.line("  " + p.style(dimStyle, "no punches in window"))
		return
	}
	p.line(fmt.Sprintf("  sent %d, duplicates %d, errors %d", c.Sent, c.Duplicates, c.Errors))
}

// Summary prints the final report tables.
func (p *Printer) Summary(s stats.Summary) {
	if p.err != nil {
		return
	}
	p.line("")
	if err := stats.RenderSummary(p.w, s); err != nil {
		p.err = err
	}
}

// Probe prints the outcome of a diagnostic connection to one terminal.
func (p *Printer) Probe(cfg model.TerminalConfig, info reconcile.DeviceInfo, err error) {
	p.TerminalStarted(cfg)
	if err != nil {
		p.line("  " + p.style(failStyle, SymbolFailed+" "+err.Error()))
		return
	}
	p.TerminalConnected(cfg, info)
}

// Punches lists classified punches of one terminal without delivering them.
func (p *Printer) Punches(cfg model.TerminalConfig, punches []model.ClassifiedPunch) {
	p.line(p.style(titleStyle, cfg.Name) + " " + p.style(dimStyle, fmt.Sprintf("(%d punches)", len(punches))))
	for _, punch := range punches {
		p.line("  " + FormatListed(punch))
	}
}

// FormatListed renders a punch with its raw classification details.
func FormatListed(punch model.ClassifiedPunch) string {
	return strings.Join([]string{
		punch.EmployeeID,
		punch.LocalTime.Format(timeLayout),
		string(punch.Direction),
		string(punch.Category),
		string(punch.Method),
		punch.Timestamp,
	}, " | ")
}

// FormatPunch renders one punch line without colour.
func FormatPunch(index, total int, punch model.ClassifiedPunch, o model.Outcome) string {
	return (&Printer{}).formatPunch(index, total, punch, o)
}

func (p *Printer) formatPunch(index, total int, punch model.ClassifiedPunch, o model.Outcome) string {
	fields := []string{
		fmt.Sprintf("[%d/%d] %s", index, total, punch.EmployeeID),
		punch.LocalTime.Format(timeLayout),
		string(punch.Direction),
	}
	var symbol string
	switch o.Kind {
	case model.OutcomeFailed:
		symbol = p.style(failStyle, SymbolFailed)
		fields = append(fields, p.style(failStyle, "error: "+o.Reason))
	case model.OutcomeDuplicate, model.OutcomeSuppressed:
		symbol = p.style(dupStyle, SymbolDuplicate)
		fields = append(fields, o.Status)
	default:
		symbol = p.style(okStyle, SymbolSent)
		fields = append(fields, o.Status)
	}
	if o.Anomaly != "" {
		fields = append(fields, p.style(dupStyle, "! "+o.Anomaly))
	}
	return symbol + " " + strings.Join(fields, " | ")
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) line(s string) {
	if p.err != nil {
		return
	}
	if _, err := fmt.Fprintln(p.w, s); err != nil {
		p.err = err
	}
}

func shouldUseColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
