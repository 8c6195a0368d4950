package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/procdock/internal/engine"
	"github.com/Paintersrp/procdock/internal/workload"
)

const (
	tableTitle     = "Workloads"
	logsTitle      = "Logs"
	filterPageName = "filter"
	formPageName   = "workload"
	helpText       = "s/x/r start/stop/restart  S/X/R all  n add  d remove  / filter  e ack errors  enter logs  q quit"
)

// Engine is the subset of the supervision engine driven by the UI.
type Engine interface {
	List() []workload.Snapshot
	Logs(id string) []string
	Start(id string)
	Stop(id string)
	Restart(id string)
	StartAll()
	StopAll()
	RestartAll()
	AddWorkload(cfg workload.Config) string
	RemoveWorkload(id string)
	StopAllLocal()
	Subscribe() *engine.Subscription
	ErrorVersion() uint64
}

// Store persists workload additions and removals.
type Store interface {
	Add(cfg workload.Config) error
	Remove(id string) error
}

// Option configures UI behaviour.
type Option func(*UI)

// WithStore persists workloads added or removed from the UI.
func WithStore(store Store) Option {
	return func(u *UI) {
		u.store = store
	}
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(u *UI) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// UI is the interactive workload table backed by tview.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	logs   *tview.TextView
	footer *tview.TextView

	engine Engine
	store  Store
	logger *slog.Logger

	mu          sync.Mutex
	visible     []workload.Snapshot
	selected    string
	filter      string
	filterExpr  *regexp.Regexp
	seenErrors  uint64
	notice      string
	logsFocused bool

	// programmatic is set while the UI moves the table cursor itself.
	programmatic atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a UI over eng.
func New(eng Engine, opts ...Option) *UI {
	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 0).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(tableTitle)

	logs := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	logs.SetBorder(true).SetTitle(logsTitle)

	footer := tview.NewTextView().SetDynamicColors(true)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(table, 0, 2, true).
		AddItem(logs, 0, 3, false).
		AddItem(footer, 1, 0, false)

	pages := tview.NewPages().AddPage("main", flex, true, true)

	ui := &UI{
		app:        app,
		pages:      pages,
		table:      table,
		logs:       logs,
		footer:     footer,
		engine:     eng,
		logger:     slog.Default(),
		seenErrors: eng.ErrorVersion(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ui)
	}

	table.SetSelectionChangedFunc(func(row, column int) {
		if ui.programmatic.Load() {
			return
		}
		ui.mu.Lock()
		defer ui.mu.Unlock()
		ui.syncSelection(row)
		ui.renderLogsLocked()
	})

	app.SetRoot(pages, true)
	app.SetInputCapture(ui.handleKey)

	ui.mu.Lock()
	ui.refreshLocked()
	ui.mu.Unlock()

	return ui
}

// Done returns a channel that is closed when the UI stops.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run draws the UI until q is pressed or ctx is cancelled, then tears down
// every command workload. Containers keep running.
func (u *UI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go u.watch(ctx)

	go func() {
		<-ctx.Done()
		u.Stop()
	}()

	err := u.app.Run()
	cancel()
	u.Stop()
	u.engine.StopAllLocal()
	return err
}

// Stop terminates the application loop.
func (u *UI) Stop() {
	u.stopOnce.Do(func() {
		u.app.Stop()
		close(u.done)
	})
}

func (u *UI) watch(ctx context.Context) {
	sub := u.engine.Subscribe()
	for {
		if _, err := sub.Wait(ctx); err != nil {
			return
		}
		u.app.QueueUpdateDraw(func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			u.refreshLocked()
		})
	}
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if u.overlayActive() {
		return event
	}
	switch event.Key() {
	case tcell.KeyEnter:
		u.toggleFocus()
		return nil
	case tcell.KeyRune:
		if u.dispatch(event.Rune()) {
			return nil
		}
	}
	return event
}

// dispatch runs the action bound to r and reports whether one exists.
func (u *UI) dispatch(r rune) bool {
	switch r {
	case 'q':
		go u.Stop()
	case '/':
		u.showFilterPrompt()
	case 'n':
		u.showAddForm()
	case 'e':
		u.acknowledgeErrors()
	case 'S':
		u.engine.StartAll()
	case 'X':
		u.engine.StopAll()
	case 'R':
		u.engine.RestartAll()
	case 's', 'x', 'r', 'd':
		id := u.selectedID()
		if id == "" {
			return true
		}
		switch r {
		case 's':
			u.engine.Start(id)
		case 'x':
			u.engine.Stop(id)
		case 'r':
			u.engine.Restart(id)
		case 'd':
			u.removeWorkload(id)
		}
	default:
		return false
	}
	return true
}

func (u *UI) overlayActive() bool {
	name, _ := u.pages.GetFrontPage()
	return name == filterPageName || name == formPageName
}

func (u *UI) selectedID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.selected
}

func (u *UI) toggleFocus() {
	if u.logsFocused {
		u.app.SetFocus(u.table)
	} else {
		u.app.SetFocus(u.logs)
	}
	u.logsFocused = !u.logsFocused
}

func (u *UI) acknowledgeErrors() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.seenErrors = u.engine.ErrorVersion()
	u.renderFooterLocked()
}

func (u *UI) addWorkload(cfg workload.Config) error {
	if strings.TrimSpace(cfg.Command) == "" {
		return errors.New("command is required")
	}
	if u.store != nil {
		if err := u.store.Add(cfg); err != nil {
			return fmt.Errorf("save workload: %w", err)
		}
	}
	id := u.engine.AddWorkload(cfg)
	u.mu.Lock()
	u.selected = id
	u.refreshLocked()
	u.mu.Unlock()
	return nil
}

func (u *UI) removeWorkload(id string) {
	u.engine.RemoveWorkload(id)
	if u.store == nil {
		return
	}
	if err := u.store.Remove(id); err != nil {
		u.logger.Warn("persist workload removal", "id", id, "err", err)
		u.setNotice(fmt.Sprintf("[red]save failed: %v", err))
	}
}

func (u *UI) setNotice(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notice = text
	u.renderFooterLocked()
}

func (u *UI) showFilterPrompt() {
	u.mu.Lock()
	current := u.filter
	u.mu.Unlock()

	input := tview.NewInputField().
		SetLabel("Regex filter: ").
		SetText(current).
		SetFieldWidth(40)

	form := tview.NewForm().
		AddFormItem(input).
		AddButton("Apply", func() {
			if err := u.applyFilter(input.GetText()); err != nil {
				u.setNotice(fmt.Sprintf("[red]invalid filter: %v", err))
			}
			u.closeOverlay(filterPageName)
		}).
		AddButton("Cancel", func() {
			u.closeOverlay(filterPageName)
		})
	form.SetBorder(true).SetTitle("Filter Workloads")

	u.pages.AddPage(filterPageName, centered(form, 60, 7), true, true)
	u.app.SetFocus(input)
}

func (u *UI) applyFilter(expr string) error {
	expr = strings.TrimSpace(expr)
	var re *regexp.Regexp
	if expr != "" {
		var err error
		re, err = regexp.Compile("(?i)" + expr)
		if err != nil {
			return err
		}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.filter = expr
	u.filterExpr = re
	u.refreshLocked()
	return nil
}

func (u *UI) showAddForm() {
	kinds := []workload.Kind{workload.KindCommand, workload.KindContainer}
	labels := []string{workload.KindCommand.String(), workload.KindContainer.String()}

	form := tview.NewForm().
		AddInputField("Name", "", 40, nil, nil).
		AddInputField("Command", "", 40, nil, nil).
		AddInputField("Working dir", "", 40, nil, nil).
		AddDropDown("Kind", labels, 0, nil).
		AddCheckbox("Auto start", false, nil).
		AddCheckbox("Managed restart", false, nil)

	form.AddButton("Save", func() {
		kindIdx, _ := form.GetFormItemByLabel("Kind").(*tview.DropDown).GetCurrentOption()
		if kindIdx < 0 {
			kindIdx = 0
		}
		cfg := workload.NewConfig(
			form.GetFormItemByLabel("Name").(*tview.InputField).GetText(),
			strings.TrimSpace(form.GetFormItemByLabel("Command").(*tview.InputField).GetText()),
			strings.TrimSpace(form.GetFormItemByLabel("Working dir").(*tview.InputField).GetText()),
			kinds[kindIdx],
		)
		cfg.AutoStart = form.GetFormItemByLabel("Auto start").(*tview.Checkbox).IsChecked()
		cfg.ManagedRestart = form.GetFormItemByLabel("Managed restart").(*tview.Checkbox).IsChecked()
		if err := u.addWorkload(cfg); err != nil {
			u.setNotice(fmt.Sprintf("[red]%v", err))
			return
		}
		u.closeOverlay(formPageName)
	}).AddButton("Cancel", func() {
		u.closeOverlay(formPageName)
	})
	form.SetBorder(true).SetTitle("Add Workload")

	u.pages.AddPage(formPageName, centered(form, 64, 17), true, true)
	u.app.SetFocus(form)
}

func (u *UI) closeOverlay(name string) {
	u.pages.RemovePage(name)
	u.app.SetFocus(u.table)
	u.logsFocused = false
}

func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewGrid().
		SetColumns(0, width, 0).
		SetRows(0, height, 0).
		AddItem(p, 1, 1, 1, 1, 0, 0, true)
}

func (u *UI) refreshLocked() {
	all := u.engine.List()
	u.visible = u.visible[:0]
	for _, snap := range all {
		if u.filterExpr != nil && !u.filterExpr.MatchString(snap.Config.DisplayName()) {
			continue
		}
		u.visible = append(u.visible, snap)
	}

	u.table.Clear()
	headers := []string{"NAME", "KIND", "STATUS", "MANAGED", "AUTO START"}
	for col, header := range headers {
		u.table.SetCell(0, col, tview.NewTableCell(header).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	if u.filter != "" {
		u.table.SetTitle(fmt.Sprintf("%s /%s/", tableTitle, u.filter))
	} else {
		u.table.SetTitle(tableTitle)
	}

	for row, snap := range u.visible {
		values := []string{
			snap.Config.DisplayName(),
			snap.Config.Kind.String(),
			snap.Status.String(),
			yesNo(snap.Config.ManagedRestart),
			yesNo(snap.Config.AutoStart),
		}
		for col, value := range values {
			cell := tview.NewTableCell(value)
			if col == 2 {
				cell.SetTextColor(statusColor(snap.Status))
			}
			if col == 0 {
				cell.SetReference(snap.Config.ID)
			}
			u.table.SetCell(row+1, col, cell)
		}
	}

	u.ensureSelectionLocked()
	u.renderLogsLocked()
	u.renderFooterLocked()
}

func (u *UI) ensureSelectionLocked() {
	if len(u.visible) == 0 {
		u.selected = ""
		return
	}
	idx := 0
	for i, snap := range u.visible {
		if snap.Config.ID == u.selected {
			idx = i
			break
		}
	}
	u.selected = u.visible[idx].Config.ID
	if row, _ := u.table.GetSelection(); row != idx+1 {
		u.programmatic.Store(true)
		u.table.Select(idx+1, 0)
		u.programmatic.Store(false)
	}
}

func (u *UI) syncSelection(row int) {
	if row <= 0 || row-1 >= len(u.visible) {
		return
	}
	u.selected = u.visible[row-1].Config.ID
}

func (u *UI) renderLogsLocked() {
	u.logs.Clear()
	if u.selected == "" {
		u.logs.SetTitle(logsTitle)
		return
	}
	name := u.selected
	for _, snap := range u.visible {
		if snap.Config.ID == u.selected {
			name = snap.Config.DisplayName()
			break
		}
	}
	u.logs.SetTitle(fmt.Sprintf("%s (%s)", logsTitle, name))
	for _, line := range u.engine.Logs(u.selected) {
		text := tview.Escape(line)
		if workload.HasErrorMarker(line) {
			text = "[red]" + text + "[-]"
		}
		fmt.Fprintln(u.logs, text)
	}
	u.logs.ScrollToEnd()
}

func (u *UI) renderFooterLocked() {
	u.footer.Clear()
	if unread := u.engine.ErrorVersion() - u.seenErrors; unread > 0 {
		fmt.Fprintf(u.footer, "[red::b]%d new error(s)[-::-]  ", unread)
	}
	if u.notice != "" {
		fmt.Fprintf(u.footer, "%s[-]  ", u.notice)
	}
	fmt.Fprint(u.footer, helpText)
}

func statusColor(st workload.Status) tcell.Color {
	switch st.State {
	case workload.StateRunning:
		return tcell.ColorGreen
	case workload.StateError:
		return tcell.ColorRed
	case workload.StateStarting, workload.StateStopping:
		return tcell.ColorYellow
	default:
		return tcell.ColorDefault
	}
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
