package tui

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/renej-github/etherip/cip"
	"github.com/renej-github/etherip/client"
	"github.com/renej-github/etherip/logging"
)

// Target is one configured PLC the monitor can show and write to.
type Target struct {
	Name    string
	Session *client.Session
}

// Monitor is a tview.Application showing a live table of the selected
// target's scanned tags and values. It implements scan.Publisher, so
// registering it with every target's Scanner is enough to keep the table
// current — there is no separate poll loop.
type Monitor struct {
	app     *tview.Application
	pages   *tview.Pages
	plcList *tview.List
	table   *tview.Table

	mu          sync.Mutex
	targets     map[string]Target
	plcOrder    []string
	values      map[string]map[string]*cip.Value // plc -> tag -> value
	selectedPLC string
}

// NewMonitor builds a Monitor over the given targets.
func NewMonitor(targets []Target) *Monitor {
	m := &Monitor{
		app:     tview.NewApplication(),
		targets: make(map[string]Target),
		values:  make(map[string]map[string]*cip.Value),
	}
	for _, t := range targets {
		m.targets[t.Name] = t
		m.plcOrder = append(m.plcOrder, t.Name)
		m.values[t.Name] = make(map[string]*cip.Value)
	}
	sort.Strings(m.plcOrder)
	if len(m.plcOrder) > 0 {
		m.selectedPLC = m.plcOrder[0]
	}

	m.buildUI()
	return m
}

func (m *Monitor) buildUI() {
	m.plcList = tview.NewList().ShowSecondaryText(false)
	m.plcList.SetBorder(true).SetTitle(" PLCs ")
	for _, name := range m.plcOrder {
		m.plcList.AddItem(name, "", 0, nil)
	}
	m.plcList.SetChangedFunc(func(i int, name string, _ string, _ rune) {
		m.mu.Lock()
		m.selectedPLC = name
		m.mu.Unlock()
		m.refreshTable()
	})

	m.table = tview.NewTable().SetBorders(false).SetSelectable(true, false)
	m.table.SetBorder(true).SetTitle(" Tags ")
	m.refreshTable()

	m.table.SetSelectedFunc(func(row, col int) {
		m.showWriteForm(row)
	})

	flex := tview.NewFlex().
		AddItem(m.plcList, 24, 0, true).
		AddItem(m.table, 0, 1, false)

	m.pages = tview.NewPages().AddPage("main", flex, true, true)
	m.app.SetRoot(m.pages, true)

	m.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case '?':
			m.showHelp()
			return nil
		case 'Q':
			m.app.Stop()
			return nil
		}
		if event.Key() == tcell.KeyTab || event.Key() == tcell.KeyBacktab {
			if m.app.GetFocus() == m.plcList {
				m.app.SetFocus(m.table)
			} else {
				m.app.SetFocus(m.plcList)
			}
			return nil
		}
		return event
	})
}

func (m *Monitor) showHelp() {
	modal := tview.NewModal().
		SetText(HelpText).
		AddButtons([]string{"Close"}).
		SetDoneFunc(func(int, string) { m.pages.RemovePage("help") })
	m.pages.AddPage("help", modal, true, true)
}

// Publish implements scan.Publisher. It is called once per tag whose
// encoded bytes changed on the most recent scan tick.
func (m *Monitor) Publish(plcName, tagName string, value *cip.Value) {
	m.mu.Lock()
	tags, ok := m.values[plcName]
	if !ok {
		tags = make(map[string]*cip.Value)
		m.values[plcName] = tags
	}
	tags[tagName] = value
	current := m.selectedPLC
	m.mu.Unlock()

	if plcName == current {
		m.app.QueueUpdateDraw(m.refreshTable)
	}
}

func (m *Monitor) refreshTable() {
	m.mu.Lock()
	plc := m.selectedPLC
	tags := m.values[plc]
	names := make([]string, 0, len(tags))
	for tag := range tags {
		names = append(names, tag)
	}
	sort.Strings(names)
	rows := make([][3]string, 0, len(names))
	for _, tag := range names {
		v := tags[tag]
		jsonVal, err := v.Any(0)
		display := fmt.Sprintf("%v", jsonVal)
		if err != nil {
			display = "?"
		}
		rows = append(rows, [3]string{tag, cip.TypeName(v.Type), display})
	}
	m.mu.Unlock()

	m.table.Clear()
	m.table.SetCell(0, 0, tview.NewTableCell("Tag").SetSelectable(false).SetTextColor(ColorAccent))
	m.table.SetCell(0, 1, tview.NewTableCell("Type").SetSelectable(false).SetTextColor(ColorAccent))
	m.table.SetCell(0, 2, tview.NewTableCell("Value").SetSelectable(false).SetTextColor(ColorAccent))
	for i, row := range rows {
		m.table.SetCell(i+1, 0, tview.NewTableCell(row[0]))
		m.table.SetCell(i+1, 1, tview.NewTableCell(row[1]))
		m.table.SetCell(i+1, 2, tview.NewTableCell(row[2]))
	}
}

// showWriteForm opens a form to write a new value to the tag on the
// selected row.
func (m *Monitor) showWriteForm(row int) {
	if row <= 0 {
		return
	}
	tagCell := m.table.GetCell(row, 0)
	if tagCell == nil {
		return
	}
	tagName := tagCell.Text

	m.mu.Lock()
	plcName := m.selectedPLC
	target, ok := m.targets[plcName]
	current := m.values[plcName][tagName]
	m.mu.Unlock()
	if !ok || current == nil {
		return
	}

	var input string
	form := tview.NewForm().
		AddInputField(fmt.Sprintf("New value for %s", tagName), "", 30, nil, func(text string) { input = text })
	form.AddButton("Write", func() {
		m.submitWrite(target, tagName, current.Type, input)
		m.pages.RemovePage("write")
	})
	form.AddButton("Cancel", func() { m.pages.RemovePage("write") })
	form.SetCancelFunc(func() { m.pages.RemovePage("write") })
	form.SetBorder(true).SetTitle(" Write Tag ")

	m.pages.AddPage("write", center(form, 50, 7), true, true)
}

func (m *Monitor) submitWrite(target Target, tagName string, typeCode uint16, raw string) {
	value, err := cip.ValueFromJSON(typeCode, parseScalar(typeCode, raw))
	if err != nil {
		logging.DebugLog("tui", "write %s/%s: %v", target.Name, tagName, err)
		return
	}
	if err := target.Session.Write(tagName, value); err != nil {
		logging.DebugLog("tui", "write %s/%s failed: %v", target.Name, tagName, err)
	}
}

// parseScalar converts a typed form field's raw text into the interface{}
// shape cip.ValueFromJSON expects (mirroring encoding/json's unmarshal
// targets for interface{}: float64, bool, or string).
func parseScalar(typeCode uint16, raw string) interface{} {
	if typeCode == cip.TypeSTRING {
		return raw
	}
	if typeCode == cip.TypeBOOL {
		return raw == "1" || raw == "true"
	}
	var f float64
	fmt.Sscanf(raw, "%g", &f)
	return f
}

func center(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

// Run starts the terminal application; it blocks until the user quits.
func (m *Monitor) Run() error {
	return m.app.Run()
}

// Stop halts the terminal application.
func (m *Monitor) Stop() {
	m.app.Stop()
}
