// Copyright 2026 The Workvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ui

import (
	"fmt"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/workvisor/workvisor"
	"github.com/workvisor/workvisor/rest"
	"github.com/workvisor/workvisor/workvisor/util"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleHeader = tcell.StyleDefault.
			Foreground(tcell.ColorWhite).
			Background(tcell.ColorBlack).
			Bold(true)
)

// MainPanel lists the workers of the supervisor, one per line, below a
// header line.
type MainPanel struct {
	content  *views.CellView
	selected int // worker id, 0 for none
	width    int
	curx     int
	cury     int
	lines    []string
	styles   []tcell.Style
	items    []rest.WorkerInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App, server string) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle(server)
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			m.App().ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				m.App().Quit()
				return true
			case 'H', 'h':
				m.App().ShowHelp()
				return true
			case 'L', 'l':
				m.App().ShowLog()
				return true
			case 'K', 'k':
				if m.selected != 0 {
					m.App().KillWorker(m.selected)
					return true
				}
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ' ', StyleNormal, nil, 1
	}
	ch := ' '
	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	}
	style := m.styles[y]
	if y > 0 && m.items[y-1].ID == m.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	return model.m.width, len(model.m.lines)
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {
	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	if m.curx > m.width-1 {
		m.curx = m.width - 1
	}
	if m.cury > len(m.items) {
		m.cury = len(m.items)
	}
	if m.curx < 0 {
		m.curx = 0
	}
	// Row 0 is the header.
	if m.cury < 1 {
		m.cury = 1
	}
	if selected && len(m.items) > 0 {
		m.selected = m.items[m.cury-1].ID
	} else {
		m.selected = 0
	}
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It is called with the AppLock held.
func (m *MainPanel) update() {

	list, st, err := m.App().Workers()
	if err != nil {
		m.SetStatus(fmt.Sprintf("Cannot load workers: %v", err), LevelError)
		m.lines = nil
		m.styles = nil
		m.items = nil
		return
	}
	if list == nil || st == nil {
		m.SetStatus("Loading ...", LevelNormal)
		return
	}
	m.items = append(m.items[:0], list.Workers...)
	util.SortWorkers(m.items)

	lines := []string{util.Header}
	styles := []tcell.Style{StyleHeader}
	m.width = len(util.Header)

	nlive := 0
	found := false
	for i, w := range m.items {
		line := util.Line(w)
		if len(line) > m.width {
			m.width = len(line)
		}
		lines = append(lines, line)
		switch w.State {
		case workvisor.StateRunning:
			styles = append(styles, StyleGood)
			nlive++
		default:
			styles = append(styles, StyleWarn)
		}
		// preserve selected item
		if w.ID == m.selected {
			m.cury = i + 1
			found = true
		}
	}
	if !found {
		m.selected = 0
	}
	m.lines = lines
	m.styles = styles

	status := fmt.Sprintf("%s  %d/%d live  %d restarts  timeout %ds  %s",
		st.State, nlive, st.Workers, st.Restarts, st.Timeout, st.Application)
	level := LevelGood
	switch {
	case st.State != "running":
		level = LevelWarn
	case nlive < st.Workers:
		level = LevelWarn
	}
	if e := m.App().LastError(); e != nil {
		status = fmt.Sprintf("Failed: %v", e)
		level = LevelError
	}
	m.SetStatus(status, level)

	words := []string{"[Q] Quit", "[H] Help", "[L] Log"}
	if m.selected != 0 {
		words = append(words, "[K] Kill")
	}
	m.SetKeys(words)
}
