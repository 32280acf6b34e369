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
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"
)

// LogPanel shows the supervisor log, newest last.
type LogPanel struct {
	text *views.TextArea

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}

	p.Panel.Init(app)

	// We don't change the keybar, so set it once
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})
	p.SetTitle("Supervisor Log")

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
	app := p.app
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

// update must be called with AppLock held.
func (p *LogPanel) update() {
	info, e := p.app.Log()
	if e != nil {
		p.SetStatus(fmt.Sprintf("No data: %v", e), LevelError)
		return
	}
	if info == nil {
		p.SetStatus("Loading ...", LevelNormal)
		p.text.SetLines([]string{""})
		return
	}
	p.SetStatus(fmt.Sprintf("%d records", len(info.Records)), LevelNormal)

	lines := make([]string, 0, len(info.Records))
	for _, r := range info.Records {
		var b strings.Builder
		fmt.Fprintf(&b, "%s %-5s %s", r.Time.Format(time.StampMilli),
			strings.ToUpper(r.Level), r.Message)
		keys := make([]string, 0, len(r.Fields))
		for k := range r.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, r.Fields[k])
		}
		lines = append(lines, b.String())
	}
	p.text.SetLines(lines)
}
