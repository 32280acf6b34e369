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
	"strings"
	"sync"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"
)

var barStyle = tcell.StyleDefault.
	Foreground(tcell.ColorBlack).
	Background(tcell.ColorSilver)

type TitleBar struct {
	views.SimpleStyledTextBar
}

func NewTitleBar() *TitleBar {
	tb := &TitleBar{}
	tb.SimpleStyledTextBar.Init()
	tb.SetStyle(barStyle)
	return tb
}

// KeyBar shows the available keys.  A word like "[Q] Quit" has its
// bracketed part highlighted.
type KeyBar struct {
	views.SimpleStyledTextBar
}

func NewKeyBar() *KeyBar {
	kb := &KeyBar{}
	kb.SimpleStyledTextBar.Init()
	kb.SetStyle(barStyle)
	kb.RegisterLeftStyle('N', barStyle)
	kb.RegisterLeftStyle('A', barStyle.Foreground(tcell.ColorBlue).Bold(true))
	return kb
}

func (k *KeyBar) SetKeys(words []string) {
	var b strings.Builder
	for i, w := range words {
		if i != 0 {
			b.WriteByte(' ')
		}
		w = strings.ReplaceAll(w, "%", "%%")
		w = strings.ReplaceAll(w, "[", "[%A")
		w = strings.ReplaceAll(w, "]", "%N]")
		b.WriteString(w)
	}
	k.SetLeft(b.String())
}

// Level picks the color of a StatusBar.
type Level int

const (
	LevelNormal Level = iota
	LevelGood
	LevelWarn
	LevelError
)

var levelStyles = map[Level]tcell.Style{
	LevelNormal: barStyle,
	LevelGood: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorGreen).
		Bold(true),
	LevelWarn: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorYellow),
	LevelError: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorMaroon).
		Bold(true),
}

// StatusBar is like a titlebar, but it changes color based on the
// status of a screen, e.g. red background to indicate a fault condition.
type StatusBar struct {
	once   sync.Once
	status string
	views.SimpleStyledTextBar
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.once.Do(func() {
		sb.SimpleStyledTextBar.Init()
		sb.SetLevel(LevelNormal)
	})
	return sb
}

func (sb *StatusBar) SetLevel(l Level) {
	style := levelStyles[l]
	sb.SimpleStyledTextBar.SetStyle(style)
	sb.RegisterLeftStyle('N', style)
	sb.SetLeft(sb.status)
}

func (sb *StatusBar) SetText(status string) {
	sb.status = strings.ReplaceAll(status, "%", "%%")
	sb.SetLeft(sb.status)
}
