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

// Package ui implements the terminal dashboard of the workvisor client.
package ui

import (
	"context"
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/workvisor/workvisor/rest"
)

type App struct {
	app    *views.Application
	view   views.View
	panel  views.Widget
	main   *MainPanel
	log    *LogPanel
	help   *HelpPanel
	client *rest.Client
	url    string

	// Owned by the application goroutine; refreshers post updates.
	workers *rest.WorkerList
	status  *rest.StatusInfo
	err     error
	logInfo *rest.LogInfo
	logErr  error
	lastErr error

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowLog() {
	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) KillWorker(id int) {
	go func() {
		e := a.client.KillWorker(id)
		a.app.PostFunc(func() {
			a.lastErr = e
			a.app.Update()
		})
	}()
}

func (a *App) Quit() {
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) Name() string {
	return "Workvisor"
}

// Workers returns the most recent pool snapshot.
func (a *App) Workers() (*rest.WorkerList, *rest.StatusInfo, error) {
	return a.workers, a.status, a.err
}

// Log returns the most recent log snapshot.
func (a *App) Log() (*rest.LogInfo, error) {
	return a.logInfo, a.logErr
}

// LastError returns the result of the last action, until the next
// refresh.
func (a *App) LastError() error {
	return a.lastErr
}

// refresh keeps the pool current.  Heartbeats do not change the serial,
// so the long poll is bounded to keep the busy counts moving.
func (a *App) refresh() {
	var last *rest.WorkerList
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		list, e := a.client.WatchWorkers(ctx, last)
		cancel()
		if e != nil && ctx.Err() != nil {
			list, e = a.client.Workers()
		}
		var st *rest.StatusInfo
		if e == nil {
			st, e = a.client.Status()
		}

		a.app.PostFunc(func() {
			a.workers = list
			a.status = st
			a.err = e
			a.lastErr = nil
			a.app.Update()
		})
		if e != nil {
			last = nil
			time.Sleep(2 * time.Second)
			continue
		}
		last = list
	}
}

func (a *App) refreshLog() {
	info, e := a.client.GetLog()
	for {
		a.app.PostFunc(func() {
			a.logInfo = info
			a.logErr = e
			a.app.Update()
		})
		if e != nil {
			time.Sleep(2 * time.Second)
			info, e = a.client.GetLog()
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		info, e = a.client.WatchLog(ctx, info)
		cancel()
	}
}

// Run shows the dashboard until the user quits.
func (a *App) Run() error {
	a.app.SetRootWidget(a)
	a.ShowMain()
	go a.refresh()
	go a.refreshLog()
	go func() {
		// Give us periodic updates
		for {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	return a.app.Run()
}

func NewApp(client *rest.Client, url string) *App {
	app := &App{
		app:    &views.Application{},
		client: client,
		url:    url,
	}
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app, url)
	app.panel = app.main
	return app
}
