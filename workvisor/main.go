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

// Command workvisor is a client for the admin API of workvisord.  It uses
// subcommands.
//
// The flags are
//
//	-a <address>	- admin API address, default is
//			  http://127.0.0.1:8321
//	-u <user:pass>	- user name & password for basic auth
//
// Subcommands are
//
//	workers      - list the workers
//	info <id>    - show detailed worker info
//	kill <id>    - kill a worker, so that it is replaced
//	status       - show the supervisor summary
//	log          - print the supervisor log
//	top          - run the terminal dashboard (the default)
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/workvisor/workvisor/rest"
	"github.com/workvisor/workvisor/workvisor/ui"
	"github.com/workvisor/workvisor/workvisor/util"
)

var addr = "http://127.0.0.1:8321"
var auth = ""

func usage() {
	log.Fatalf("Usage: %s [-a <address>] [-u <user:pass>] <subcommand>",
		os.Args[0])
}

func workerID(args []string) int {
	if len(args) != 2 {
		usage()
	}
	id, e := strconv.Atoi(args[1])
	if e != nil {
		log.Fatalf("Bad worker id %q", args[1])
	}
	return id
}

func main() {
	flag.StringVarP(&addr, "address", "a", addr, "admin API address")
	flag.StringVarP(&auth, "user", "u", auth, "user:pass authentication")
	flag.Parse()

	client := rest.NewClient(nil, addr)
	if auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			log.Fatalf("Bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"top"}
	}

	switch args[0] {
	case "workers":
		if len(args) != 1 {
			usage()
		}
		list, e := client.Workers()
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		util.SortWorkers(list.Workers)
		fmt.Println(util.Header)
		for _, w := range list.Workers {
			fmt.Println(util.Line(w))
		}

	case "info":
		w, e := client.Worker(workerID(args))
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		fmt.Printf("Worker:    %d\n", w.ID)
		fmt.Printf("Pid:       %d\n", w.Pid)
		fmt.Printf("State:     %s\n", w.State)
		fmt.Printf("Up:        %s\n", util.Age(w.Started))
		fmt.Printf("Heartbeat: %s ago\n", util.Age(w.LastAlive))
		fmt.Printf("In flight: %d\n", w.Stats.InFlight)
		fmt.Printf("Accepted:  %d\n", w.Stats.Accepted)
		fmt.Printf("Served:    %d\n", w.Stats.Served)
		fmt.Printf("Timed out: %d\n", w.Stats.TimedOut)
		fmt.Printf("Panicked:  %d\n", w.Stats.Panicked)
		if w.Stats.Draining {
			fmt.Printf("Draining:  yes\n")
		}

	case "kill":
		if e := client.KillWorker(workerID(args)); e != nil {
			log.Fatalf("Failed: %v", e)
		}

	case "status":
		if len(args) != 1 {
			usage()
		}
		st, e := client.Status()
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		fmt.Printf("State:       %s\n", st.State)
		fmt.Printf("Pid:         %d\n", st.Pid)
		fmt.Printf("Address:     %s\n", st.Addr)
		fmt.Printf("Application: %s (%s)\n", st.Application, st.Mode)
		fmt.Printf("Workers:     %d/%d live\n", st.Live, st.Workers)
		fmt.Printf("Timeout:     %ds\n", st.Timeout)
		fmt.Printf("Restarts:    %d\n", st.Restarts)
		fmt.Printf("Spawns:      %d (%d failed)\n", st.Spawns, st.SpawnFailures)
		fmt.Printf("Up:          %s\n", util.Age(st.CreateTime))

	case "log":
		if len(args) != 1 {
			usage()
		}
		info, e := client.GetLog()
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		for _, r := range info.Records {
			fmt.Printf("%s %-5s %s", r.Time.Format(time.StampMilli),
				strings.ToUpper(r.Level), r.Message)
			for k, v := range r.Fields {
				fmt.Printf(" %s=%v", k, v)
			}
			fmt.Println()
		}

	case "top":
		if e := ui.NewApp(client, addr).Run(); e != nil {
			log.Fatalf("Failed: %v", e)
		}

	default:
		usage()
	}
}
