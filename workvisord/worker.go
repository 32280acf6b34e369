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

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/workvisor/workvisor"
)

// workerCmd is run by the supervisor, never by hand.  Configuration
// arrives in the environment, the socket and heartbeat pipe as inherited
// descriptors.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve as a worker process",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWorker()
	},
}

func init() {
	workerCmd.Flags().Int(workvisor.KeyWorkerID, 0, "Worker id")
	if err := viper.BindPFlag(workvisor.KeyWorkerID, workerCmd.Flags().Lookup(workvisor.KeyWorkerID)); err != nil {
		panic(err)
	}
}

func runWorker() error {
	logger, sync, err := newLogger(nil)
	if err != nil {
		return err
	}
	defer sync()

	cfg, err := loadConfig()
	if err != nil {
		logger.Error(err, "bad configuration")
		return err
	}
	id := viper.GetInt(workvisor.KeyWorkerID)
	logger = logger.WithName("worker").WithValues("worker", id)

	// SIGINT from a terminal goes to the supervisor's process group, not
	// ours, so in practice it arrives only when sent on purpose.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	defer signal.Stop(sigs)

	return workvisor.ServeInherited(cfg, id, logger, sigs)
}
