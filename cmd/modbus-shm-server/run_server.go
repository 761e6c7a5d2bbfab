// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"modbus-shm-server/bank"
	"modbus-shm-server/internal/obslog"
	"modbus-shm-server/notify"
	"modbus-shm-server/server"
	"modbus-shm-server/xpm"
)

// indefinite is the RunCycle timeout that blocks in poll(2) until
// something is ready, mirroring unix.Poll's -1 convention.
const indefinite = -1 * time.Millisecond

func runServer(cfg *config) error {
	logger, err := obslog.New(cfg.monitor)
	if err != nil {
		return osError(fmt.Errorf("build logger: %w", err))
	}
	defer logger.Sync()

	if os.Geteuid() == 0 {
		logger.Warn("running as root; shared-memory segments and the semaphore will be owned by uid 0")
	}

	dir, err := openDirectory(cfg)
	if err != nil {
		return softwareError(err)
	}
	defer dir.Close()

	checkUlimit(cfg, logger)

	var sem *xpm.Semaphore
	if cfg.semaphoreName != "" {
		if cfg.semaphoreForce {
			if err := xpm.Unlink(cfg.semaphoreName); err != nil {
				return osError(err)
			}
		}
		sem, err = xpm.Open(cfg.semaphoreName, cfg.semaphoreForce)
		if err != nil {
			return osError(err)
		}
		defer sem.Close()
	}

	notifier := notify.New(func(pid int) {
		logger.Warn("dropping stale write-notification target", zap.Int("pid", pid))
	})
	for _, pid := range cfg.preRegister {
		if err := notifier.Add(pid); err != nil {
			logger.Warn("failed to pre-register write-notification target", zap.Int("pid", pid), zap.Error(err))
		}
	}

	opts := []server.Option{
		server.WithHost(cfg.host),
		server.WithService(cfg.service),
		server.WithMaxClients(cfg.maxClients),
		server.WithReconnect(cfg.reconnect),
		server.WithTCPTimeout(cfg.tcpTimeout),
		server.WithLogger(logger),
	}
	// A zero byte/response timeout means "use the codec default" (§6); a
	// non-zero value overrides it.
	if cfg.byteTimeout > 0 {
		opts = append(opts, server.WithByteTimeout(cfg.byteTimeout))
	}
	if cfg.responseTimeout > 0 {
		opts = append(opts, server.WithResponseTimeout(cfg.responseTimeout))
	}

	srv := server.New(dir, sem, notifier, cfg.signalRegister, opts...)

	if err := srv.Listen(); err != nil {
		return osError(err)
	}
	defer srv.Close()

	return serveUntilTermination(srv, logger)
}

func serveUntilTermination(srv *server.Server, logger *zap.Logger) error {
	for {
		outcome, err := srv.RunCycle(indefinite)
		if err != nil {
			return osError(err)
		}

		switch outcome {
		case server.OutcomeTermSignal, server.OutcomeTermNoConn, server.OutcomeSemaphore:
			logger.Info("Terminating…")
			return nil
		}
	}
}

func openDirectory(cfg *config) (*bank.Directory, error) {
	if cfg.separateAll {
		all := make([]uint8, 256)
		for i := range all {
			all[i] = uint8(i)
		}
		return bank.NewPerID(cfg.namePrefix, cfg.counts, cfg.permissions, cfg.force, all)
	}
	if len(cfg.separate) > 0 {
		return bank.NewPerID(cfg.namePrefix, cfg.counts, cfg.permissions, cfg.force, cfg.separate)
	}
	return bank.NewSingle(cfg.namePrefix, cfg.counts, cfg.permissions, cfg.force)
}

func checkUlimit(cfg *config, logger *zap.Logger) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Warn("failed to read RLIMIT_NOFILE", zap.Error(err))
		return
	}

	required := cfg.requiredFDs()
	if rlimit.Cur < required {
		logger.Warn("open file descriptor limit may be too low",
			zap.Uint64("required", required), zap.Uint64("current", rlimit.Cur))
	}
}
