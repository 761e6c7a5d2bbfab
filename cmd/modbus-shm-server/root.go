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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"modbus-shm-server/bank"
)

// flagSet mirrors config but in the raw string/primitive shapes cobra
// binds flags to; buildConfig converts and validates it into a config.
type flagSet struct {
	host       string
	service    string
	namePrefix string

	doRegisters int
	diRegisters int
	aoRegisters int
	aiRegisters int

	connections int
	reconnect   bool
	monitor     bool

	byteTimeout     float64
	responseTimeout float64
	tcpTimeout      int

	force bool

	separate    string
	separateAll bool

	semaphore      string
	semaphoreForce bool

	permissions string

	signalRegister bool
	signalPIDs     string

	showVersion      bool
	showLongVersion  bool
	showShortVersion bool
	showGitHash      bool
	showLicense      bool
	showLicenseFull  bool
}

func newRootCmd() (*cobra.Command, *flagSet) {
	var fs flagSet

	cmd := &cobra.Command{
		Use:   "modbus-shm-server",
		Short: "Modbus/TCP server backed by POSIX shared-memory register banks",
		Long: `modbus-shm-server terminates Modbus/TCP client connections and services
register read/write requests against register banks exposed as POSIX
shared-memory segments, so external processes can read and write the
same registers without going through the wire protocol.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fs.showVersion || fs.showShortVersion {
				printShortVersion(cmd.OutOrStdout())
				return nil
			}
			if fs.showLongVersion {
				printLongVersion(cmd.OutOrStdout())
				return nil
			}
			if fs.showGitHash {
				fmt.Fprintln(cmd.OutOrStdout(), gitHash)
				return nil
			}
			if fs.showLicense {
				fmt.Fprintln(cmd.OutOrStdout(), licenseNotice)
				return nil
			}
			if fs.showLicenseFull {
				fmt.Fprintln(cmd.OutOrStdout(), licenseFull)
				return nil
			}

			cfg, err := buildConfig(&fs)
			if err != nil {
				return usageError(err)
			}
			return runServer(cfg)
		},
	}

	registerFlags(cmd, &fs)
	bindViper(cmd)

	return cmd, &fs
}

func registerFlags(cmd *cobra.Command, fs *flagSet) {
	f := cmd.Flags()

	f.StringVarP(&fs.host, "host", "i", "any", "bind address; \"any\" or empty means dual-stack wildcard")
	f.StringVarP(&fs.service, "service", "p", "502", "port name or number")
	f.StringVarP(&fs.namePrefix, "name-prefix", "n", "modbus_", "shared-memory segment name prefix")

	f.IntVar(&fs.doRegisters, "do-registers", 65536, "coil count (1..65536)")
	f.IntVar(&fs.diRegisters, "di-registers", 65536, "discrete-input count (1..65536)")
	f.IntVar(&fs.aoRegisters, "ao-registers", 65536, "holding-register count (1..65536)")
	f.IntVar(&fs.aiRegisters, "ai-registers", 65536, "input-register count (1..65536)")

	f.IntVarP(&fs.connections, "connections", "c", 1, "maximum simultaneous client connections")
	f.BoolVarP(&fs.reconnect, "reconnect", "r", false, "keep running after the last client disconnects")
	f.BoolVarP(&fs.monitor, "monitor", "m", false, "enable codec debug traces")

	f.Float64Var(&fs.byteTimeout, "byte-timeout", 0, "per-byte read timeout in seconds (0 = codec default)")
	f.Float64Var(&fs.responseTimeout, "response-timeout", 0, "per-response timeout in seconds (0 = codec default)")
	f.IntVarP(&fs.tcpTimeout, "tcp-timeout", "t", 5, "TCP user timeout in seconds (0 = OS defaults)")

	f.BoolVar(&fs.force, "force", false, "reuse pre-existing shared-memory segments")

	f.StringVarP(&fs.separate, "separate", "s", "", "comma list of unit ids given dedicated register banks")
	f.BoolVar(&fs.separateAll, "separate-all", false, "dedicated register banks for all 256 unit ids")

	f.StringVar(&fs.semaphore, "semaphore", "", "enable the cross-process mutex under this name")
	f.BoolVar(&fs.semaphoreForce, "semaphore-force", false, "reuse/replace an existing semaphore of that name")

	f.StringVarP(&fs.permissions, "permissions", "b", "0640", "shared-memory segment file mode, octal")

	f.BoolVarP(&fs.signalRegister, "signal-register", "R", false, "let processes self-register for write notifications via SIGUSR1")
	f.StringVarP(&fs.signalPIDs, "signal", "k", "", "comma list of pids to pre-register for write notifications")

	f.BoolVar(&fs.showVersion, "version", false, "print version and exit")
	f.BoolVar(&fs.showLongVersion, "longversion", false, "print detailed build information and exit")
	f.BoolVar(&fs.showShortVersion, "shortversion", false, "print version and exit")
	f.BoolVar(&fs.showGitHash, "git-hash", false, "print the build's git commit hash and exit")
	f.BoolVar(&fs.showLicense, "license", false, "print the license notice and exit")
	f.BoolVar(&fs.showLicenseFull, "license-full", false, "print the full license text and exit")
}

// bindViper lets every flag above also be set via an MODBUS_SHM_-prefixed
// environment variable, generalizing the teacher's config-file-only
// convenience into a 12-factor-friendly override layer.
func bindViper(cmd *cobra.Command) {
	v := viper.New()
	v.SetEnvPrefix("MODBUS_SHM")
	v.AutomaticEnv()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		name := f.Name
		if err := v.BindPFlag(name, f); err != nil {
			return
		}
		if !cmd.Flags().Changed(name) && v.IsSet(name) {
			_ = cmd.Flags().Set(name, v.GetString(name))
		}
	})
}

func buildConfig(fs *flagSet) (*config, error) {
	separate, err := parseSeparateList(fs.separate)
	if err != nil {
		return nil, err
	}
	perm, err := parsePermissions(fs.permissions)
	if err != nil {
		return nil, err
	}
	pids, err := parsePIDList(fs.signalPIDs)
	if err != nil {
		return nil, err
	}

	cfg := &config{
		host:            fs.host,
		service:         fs.service,
		namePrefix:      fs.namePrefix,
		counts:          bankCounts(fs),
		maxClients:      fs.connections,
		reconnect:       fs.reconnect,
		monitor:         fs.monitor,
		byteTimeout:     secondsToDuration(fs.byteTimeout),
		responseTimeout: secondsToDuration(fs.responseTimeout),
		tcpTimeout:      secondsToDuration(float64(fs.tcpTimeout)),
		force:           fs.force,
		separate:        separate,
		separateAll:     fs.separateAll,
		semaphoreName:   fs.semaphore,
		semaphoreForce:  fs.semaphoreForce,
		permissions:     perm,
		signalRegister:  fs.signalRegister,
		preRegister:     pids,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bankCounts(fs *flagSet) bank.Counts {
	return bank.Counts{
		Coils:            fs.doRegisters,
		DiscreteInputs:   fs.diRegisters,
		HoldingRegisters: fs.aoRegisters,
		InputRegisters:   fs.aiRegisters,
	}
}

// secondsToDuration converts a fractional-seconds flag value to a
// time.Duration with microsecond precision, per spec §5.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func run(args []string) int {
	cmd, _ := newRootCmd()
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "error:", ee.Error())
			return ee.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitSoftware
	}
	return exitOK
}
