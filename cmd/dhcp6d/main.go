/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// dhcp6d is the DHCPv6 client supplicant daemon. It acquires leases for
// the interfaces named in its configuration file and logs the resulting
// lease events; an embedding network manager consumes the same event
// stream through the client.Registry API.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jr42/dhcp6-supplicant/internal/client"
	"github.com/jr42/dhcp6-supplicant/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		verbosity  int
	)

	cmd := &cobra.Command{
		Use:          "dhcp6d",
		Short:        "DHCPv6 client supplicant",
		Version:      config.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(verbosity)
			if err != nil {
				return err
			}
			return run(configPath, log)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	cmd.Flags().IntVarP(&verbosity, "verbosity", "v", 0, "log verbosity (0-2)")
	return cmd
}

func newLogger(verbosity int) (logr.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	cfg.EncoderConfig.TimeKey = "ts"
	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("building logger: %w", err)
	}
	return zapr.NewLogger(zl), nil
}

func run(configPath string, log logr.Logger) error {
	view, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry := client.NewRegistry(view, log)
	defer registry.Close()

	for _, ifc := range view.Interfaces() {
		update, err := client.ParseUpdateFlags(ifc.Update)
		if err != nil {
			return fmt.Errorf("interface %s: %w", ifc.Name, err)
		}
		req := &client.Request{
			UUID:        uuid.New(),
			Update:      update,
			InfoOnly:    ifc.InfoOnly,
			RapidCommit: ifc.RapidCommit,
			Hostname:    ifc.Hostname,
		}
		if err := registry.AcquireInterface(ifc.Name, req); err != nil {
			log.Error(err, "acquire failed", "ifname", ifc.Name)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case ev, ok := <-registry.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case client.EventLeaseAcquired:
				log.Info("lease acquired", "ifname", ev.Ifname,
					"addresses", leaseAddresses(ev.Lease), "dns", ev.Lease.DNSServers)
			case client.EventLeaseReleased:
				log.Info("lease released", "ifname", ev.Ifname)
			case client.EventLeaseLost:
				log.Info("lease lost", "ifname", ev.Ifname)
			}
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				log.Info("restarting all devices on SIGHUP")
				registry.RestartAll()
				continue
			}
			log.Info("shutting down", "signal", sig.String())
			return nil
		}
	}
}

func leaseAddresses(l *client.Lease) []string {
	if l == nil {
		return nil
	}
	var out []string
	for _, ia := range l.IAs {
		for _, a := range ia.Addresses {
			out = append(out, a.Addr.String())
		}
	}
	return out
}
