// go-adb-client: a pure-Go ADB host client
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/config"
	"github.com/shangdawei/go-adb-client/internal/device"
	"github.com/shangdawei/go-adb-client/internal/keystore"
	"github.com/shangdawei/go-adb-client/internal/packageops"
	"github.com/shangdawei/go-adb-client/internal/shell"
	"github.com/shangdawei/go-adb-client/internal/syncsvc"
	"github.com/shangdawei/go-adb-client/internal/transport"
)

var tcpAddr = flag.String("tcp", "", "connect over TCP (host:port) instead of USB")

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	if *tcpAddr == "" && cfg.TCPAddr != "" {
		*tcpAddr = cfg.TCPAddr
	}

	ks, err := keystore.Open(cfg.KeyDir)
	if err != nil {
		fatal(err)
	}

	t, serial, err := dial(*tcpAddr)
	if err != nil {
		fatal(err)
	}
	t.SetTimeout(cfg.Timeout())

	dev := device.New(t, ks, serial)
	defer dev.Close()

	if err := dev.Connect(); err != nil {
		if adberr.Of(err) == adberr.KindPendingUserApproval {
			fmt.Fprintln(os.Stderr, "waiting for user to approve this computer on the device; re-run once confirmed")
			os.Exit(1)
		}
		fatal(err)
	}

	cmd, rest := args[0], args[1:]
	if err := dispatch(dev, cmd, rest); err != nil {
		fatal(err)
	}
}

func dial(tcp string) (transport.Transport, string, error) {
	if tcp != "" {
		t, err := transport.OpenTCP(tcp)
		return t, tcp, err
	}
	t, err := transport.OpenUSB()
	return t, "usb", err
}

func dispatch(dev *device.Device, cmd string, args []string) error {
	switch cmd {
	case "shell":
		if len(args) != 1 {
			return adberr.New(adberr.KindProtocolError, "usage: adb shell <command>")
		}
		out, err := shell.Run(dev, args[0], true)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil

	case "push":
		if len(args) != 2 {
			return adberr.New(adberr.KindProtocolError, "usage: adb push <local> <remote>")
		}
		return syncsvc.Push(dev, args[0], args[1], 0o644)

	case "pull":
		if len(args) != 2 {
			return adberr.New(adberr.KindProtocolError, "usage: adb pull <remote> <local>")
		}
		return syncsvc.Pull(dev, args[0], args[1])

	case "ls":
		if len(args) != 1 {
			return adberr.New(adberr.KindProtocolError, "usage: adb ls <remote-dir>")
		}
		entries, err := syncsvc.List(dev, args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%d\t%d\n", e.Name, e.Mode, e.Size)
		}
		return nil

	case "stat":
		if len(args) != 1 {
			return adberr.New(adberr.KindProtocolError, "usage: adb stat <remote-path>")
		}
		st, err := syncsvc.StatPath(dev, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("mode=%s size=%d mtime=%d\n", strconv.FormatUint(uint64(st.Mode), 8), st.Size, st.Mtime)
		return nil

	case "install":
		if len(args) != 1 {
			return adberr.New(adberr.KindProtocolError, "usage: adb install <apk>")
		}
		out, err := packageops.Install(dev, args[0])
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil

	case "uninstall":
		if len(args) != 1 {
			return adberr.New(adberr.KindProtocolError, "usage: adb uninstall <package>")
		}
		out, err := packageops.Uninstall(dev, args[0])
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil

	case "reboot":
		return packageops.Reboot(dev)

	default:
		return adberr.New(adberr.KindProtocolError, "unknown command: "+cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: adb [-tcp host:port] <shell|push|pull|ls|stat|install|uninstall|reboot> [args...]")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "adb:", err)
	os.Exit(1)
}
