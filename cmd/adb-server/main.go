// go-adb-client: a pure-Go ADB host client
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shangdawei/go-adb-client/internal/config"
	"github.com/shangdawei/go-adb-client/internal/device"
	"github.com/shangdawei/go-adb-client/internal/keystore"
	"github.com/shangdawei/go-adb-client/internal/statusserver"
	"github.com/shangdawei/go-adb-client/internal/transport"
)

var (
	addr = flag.String("addr", "", "status server listen address (default from config/.env)")
	tcp  = flag.String("tcp", "", "connect the managed device over TCP (host:port) instead of USB")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("adb-server: config: %v", err)
	}
	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = cfg.StatusAddr
	}

	ks, err := keystore.Open(cfg.KeyDir)
	if err != nil {
		log.Fatalf("adb-server: keystore: %v", err)
	}

	t, serial, err := dial(*tcp)
	if err != nil {
		log.Fatalf("adb-server: %v", err)
	}
	t.SetTimeout(cfg.Timeout())

	dev := device.New(t, ks, serial)
	defer dev.Close()

	if err := dev.Connect(); err != nil {
		log.Printf("adb-server: initial connect failed, will retry on demand: %v", err)
	}

	reg := device.NewRegistry()
	reg.Put(dev)

	srv := statusserver.New(listenAddr, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("adb-server: shutting down")
		cancel()
	}()

	log.Printf("adb-server: listening on %s (device %s)", listenAddr, dev.Serial())
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("adb-server: %v", err)
	}
	log.Println("adb-server: stopped")
}

func dial(tcpAddr string) (transport.Transport, string, error) {
	if tcpAddr != "" {
		t, err := transport.OpenTCP(tcpAddr)
		return t, tcpAddr, err
	}
	t, err := transport.OpenUSB()
	return t, "usb", err
}
