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
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/config"
	"github.com/shangdawei/go-adb-client/internal/conn"
	"github.com/shangdawei/go-adb-client/internal/device"
	"github.com/shangdawei/go-adb-client/internal/keystore"
	"github.com/shangdawei/go-adb-client/internal/shell"
	"github.com/shangdawei/go-adb-client/internal/transport"
)

var tcpAddr = flag.String("tcp", "", "connect over TCP (host:port) instead of USB")

var (
	logViewStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#2563EB"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
)

type shellResultMsg struct {
	cmd string
	out string
	err error
}

type copyNoticeExpiredMsg struct{}

type model struct {
	dev         *device.Device
	log         viewport.Model
	input       textarea.Model
	history     []string
	width       int
	height      int
	running     bool
	showCopyMsg bool
}

func newModel(dev *device.Device) model {
	logView := viewport.New(80, 18)
	logView.Style = logViewStyle

	input := textarea.New()
	input.Placeholder = "shell command, Enter to run, ctrl+y copies last output, ctrl+c quits"
	input.Focus()
	input.Prompt = "> "
	input.SetHeight(1)
	input.ShowLineNumbers = false

	return model{dev: dev, log: logView, input: input}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tea.ClearScreen, textarea.Blink)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.log.Width = msg.Width - 4
		m.log.Height = msg.Height - 6
		m.input.SetWidth(msg.Width - 4)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyCtrlY:
			if len(m.history) > 0 {
				if err := clipboard.WriteAll(m.history[len(m.history)-1]); err == nil {
					m.showCopyMsg = true
					return m, tea.Tick(1200*time.Millisecond, func(time.Time) tea.Msg { return copyNoticeExpiredMsg{} })
				}
			}
			return m, nil
		case tea.KeyEnter:
			if m.running {
				return m, nil
			}
			cmdLine := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if cmdLine == "" {
				return m, nil
			}
			m.running = true
			m.history = append(m.history, fmt.Sprintf("$ %s", cmdLine))
			m.log.SetContent(strings.Join(m.history, "\n"))
			m.log.GotoBottom()
			return m, runShell(m.dev, cmdLine)
		}

	case shellResultMsg:
		m.running = false
		if msg.err != nil {
			m.history = append(m.history, fmt.Sprintf("error: %v", msg.err))
		} else {
			m.history = append(m.history, msg.out)
		}
		m.log.SetContent(strings.Join(m.history, "\n"))
		m.log.GotoBottom()
		return m, nil

	case copyNoticeExpiredMsg:
		m.showCopyMsg = false
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	status := fmt.Sprintf("device %s — %s", m.dev.Serial(), m.dev.State())
	if m.showCopyMsg {
		status += " (copied to clipboard)"
	}
	return fmt.Sprintf("%s\n%s\n%s", m.log.View(), m.input.View(), statusStyle.Render(status))
}

func runShell(dev *device.Device, cmdLine string) tea.Cmd {
	return func() tea.Msg {
		out, err := shell.Run(dev, cmdLine, false)
		return shellResultMsg{cmd: cmdLine, out: out, err: err}
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "adb-monitor:", err)
		os.Exit(1)
	}
	if *tcpAddr == "" && cfg.TCPAddr != "" {
		*tcpAddr = cfg.TCPAddr
	}

	ks, err := keystore.Open(cfg.KeyDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "adb-monitor:", err)
		os.Exit(1)
	}

	var t transport.Transport
	var serial string
	if *tcpAddr != "" {
		t, err = transport.OpenTCP(*tcpAddr)
		serial = *tcpAddr
	} else {
		t, err = transport.OpenUSB()
		serial = "usb"
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "adb-monitor:", err)
		os.Exit(1)
	}
	t.SetTimeout(cfg.Timeout())

	dev := device.New(t, ks, serial)
	defer dev.Close()

	if err := dev.Connect(); err != nil {
		if adberr.Of(err) == adberr.KindPendingUserApproval {
			fmt.Println("waiting for user to approve this computer on the device...")
			for dev.State() != conn.Connected {
				if err := dev.Connect(); err != nil && adberr.Of(err) != adberr.KindPendingUserApproval {
					fmt.Fprintln(os.Stderr, "adb-monitor:", err)
					os.Exit(1)
				}
			}
		} else {
			fmt.Fprintln(os.Stderr, "adb-monitor:", err)
			os.Exit(1)
		}
	}

	p := tea.NewProgram(newModel(dev), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "adb-monitor:", err)
		os.Exit(1)
	}
}
