package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dotcommander/lerim/internal/paths"
)

// serverLayout resolves where the detached server keeps its pid and log
// files. Server lifecycle state always lives under one root so `up` and
// `down` agree regardless of the working directory.
func serverLayout(cmd *cobra.Command) (paths.Layout, error) {
	root, _ := cmd.Flags().GetString("root")
	if root == "" {
		var err error
		root, err = paths.GlobalRoot()
		if err != nil {
			return paths.Layout{}, err
		}
	}
	layout := paths.NewLayout(root)
	return layout, layout.EnsureTree()
}

// serverPID reads the pid file and checks the process is alive. Returns 0
// when no server is running.
func serverPID(layout paths.Layout) int {
	raw, err := os.ReadFile(layout.ServerPIDPath())
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0
	}
	// Signal 0 probes existence without side effects.
	if err := syscall.Kill(pid, 0); err != nil {
		return 0
	}
	return pid
}

func newUpCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the server in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := serverLayout(cmd)
			if err != nil {
				return cmdErr(err)
			}
			if pid := serverPID(layout); pid != 0 {
				return cmdErr(fmt.Errorf("server already running (pid %d); run `lerim down` first", pid))
			}

			exe, err := os.Executable()
			if err != nil {
				return cmdErr(err)
			}

			childArgs := []string{"serve", "--root", layout.Root}
			if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
				childArgs = append(childArgs, "--config", configPath)
			}
			if host != "" {
				childArgs = append(childArgs, "--host", host)
			}
			if port != 0 {
				childArgs = append(childArgs, "--port", strconv.Itoa(port))
			}

			logFile, err := os.OpenFile(layout.ServerLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = logFile.Close() }()

			child := exec.Command(exe, childArgs...) //nolint:gosec // G204: re-executing our own binary
			child.Stdout = logFile
			child.Stderr = logFile
			child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := child.Start(); err != nil {
				return cmdErr(err)
			}

			pid := child.Process.Pid
			if err := os.WriteFile(layout.ServerPIDPath(), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
				_ = child.Process.Kill()
				return cmdErr(err)
			}
			// The child is detached; Release drops our handle without waiting.
			_ = child.Process.Release()

			if jsonMode(cmd) {
				type resp struct {
					PID int    `json:"pid"`
					Log string `json:"log"`
				}
				return printJSON(resp{PID: pid, Log: layout.ServerLogPath()})
			}
			color.Green("server started (pid %d)", pid)
			fmt.Println("logs:", layout.ServerLogPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Bind port (default from config)")

	return cmd
}

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the background server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := serverLayout(cmd)
			if err != nil {
				return cmdErr(err)
			}
			pid := serverPID(layout)
			if pid == 0 {
				_ = os.Remove(layout.ServerPIDPath())
				if jsonMode(cmd) {
					type resp struct {
						Running bool `json:"running"`
					}
					return printJSON(resp{Running: false})
				}
				fmt.Println("server is not running")
				return nil
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return cmdErr(err)
			}
			// Give the graceful shutdown a moment before reporting.
			for i := 0; i < 50; i++ {
				if syscall.Kill(pid, 0) != nil {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}
			_ = os.Remove(layout.ServerPIDPath())

			if jsonMode(cmd) {
				type resp struct {
					Stopped int `json:"stopped_pid"`
				}
				return printJSON(resp{Stopped: pid})
			}
			fmt.Printf("server stopped (pid %d)\n", pid)
			return nil
		},
	}
}

func newLogsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the background server log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := serverLayout(cmd)
			if err != nil {
				return cmdErr(err)
			}

			f, err := os.Open(layout.ServerLogPath())
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Println("no server log yet")
					return nil
				}
				return cmdErr(err)
			}
			defer func() { _ = f.Close() }()

			if _, err := io.Copy(os.Stdout, f); err != nil {
				return cmdErr(err)
			}
			if !follow {
				return nil
			}

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(500 * time.Millisecond):
				}
				if _, err := io.Copy(os.Stdout, f); err != nil {
					return cmdErr(err)
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep reading as the log grows")
	return cmd
}
