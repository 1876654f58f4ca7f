package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"
)

const serviceName = "civicpulse"

const serviceTemplate = `[Unit]
Description=CivicPulse chat service
After=network.target

[Service]
Type=simple
User=%s
ExecStart=%s serve%s
Restart=on-failure
RestartSec=5s
Environment=HOME=%s

[Install]
WantedBy=default.target
`

// generateServiceFile creates the systemd service file content
func generateServiceFile(username, execPath, homeDir, configPath string) string {
	configArg := ""
	if configPath != "" {
		configArg = " --config " + configPath
	}
	return fmt.Sprintf(serviceTemplate, username, execPath, configArg, homeDir)
}

// systemServicePath returns the path for system-wide service
func systemServicePath() string {
	return "/etc/systemd/system/" + serviceName + ".service"
}

// userServicePath returns the path for user service
func userServicePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", serviceName+".service")
}

// getServicePath returns the appropriate service path based on flags
func getServicePath(system bool) string {
	if system {
		return systemServicePath()
	}
	return userServicePath()
}

// systemctl builds a systemctl invocation for the user or system manager
func systemctl(system bool, args ...string) *exec.Cmd {
	if !system {
		args = append([]string{"--user"}, args...)
	}
	return exec.Command("systemctl", args...)
}

func newServiceCmd() *cobra.Command {
	var system bool

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd unit",
	}
	cmd.PersistentFlags().BoolVarP(&system, "system", "s", false, "System-wide service (requires root); default is a user service")

	install := &cobra.Command{
		Use:   "install",
		Short: "Install systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			servicePath := getServicePath(system)

			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("failed to get current user: %w", err)
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to get executable path: %w", err)
			}
			execPath, err := filepath.Abs(exe)
			if err != nil {
				return err
			}
			configPath, _ := cmd.Flags().GetString("config")

			content := generateServiceFile(currentUser.Username, execPath, currentUser.HomeDir, configPath)
			if err := writeServiceFile(servicePath, content); err != nil {
				if os.IsPermission(err) && system {
					return fmt.Errorf("permission denied, run with sudo for a system service")
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Service file installed: %s\n", servicePath)
			systemctl(system, "daemon-reload").Run()

			prefix := "systemctl --user"
			if system {
				prefix = "sudo systemctl"
			}
			fmt.Fprintln(out, "\nTo enable and start:")
			fmt.Fprintf(out, "  %s enable %s\n", prefix, serviceName)
			fmt.Fprintf(out, "  %s start %s\n", prefix, serviceName)
			return nil
		},
	}

	uninstall := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			servicePath := getServicePath(system)
			if _, err := os.Stat(servicePath); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "⚠️ Service file not found (not installed?)")
				return nil
			}

			systemctl(system, "stop", serviceName).Run()
			systemctl(system, "disable", serviceName).Run()

			if err := os.Remove(servicePath); err != nil {
				if os.IsPermission(err) && system {
					return fmt.Errorf("permission denied, run with sudo for a system service")
				}
				return fmt.Errorf("failed to remove service file: %w", err)
			}
			systemctl(system, "daemon-reload").Run()

			fmt.Fprintln(cmd.OutOrStdout(), "✅ Service uninstalled")
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Run: func(cmd *cobra.Command, args []string) {
			c := systemctl(system, "status", serviceName)
			c.Stdout = cmd.OutOrStdout()
			c.Stderr = cmd.ErrOrStderr()
			// systemctl status exits non-zero when the service is stopped
			c.Run()
		},
	}

	cmd.AddCommand(install, uninstall, status)
	return cmd
}

func writeServiceFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
