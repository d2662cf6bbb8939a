package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kardianos/service"
	"github.com/willibrandon/vperf/internal/config"
)

// Exit codes returned by vperf-agent subcommands
const (
	ExitSuccess          = 0
	ExitPermissionDenied = 1
	ExitServiceExists    = 2
	ExitConfigError      = 3
	ExitServiceNotFound  = 1
	ExitAlreadyRunning   = 2
	ExitStartFailed      = 3
	ExitNotRunning       = 1
	ExitStopFailed       = 2
	ExitRestartFailed    = 2
	ExitStopped          = 2
	ExitUnhealthy        = 3
)

// Service manager errors, mapped to exit codes by vperf-agent.
var (
	ErrServiceInstalled    = errors.New("service already installed")
	ErrServiceNotInstalled = errors.New("service not installed")
	ErrServiceRunning      = errors.New("service already running")
	ErrServiceNotRunning   = errors.New("service not running")
)

// serviceName is the unit, launchd label and Windows service name.
const serviceName = "vperf-agent"

// ServiceConfig selects how the agent is registered with the platform
// service manager.
type ServiceConfig struct {
	ConfigPath string
	UserMode   bool
	Debug      bool
}

// args are the vperf-agent arguments the service manager runs.
func (c ServiceConfig) args() []string {
	args := []string{"run"}
	if c.ConfigPath != "" {
		args = append(args, "--config", c.ConfigPath)
	}
	if c.Debug {
		args = append(args, "--debug")
	}
	return args
}

// options returns the restart policy for the current platform. A user
// service on macOS is detected from an existing LaunchAgents plist so
// later commands address the same domain install used.
func (c ServiceConfig) options() service.KeyValue {
	opts := service.KeyValue{}
	if c.UserMode || isUserServiceInstalled() {
		opts["UserService"] = true
	}
	switch runtime.GOOS {
	case "darwin":
		opts["KeepAlive"] = true
		opts["RunAtLoad"] = true
	case "linux":
		opts["Restart"] = "on-failure"
	case "windows":
		opts["OnFailure"] = "restart"
		opts["OnFailureDelayDuration"] = "5s"
		opts["OnFailureResetPeriod"] = 10
	}
	return opts
}

// program adapts the agent to kardianos/service.
type program struct {
	cfg   ServiceConfig
	agent *Agent
}

// Start must return quickly, so the agent starts in the background. A
// failed start exits the process and lets the service manager retry.
func (p *program) Start(service.Service) error {
	load := config.LoadConfig
	if p.cfg.ConfigPath != "" {
		load = func() (*config.Config, error) { return config.LoadConfigFromPath(p.cfg.ConfigPath) }
	}
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a, err := New(cfg, p.cfg.Debug || cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	p.agent = a

	go func() {
		if err := a.Start(); err != nil {
			slog.Error("agent start failed", "error", err)
			os.Exit(ExitStartFailed)
		}
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.agent == nil {
		return nil
	}
	return p.agent.Stop()
}

// NewService describes the agent to the platform service manager.
func NewService(c ServiceConfig) (service.Service, error) {
	return service.New(&program{cfg: c}, &service.Config{
		Name:        serviceName,
		DisplayName: "vperf Hypervisor Sampling Agent",
		Description: "Samples libvirt hosts and domains and keeps the vperf real-time and rollup stores current.",
		Arguments:   c.args(),
		Option:      c.options(),
	})
}

// RunService hands control to the platform service manager. It blocks
// until the service is stopped.
func RunService(c ServiceConfig) error {
	svc, err := NewService(c)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return svc.Run()
}

// control opens the registered service, checks its state with precheck
// and runs op. Permission failures come back as *PermissionError.
func control(c ServiceConfig, verb string, precheck func(service.Status, error) error, op func(service.Service) error) error {
	svc, err := NewService(c)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if err := precheck(svc.Status()); err != nil {
		return err
	}
	if err := op(svc); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to %s service: %w", verb, err)
	}
	return nil
}

func installed(status service.Status, err error) error {
	if err != nil || status == service.StatusUnknown {
		return ErrServiceNotInstalled
	}
	return nil
}

// Install registers the service.
func Install(c ServiceConfig) error {
	return control(c, "install", func(status service.Status, err error) error {
		if err == nil && status != service.StatusUnknown {
			return ErrServiceInstalled
		}
		return nil
	}, service.Service.Install)
}

// Uninstall stops the service if needed and unregisters it.
func Uninstall() error {
	return control(ServiceConfig{}, "uninstall", installed, func(svc service.Service) error {
		if status, _ := svc.Status(); status == service.StatusRunning {
			_ = svc.Stop()
		}
		return svc.Uninstall()
	})
}

// Start starts the installed service.
func Start() error {
	return control(ServiceConfig{}, "start", func(status service.Status, err error) error {
		if err := installed(status, err); err != nil {
			return err
		}
		if status == service.StatusRunning {
			return ErrServiceRunning
		}
		return nil
	}, service.Service.Start)
}

// Stop stops the running service.
func Stop() error {
	return control(ServiceConfig{}, "stop", func(status service.Status, err error) error {
		if err := installed(status, err); err != nil {
			return err
		}
		if status != service.StatusRunning {
			return ErrServiceNotRunning
		}
		return nil
	}, service.Service.Stop)
}

// Restart restarts the installed service.
func Restart() error {
	return control(ServiceConfig{}, "restart", installed, service.Service.Restart)
}

// Status represents the service status.
type Status struct {
	State      string   `json:"state"`
	PID        int      `json:"pid,omitempty"`
	Uptime     string   `json:"uptime,omitempty"`
	LastSample string   `json:"last_sample,omitempty"`
	LastRollup string   `json:"last_rollup,omitempty"`
	Entities   int      `json:"entities"`
	Errors     []string `json:"errors,omitempty"`
	ErrorCount int      `json:"error_count"`
	Version    string   `json:"version,omitempty"`
	ConfigHash string   `json:"config_hash,omitempty"`
	Stale      bool     `json:"stale,omitempty"`
}

// GetStatus combines the service manager's view with the agent_status row.
// An agent started with `run` is reported as running through its PID file.
func GetStatus(cfg *config.Config) (*Status, error) {
	status := &Status{
		State:  "not_installed",
		Errors: []string{},
	}

	if svc, err := NewService(ServiceConfig{}); err == nil {
		if svcStatus, err := svc.Status(); err == nil {
			switch svcStatus {
			case service.StatusRunning:
				status.State = "running"
			case service.StatusStopped:
				status.State = "stopped"
			default:
				status.State = "unknown"
			}
		}
	}
	if status.State != "running" {
		if running, pid, _ := AgentRunning(); running {
			status.State = "running"
			status.PID = pid
		}
	}

	if status.State != "running" || cfg == nil {
		return status, nil
	}

	agentStatus, err := readAgentStatus(cfg.Storage.Path)
	if err != nil || agentStatus == nil {
		return status, nil
	}
	status.PID = agentStatus.PID
	status.Version = agentStatus.Version
	status.ConfigHash = agentStatus.ConfigHash
	status.Entities = agentStatus.Entities
	status.ErrorCount = agentStatus.ErrorCount
	if !agentStatus.StartTime.IsZero() {
		status.Uptime = formatUptime(agentStatus.StartTime)
	}
	if !agentStatus.LastSample.IsZero() {
		status.LastSample = formatTimeSince(agentStatus.LastSample)
		status.Stale = !agentStatus.Healthy(time.Now(), 3*cfg.Collector.RefreshRate)
	}
	if !agentStatus.LastRollup.IsZero() {
		status.LastRollup = agentStatus.LastRollup.Local().Format(time.RFC3339)
	}
	if agentStatus.ErrorCount > 0 && agentStatus.LastError != "" {
		status.Errors = append(status.Errors, agentStatus.LastError)
	}
	if agentStatus.ConfigHash != "" && agentStatus.ConfigHash != computeConfigHash(cfg) {
		status.Errors = append(status.Errors, "running agent uses a different configuration, restart to apply")
	}

	return status, nil
}

// PermissionError indicates an operation requires elevated privileges.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if runtime.GOOS == "windows" {
		return "administrator privileges required"
	}
	return "permission denied (try with sudo)"
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// launchdPlist is where launchd keeps the agent's job definition for a
// user or a system install.
func launchdPlist(user bool) string {
	if !user {
		return filepath.Join("/Library/LaunchDaemons", serviceName+".plist")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "LaunchAgents", serviceName+".plist")
}

func plistExists(user bool) bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	path := launchdPlist(user)
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func isUserServiceInstalled() bool { return plistExists(true) }

// IsRunningAsRoot reports whether the process has root privileges.
func IsRunningAsRoot() bool {
	return os.Geteuid() == 0
}

// RequiresSudo reports whether the installed service is a system daemon
// this process cannot manage without root.
func RequiresSudo() bool {
	return plistExists(false) && !IsRunningAsRoot()
}
