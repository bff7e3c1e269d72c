// Package actuator holds the firewall and notifier implementations the
// response engine dispatches to.
package actuator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os/exec"
	"strings"

	"netwarden/internal/response"
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- args are a validated IP and fixed flags
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// IPTables drops inbound traffic from blocked addresses with one rule per IP
// in Chain.
type IPTables struct {
	Chain  string
	Sudo   bool
	run    Runner
	logger *slog.Logger
}

func NewIPTables(chain string, sudo bool, logger *slog.Logger) *IPTables {
	if chain == "" {
		chain = "INPUT"
	}
	return &IPTables{Chain: chain, Sudo: sudo, run: execRunner, logger: logger}
}

func (f *IPTables) Block(ctx context.Context, ip string) error {
	addr, err := parseAddr(ip)
	if err != nil {
		return err
	}
	return f.exec(ctx, iptablesFor(addr), "-I", f.Chain, "-s", addr.String(), "-j", "DROP")
}

func (f *IPTables) Unblock(ctx context.Context, ip string) error {
	addr, err := parseAddr(ip)
	if err != nil {
		return err
	}
	return f.exec(ctx, iptablesFor(addr), "-D", f.Chain, "-s", addr.String(), "-j", "DROP")
}

// iptablesFor picks ip6tables for IPv6 sources; iptables only holds IPv4 rules.
func iptablesFor(addr netip.Addr) string {
	if addr.Is6() {
		return "ip6tables"
	}
	return "iptables"
}

func (f *IPTables) exec(ctx context.Context, tool string, args ...string) error {
	name := tool
	if f.Sudo {
		args = append([]string{tool}, args...)
		name = "sudo"
	}
	out, err := f.run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	if f.logger != nil {
		f.logger.Info("firewall rule applied", "driver", tool, "args", strings.Join(args, " "))
	}
	return nil
}

// Netsh manages one Windows advfirewall rule per blocked IP.
type Netsh struct {
	run    Runner
	logger *slog.Logger
}

func NewNetsh(logger *slog.Logger) *Netsh {
	return &Netsh{run: execRunner, logger: logger}
}

func ruleName(ip string) string {
	return "netwarden_block_" + ip
}

func (f *Netsh) Block(ctx context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	return f.exec(ctx, "advfirewall", "firewall", "add", "rule",
		"name="+ruleName(addr), "dir=in", "action=block", "remoteip="+addr)
}

func (f *Netsh) Unblock(ctx context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	return f.exec(ctx, "advfirewall", "firewall", "delete", "rule", "name="+ruleName(addr))
}

func (f *Netsh) exec(ctx context.Context, args ...string) error {
	out, err := f.run(ctx, "netsh", args...)
	if err != nil {
		return fmt.Errorf("netsh %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	if f.logger != nil {
		f.logger.Info("firewall rule applied", "driver", "netsh", "args", strings.Join(args, " "))
	}
	return nil
}

// Noop records decisions without touching the host firewall.
type Noop struct {
	logger *slog.Logger
}

func NewNoop(logger *slog.Logger) *Noop {
	return &Noop{logger: logger}
}

func (f *Noop) Block(_ context.Context, ip string) error {
	if _, err := parseIP(ip); err != nil {
		return err
	}
	if f.logger != nil {
		f.logger.Info("block (noop firewall)", "ip", ip)
	}
	return nil
}

func (f *Noop) Unblock(_ context.Context, ip string) error {
	if _, err := parseIP(ip); err != nil {
		return err
	}
	if f.logger != nil {
		f.logger.Info("unblock (noop firewall)", "ip", ip)
	}
	return nil
}

// parseAddr rejects anything that is not a single address, so no flag or
// CIDR reaches a command line. IPv4-mapped IPv6 addresses come back as IPv4.
func parseAddr(raw string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q is not an ip address", response.ErrInvalidTarget, raw)
	}
	return addr.Unmap(), nil
}

func parseIP(raw string) (string, error) {
	addr, err := parseAddr(raw)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}
