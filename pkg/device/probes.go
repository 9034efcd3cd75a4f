package device

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// StorageProbe reports free space on the volume holding capture files.
type StorageProbe interface {
	FreePercent(ctx context.Context) (float64, error)
}

// Connectivity reports network reachability and whether the link is metered.
type Connectivity interface {
	IsConnected(ctx context.Context) bool
	IsUnmetered(ctx context.Context) bool
}

// PowerSource reports whether the device is on external power.
type PowerSource interface {
	IsCharging(ctx context.Context) bool
}

// HostStorageProbe reads disk usage for a path.
type HostStorageProbe struct {
	Path string
}

var _ StorageProbe = HostStorageProbe{}

func (p HostStorageProbe) FreePercent(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, p.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage for %s: %w", p.Path, err)
	}
	return 100 - usage.UsedPercent, nil
}

// meteredPrefixes name cellular and dial-up interfaces.
var meteredPrefixes = []string{"rmnet", "wwan", "ccmni", "ppp", "usb"}

// HostConnectivity dials a probe address for reachability and inspects host
// interfaces to decide whether the active link is metered.
type HostConnectivity struct {
	ProbeAddr string
	Timeout   time.Duration

	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	interfaces func(ctx context.Context) (psnet.InterfaceStatList, error)
}

var _ Connectivity = (*HostConnectivity)(nil)

// NewHostConnectivity creates a probe. An empty addr only checks for an up,
// addressed, non-loopback interface.
func NewHostConnectivity(addr string, timeout time.Duration) *HostConnectivity {
	d := &net.Dialer{}
	return &HostConnectivity{
		ProbeAddr:  addr,
		Timeout:    timeout,
		dial:       d.DialContext,
		interfaces: psnet.InterfacesWithContext,
	}
}

func (c *HostConnectivity) IsConnected(ctx context.Context) bool {
	if len(c.activeInterfaces(ctx)) == 0 {
		return false
	}
	if c.ProbeAddr == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	conn, err := c.dial(ctx, "tcp", c.ProbeAddr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *HostConnectivity) IsUnmetered(ctx context.Context) bool {
	for _, name := range c.activeInterfaces(ctx) {
		if !isMetered(name) {
			return true
		}
	}
	return false
}

// activeInterfaces returns up, addressed, non-loopback interface names.
func (c *HostConnectivity) activeInterfaces(ctx context.Context) []string {
	list, err := c.interfaces(ctx)
	if err != nil {
		return nil
	}
	var names []string
	for _, iface := range list {
		if len(iface.Addrs) == 0 || !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		names = append(names, iface.Name)
	}
	return names
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func isMetered(name string) bool {
	for _, p := range meteredPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// SysfsPowerSource reads the kernel power-supply class. A host with no power
// supplies listed is treated as mains powered.
type SysfsPowerSource struct {
	Dir string
}

var _ PowerSource = SysfsPowerSource{}

func (p SysfsPowerSource) IsCharging(_ context.Context) bool {
	entries, err := os.ReadDir(p.Dir)
	if err != nil || len(entries) == 0 {
		return true
	}

	sawExternal := false
	for _, e := range entries {
		supply := filepath.Join(p.Dir, e.Name())
		kind := readTrimmed(filepath.Join(supply, "type"))
		if kind == "Battery" {
			if readTrimmed(filepath.Join(supply, "status")) == "Charging" {
				return true
			}
			continue
		}
		online := readTrimmed(filepath.Join(supply, "online"))
		if online == "" {
			continue
		}
		sawExternal = true
		if online == "1" {
			return true
		}
	}
	return !sawExternal && !hasBattery(p.Dir, entries)
}

func hasBattery(dir string, entries []os.DirEntry) bool {
	for _, e := range entries {
		if readTrimmed(filepath.Join(dir, e.Name(), "type")) == "Battery" {
			return true
		}
	}
	return false
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
