package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	MESHTASTIC_SERVICE = "_meshtastic._tcp"
	DISCOVERY_DOMAIN   = "local."
	DISCOVERY_TIMEOUT  = 5 * time.Second
)

// Gateway is a mesh radio advertising itself over mDNS.
type Gateway struct {
	Instance string
	Hostname string
	IP       string
	Port     int
}

// Host is the address the HTTP node client should talk to.
func (gateway Gateway) Host() string {
	return gateway.IP
}

// APIAddress is the advertised TCP API endpoint.
func (gateway Gateway) APIAddress() string {
	return net.JoinHostPort(gateway.IP, strconv.Itoa(gateway.Port))
}

// Discover browses the local network for mesh gateways until timeout or ctx ends.
func Discover(ctx context.Context, timeout time.Duration, logger *slog.Logger) ([]Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, MESHTASTIC_SERVICE, DISCOVERY_DOMAIN, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for gateways: %w", err)
	}

	seen := make(map[string]bool)
	var gateways []Gateway

loop:
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				break loop
			}

			gateway, ok := gatewayFromEntry(entry)
			if !ok || seen[gateway.APIAddress()] {
				continue
			}
			seen[gateway.APIAddress()] = true

			logger.Debug("Gateway discovered", "instance", gateway.Instance, "hostname", gateway.Hostname, "ip", gateway.IP)
			gateways = append(gateways, gateway)
		case <-browseCtx.Done():
			break loop
		}
	}

	return gateways, nil
}

func gatewayFromEntry(entry *zeroconf.ServiceEntry) (Gateway, bool) {
	if entry == nil {
		return Gateway{}, false
	}

	var ip string
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0].String()
	default:
		return Gateway{}, false
	}

	return Gateway{
		Instance: entry.Instance,
		Hostname: entry.HostName,
		IP:       ip,
		Port:     entry.Port,
	}, true
}
