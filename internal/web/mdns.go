package web

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"
)

// MDNSService is the DNS-SD service type the status page is advertised under.
const (
	MDNSService = "_hc-state._tcp"
	MDNSDomain  = "local."
)

// AdvertiseTXT returns the TXT records published with the service.
func AdvertiseTXT(haID string) []string {
	return []string{
		"haid=" + haID,
		"path=/index.json",
	}
}

// Advertise publishes the HTTP server over mDNS. The returned func withdraws
// the record. Registration failure is logged and yields a no-op func.
func Advertise(instance, haID string, port int, log logr.Logger) func() {
	server, err := zeroconf.Register(instance, MDNSService, MDNSDomain, port, AdvertiseTXT(haID), nil)
	if err != nil {
		log.Error(err, "mdns register failed", "instance", instance)
		return func() {}
	}
	log.Info("mdns advertised", "instance", instance, "service", MDNSService, "port", port)
	return server.Shutdown
}

// PortOf extracts the TCP port from a listen address such as ":8080".
func PortOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in listen address %q", addr)
	}
	return port, nil
}
