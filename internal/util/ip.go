package util

import "net"

// getLocalIP returns the first non-loopback IPv4 address, falling back to
// localhost when none is found.
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

// ResolveHost turns a listen address into something a client can dial.
// 0.0.0.0 becomes the machine's local IP; hostnames resolve to their first
// address; anything unresolvable passes through unchanged.
func ResolveHost(host string) string {
	if host == "" || host == "localhost" {
		return "localhost"
	}
	if host == "0.0.0.0" {
		return getLocalIP()
	}
	if ip := net.ParseIP(host); ip != nil {
		return host
	}
	ips, err := net.LookupHost(host)
	if err != nil || len(ips) == 0 {
		return host
	}
	return ips[0]
}
