// Package discovery advertises and resolves session servers over mDNS,
// adapted from the teacher's pkg/discovery onto this module's naming:
// servers advertise a screen name under one fixed service type, and Resolve
// browses for a server by that name. session/client does not call this
// package: its Resolving state hands the address it was given straight to
// its Dialer.
package discovery

import "net"

// ServiceType is the mDNS service type session servers advertise under.
const ServiceType = "_deskbridge._tcp"

// DefaultDomain is the mDNS domain session servers advertise in.
const DefaultDomain = "local"

// Server describes one discoverable session server: its screen name
// (spec.md §3 "Screen identity", unique within a server session and used
// here as the mDNS instance name too), address and port.
type Server struct {
	Name   string
	Domain string
	Addr   net.IP
	Port   int
}
