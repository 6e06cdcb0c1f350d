package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/brutella/dnssd"
)

// Advertise publishes name as a session server reachable at port over
// mDNS, blocking until ctx is cancelled. Grounded on the teacher's
// MDNSAdapter.Announce.
func Advertise(ctx context.Context, name string, port int) error {
	service, err := dnssd.NewService(dnssd.Config{
		Name:   name,
		Type:   ServiceType,
		Domain: DefaultDomain,
		Port:   port,
	})
	if err != nil {
		return fmt.Errorf("discovery: create mDNS service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("discovery: create mDNS responder: %w", err)
	}
	if _, err := responder.Add(service); err != nil {
		return fmt.Errorf("discovery: add mDNS service: %w", err)
	}

	if err := responder.Respond(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("discovery: respond: %w", err)
	}
	return nil
}

// Browse returns a channel of Server snapshots, republished as servers
// are found and lost on the network, until ctx is cancelled. Grounded on
// the teacher's MDNSAdapter.Discover.
func Browse(ctx context.Context) <-chan []Server {
	var (
		mu      sync.Mutex
		entries = make(map[string]Server)
		out     = make(chan []Server, 1)
	)

	publish := func() {
		mu.Lock()
		snapshot := make([]Server, 0, len(entries))
		for _, e := range entries {
			snapshot = append(snapshot, e)
		}
		mu.Unlock()
		select {
		case out <- snapshot:
		default:
		}
	}

	add := func(e dnssd.BrowseEntry) {
		mu.Lock()
		var addr net.IP
		if len(e.IPs) > 0 {
			addr = e.IPs[0]
		}
		entries[entryKey(e)] = Server{Name: e.Name, Domain: e.Domain, Addr: addr, Port: e.Port}
		mu.Unlock()
		publish()
	}
	remove := func(e dnssd.BrowseEntry) {
		mu.Lock()
		delete(entries, entryKey(e))
		mu.Unlock()
		publish()
	}

	go func() {
		defer close(out)
		_ = dnssd.LookupType(ctx, ServiceType, add, remove)
	}()

	return out
}

func entryKey(e dnssd.BrowseEntry) string {
	return fmt.Sprintf("%s.%s.%s", e.Name, e.Type, e.Domain)
}

// Resolve waits for the next Browse snapshot and returns the Server
// matching name, for a caller holding a screen name rather than a literal
// address. Only that first snapshot is searched.
func Resolve(ctx context.Context, name string) (Server, error) {
	ch := Browse(ctx)
	select {
	case servers, ok := <-ch:
		if !ok {
			return Server{}, fmt.Errorf("discovery: browse closed before resolving %q", name)
		}
		for _, s := range servers {
			if s.Name == name {
				return s, nil
			}
		}
		return Server{}, fmt.Errorf("discovery: %q not found", name)
	case <-ctx.Done():
		return Server{}, ctx.Err()
	}
}
