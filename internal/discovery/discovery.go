// Package discovery finds speakers on the LAN via mDNS and feeds them
// to the supervisor. Static config remains the authority for conflicts:
// an ID that is already registered is never replaced by a discovered one.
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/grandcat/zeroconf"

	"roomctl/internal/model"
)

const (
	DefaultService = "_roomcast._tcp"
	DefaultDomain  = "local."
)

// AddFunc registers one discovered speaker. It returns false when the
// ID was already known.
type AddFunc func(model.Node) bool

// Browser watches mDNS for speaker announcements.
type Browser struct {
	service string
	domain  string
	add     AddFunc
}

func NewBrowser(service, domain string, add AddFunc) *Browser {
	if service == "" {
		service = DefaultService
	}
	if domain == "" {
		domain = DefaultDomain
	}
	return &Browser{service: service, domain: domain, add: add}
}

// Run browses until the context ends. Discovery failures are logged,
// never fatal; statically configured speakers keep working without it.
func (b *Browser) Run(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case entry := <-entries:
				if entry == nil {
					continue
				}
				node, ok := nodeFromEntry(entry.Instance, entry.AddrIPv4, entry.Port)
				if !ok {
					continue
				}
				if b.add(node) {
					log.Printf("discovered speaker id=%s addr=%s", node.ID, node.Address)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, b.service, b.domain, entries); err != nil {
		return fmt.Errorf("mdns browse %s: %w", b.service, err)
	}
	<-ctx.Done()
	return nil
}

// nodeFromEntry maps one mDNS answer to a node. Instance names become
// IDs verbatim apart from lowercasing; entries without an IPv4 address
// are skipped.
func nodeFromEntry(instance string, addrs []net.IP, port int) (model.Node, bool) {
	if instance == "" || len(addrs) == 0 {
		return model.Node{}, false
	}
	return model.Node{
		ID:      strings.ToLower(instance),
		Name:    instance,
		Address: fmt.Sprintf("%s:%d", addrs[0].String(), port),
	}, true
}
