/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package util

import (
	"context"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/dnscache"
)

const (
	dnsRefreshInterval = 5 * time.Minute
)

type (
	// DnsCacheHelper dials through a cached resolver and spreads connections over the
	// resolved addresses.
	DnsCacheHelper struct {
		resolver    *dnscache.Resolver
		nextIpIndex int64
		stopCh      chan struct{}
		stopOnce    sync.Once
	}
)

var (
	hostname string

	sharedDnsCache     *DnsCacheHelper
	sharedDnsCacheOnce sync.Once
)

func init() {
	if h, err := os.Hostname(); err == nil && h != "" {
		hostname = h
	} else {
		hostname = "unknown"
	}
}

func GetHostname() string {
	return hostname
}

func NewDnsCacheHelper() *DnsCacheHelper {
	h := &DnsCacheHelper{
		resolver: &dnscache.Resolver{},
		stopCh:   make(chan struct{}),
	}
	h.resolver.RefreshWithOptions(dnscache.ResolverRefreshOptions{
		ClearUnused:      true,
		PersistOnFailure: false,
	})
	return h
}

// SharedDnsCacheHelper returns a started helper shared by every outbound client of the process.
func SharedDnsCacheHelper() *DnsCacheHelper {
	sharedDnsCacheOnce.Do(func() {
		sharedDnsCache = NewDnsCacheHelper()
		sharedDnsCache.Start()
	})
	return sharedDnsCache
}

// Start refreshes cached entries in background until Stop.
func (h *DnsCacheHelper) Start() {
	go func() {
		ticker := time.NewTicker(dnsRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.resolver.Refresh(true)
			}
		}
	}()
}

func (h *DnsCacheHelper) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *DnsCacheHelper) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := h.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	size := len(ips)
	var lastErr error
	for i := 0; i < size; i++ {
		index := atomic.AddInt64(&h.nextIpIndex, 1)
		ip := ips[int(index)%size]

		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// NewHttpClient returns a client dialing through h. A zero timeout means no client timeout.
func (h *DnsCacheHelper) NewHttpClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = h.Dial
	return &http.Client{Transport: transport, Timeout: timeout}
}

func ReplaceHost(hostport string, host string) string {
	_, port, err := net.SplitHostPort(hostport)
	if err == nil {
		return net.JoinHostPort(host, port)
	}
	return host
}
