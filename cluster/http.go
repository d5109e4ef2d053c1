/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/clustermap"
	"github.com/richardsmedley/cbcore/session"
	"github.com/richardsmedley/cbcore/stats"
	"github.com/richardsmedley/cbcore/wire"
)

// Service identifies one of the HTTP-fronted cluster services (spec.md
// §4.5: "query, analytics, search, view, management").
type Service string

const (
	ServiceQuery      Service = "n1ql"
	ServiceAnalytics  Service = "cbas"
	ServiceSearch     Service = "fts"
	ServiceView       Service = "kv" // views are served off the data service's capi port in this simplified model
	ServiceManagement Service = "mgmt"
)

// httpDispatcher round-robins HTTP service requests across eligible
// nodes, preferring (stickily) the node that last served a given
// client_context_id (spec.md §4.5).
type httpDispatcher struct {
	client *fasthttp.Client
	auth   string
	timeout time.Duration
	stats   *stats.Registry

	mu     sync.Mutex
	rr     map[Service]int            // round-robin cursor per service
	sticky map[string]string          // client_context_id -> node endpoint last used
}

func newHTTPDispatcher(creds session.Credentials, timeout time.Duration, reg *stats.Registry) *httpDispatcher {
	if timeout <= 0 {
		timeout = 75 * time.Second
	}
	if reg == nil {
		reg = stats.Noop()
	}
	return &httpDispatcher{
		client:  &fasthttp.Client{Name: "cbcore"},
		auth:    basicAuthHeader(creds.Username, creds.Password),
		timeout: timeout,
		stats:   reg,
		rr:      make(map[Service]int),
		sticky:  make(map[string]string),
	}
}

func (d *httpDispatcher) close() {
	d.client.CloseIdleConnections()
}

// eligibleNodes returns every node in snap advertising svc, in a stable
// (config) order.
func eligibleNodes(snap *clustermap.Config, svc Service) []*clustermap.NodeInfo {
	var out []*clustermap.NodeInfo
	for _, n := range snap.Nodes {
		if n.HasService(string(svc)) {
			out = append(out, n)
		}
	}
	return out
}

// pick selects the node to use for one request: the sticky node for
// ccid if it is still eligible, otherwise the next node in round-robin
// order (and that choice becomes the new sticky node for ccid).
func (d *httpDispatcher) pick(nodes []*clustermap.NodeInfo, svc Service, ccid string) *clustermap.NodeInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ccid != "" {
		if endpoint, ok := d.sticky[ccid]; ok {
			for _, n := range nodes {
				if n.Hostname == endpoint {
					return n
				}
			}
		}
	}
	idx := d.rr[svc] % len(nodes)
	d.rr[svc] = idx + 1
	n := nodes[idx]
	if ccid != "" {
		d.sticky[ccid] = n.Hostname
	}
	return n
}

// Dispatch sends req to an eligible node for svc, reusing snap's node
// directory for routing (spec.md §4.5: "the Cluster picks any node
// advertising that service in the current config").
func (d *httpDispatcher) Dispatch(snap *clustermap.Config, svc Service, useTLS bool, ccid string, req wire.HTTPRequest) (wire.HTTPResponse, error) {
	nodes := eligibleNodes(snap, svc)
	if len(nodes) == 0 {
		return wire.HTTPResponse{}, cberr.New(cberr.ErrServiceNotAvailable, string(svc))
	}
	node := d.pick(nodes, svc, ccid)
	return d.send(node, svc, useTLS, req)
}

func (d *httpDispatcher) send(node *clustermap.NodeInfo, svc Service, useTLS bool, req wire.HTTPRequest) (wire.HTTPResponse, error) {
	started := time.Now()
	defer func() { d.stats.HTTPRequestLatency.WithLabelValues(string(svc)).Observe(time.Since(started).Seconds()) }()

	port := servicePort(node, svc, useTLS)
	scheme := "http"
	if useTLS {
		scheme = "https"
	}

	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI(scheme + "://" + node.Hostname + ":" + itoa(port) + req.Path)
	freq.Header.SetMethod(req.Method)
	freq.Header.Set("Authorization", d.auth)
	for k, v := range req.Headers {
		freq.Header.Set(k, v)
	}
	freq.SetBody(req.Body)

	if err := d.client.DoTimeout(freq, fresp, d.timeout); err != nil {
		return wire.HTTPResponse{}, cberr.Wrap(cberr.ErrServiceNotAvailable, node.Hostname, err)
	}
	headers := make(map[string]string)
	fresp.Header.VisitAll(func(k, v []byte) { headers[string(k)] = string(v) })
	body := append([]byte(nil), fresp.Body()...)
	return wire.HTTPResponse{Status: fresp.StatusCode(), Headers: headers, Body: body}, nil
}

func servicePort(n *clustermap.NodeInfo, svc Service, useTLS bool) int {
	switch svc {
	case ServiceQuery:
		if useTLS {
			return n.QueryPortTLS
		}
		return n.QueryPort
	case ServiceAnalytics:
		if useTLS {
			return n.AnalyticsPortTLS
		}
		return n.AnalyticsPort
	case ServiceSearch:
		if useTLS {
			return n.SearchPortTLS
		}
		return n.SearchPort
	case ServiceManagement:
		if useTLS {
			return n.MgmtPortTLS
		}
		return n.MgmtPort
	}
	if useTLS {
		return n.KVPortTLS
	}
	return n.KVPort
}
