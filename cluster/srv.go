/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"context"
	"net"
	"sort"

	"github.com/richardsmedley/cbcore/cberr"
)

// defaultKVPort/defaultKVPortTLS are used when a host carries no explicit
// port and DNS-SRV expansion yields nothing (a bare single-host shortcut,
// common in test/dev connection strings).
const (
	defaultKVPort    = 11210
	defaultKVPortTLS = 11207
)

// ResolveSeeds turns cs's Hosts into a concrete, ordered list of
// "host:port" endpoints to try during bootstrap (spec.md §4.5: "A single
// host with no port triggers DNS-SRV expansion ... Seed nodes are tried in
// order until one produces a cluster config").
func ResolveSeeds(ctx context.Context, cs ConnectionString, resolver *net.Resolver) ([]string, error) {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if len(cs.Hosts) == 1 && cs.Hosts[0].Port == 0 {
		if expanded, err := expandSRV(ctx, resolver, cs.Scheme, cs.Hosts[0].Name); err == nil && len(expanded) > 0 {
			return expanded, nil
		}
	}
	out := make([]string, 0, len(cs.Hosts))
	defaultPort := defaultKVPort
	if cs.Scheme.useTLS() {
		defaultPort = defaultKVPortTLS
	}
	for _, h := range cs.Hosts {
		port := h.Port
		if port == 0 {
			port = defaultPort
		}
		out = append(out, net.JoinHostPort(h.Name, itoa(port)))
	}
	return out, nil
}

// expandSRV looks up the scheme's _service._tcp.<host> SRV record and
// returns candidate endpoints ordered by priority then weight, the
// standard RFC 2782 preference order.
func expandSRV(ctx context.Context, resolver *net.Resolver, scheme Scheme, host string) ([]string, error) {
	service := scheme.srvRecord()
	if service == "" {
		return nil, cberr.New(cberr.ErrInvalidArgument, "scheme has no SRV record")
	}
	parts := splitServiceProto(service)
	_, records, err := resolver.LookupSRV(ctx, parts.service, parts.proto, host)
	if err != nil {
		return nil, cberr.Wrap(cberr.ErrInvalidArgument, "SRV lookup: "+host, err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})
	out := make([]string, 0, len(records))
	for _, r := range records {
		target := r.Target
		if len(target) > 0 && target[len(target)-1] == '.' {
			target = target[:len(target)-1]
		}
		out = append(out, net.JoinHostPort(target, itoa(int(r.Port))))
	}
	return out, nil
}

type serviceProto struct{ service, proto string }

// splitServiceProto turns "_couchbase._tcp" into ("couchbase", "tcp") —
// the (service, proto) pair net.Resolver.LookupSRV expects separately,
// rather than as one dotted record name.
func splitServiceProto(record string) serviceProto {
	var service, proto string
	start := 0
	for i := 0; i < len(record); i++ {
		if record[i] == '.' {
			if service == "" {
				service = record[start+1 : i] // skip leading underscore
			} else {
				proto = record[start+1 : i]
			}
			start = i
		}
	}
	if proto == "" && start+1 < len(record) {
		proto = record[start+2:] // start is the dot; start+1 is the leading underscore
	}
	return serviceProto{service: service, proto: proto}
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
