// Package cluster is the top-level coordinator: it bootstraps from a
// connection string, maintains the set of open Buckets, and dispatches
// HTTP service requests (query, analytics, search, view, management) to
// an eligible node (spec.md §4.5).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/richardsmedley/cbcore/cberr"
)

// Scheme is the connection-string scheme, selecting TLS and the default
// DNS-SRV record name.
type Scheme string

const (
	SchemeCouchbase  Scheme = "couchbase"
	SchemeCouchbases Scheme = "couchbases"
	SchemeHTTP       Scheme = "http"
	SchemeHTTPS      Scheme = "https"
)

func (s Scheme) useTLS() bool { return s == SchemeCouchbases || s == SchemeHTTPS }

// srvRecord returns the DNS-SRV service name for s, or "" if s doesn't
// support SRV-based seed expansion (the plain HTTP schemes never do).
func (s Scheme) srvRecord() string {
	switch s {
	case SchemeCouchbase:
		return "_couchbase._tcp"
	case SchemeCouchbases:
		return "_couchbases._tcp"
	}
	return ""
}

// Host is one seed address parsed out of the connection string; Port is 0
// when the caller didn't specify one (DNS-SRV expansion candidate).
type Host struct {
	Name string
	Port int
}

// ConnectionString is the parsed form of `scheme://host[,host…][/bucket]?opt=…`
// (spec.md §4.5/§6).
type ConnectionString struct {
	Scheme  Scheme
	Hosts   []Host
	Bucket  string
	Options map[string]string
}

// ParseConnectionString parses raw per spec.md §4.5's grammar.
func ParseConnectionString(raw string) (ConnectionString, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ConnectionString{}, cberr.Wrap(cberr.ErrInvalidArgument, "connection string", err)
	}
	scheme := Scheme(u.Scheme)
	switch scheme {
	case SchemeCouchbase, SchemeCouchbases, SchemeHTTP, SchemeHTTPS:
	default:
		return ConnectionString{}, cberr.New(cberr.ErrInvalidArgument, "unsupported scheme: "+u.Scheme)
	}
	hosts, err := parseHosts(u.Host)
	if err != nil {
		return ConnectionString{}, err
	}
	cs := ConnectionString{
		Scheme:  scheme,
		Hosts:   hosts,
		Bucket:  strings.Trim(u.Path, "/"),
		Options: make(map[string]string),
	}
	for k, v := range u.Query() {
		if len(v) > 0 {
			cs.Options[k] = v[0]
		}
	}
	return cs, nil
}

// parseHosts splits the comma-joined authority component u.Host emits into
// individual Host entries with optional ports.
func parseHosts(authority string) ([]Host, error) {
	parts := strings.Split(authority, ",")
	hosts := make([]Host, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, portStr, hasPort := cutLast(p, ':')
		h := Host{Name: name}
		if hasPort {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, cberr.Wrap(cberr.ErrInvalidArgument, "host port: "+p, err)
			}
			h.Port = port
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, cberr.New(cberr.ErrInvalidArgument, "connection string has no hosts")
	}
	return hosts, nil
}

// cutLast splits s on the final occurrence of sep, the shape needed for
// "host:port" where host may itself be a bracketed IPv6 literal containing
// colons.
func cutLast(s string, sep byte) (before, after string, found bool) {
	i := strings.LastIndexByte(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}
