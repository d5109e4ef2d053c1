/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import "testing"

func TestParseConnectionStringBasic(t *testing.T) {
	cs, err := ParseConnectionString("couchbase://node1,node2:11210/travel-sample?network=external")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.Scheme != SchemeCouchbase {
		t.Fatalf("scheme = %v", cs.Scheme)
	}
	if len(cs.Hosts) != 2 || cs.Hosts[0].Name != "node1" || cs.Hosts[0].Port != 0 {
		t.Fatalf("unexpected hosts: %+v", cs.Hosts)
	}
	if cs.Hosts[1].Name != "node2" || cs.Hosts[1].Port != 11210 {
		t.Fatalf("unexpected hosts[1]: %+v", cs.Hosts[1])
	}
	if cs.Bucket != "travel-sample" {
		t.Fatalf("bucket = %q", cs.Bucket)
	}
	if cs.Options["network"] != "external" {
		t.Fatalf("options = %+v", cs.Options)
	}
}

func TestParseConnectionStringRejectsUnknownScheme(t *testing.T) {
	if _, err := ParseConnectionString("ftp://node1"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestParseConnectionStringRequiresHost(t *testing.T) {
	if _, err := ParseConnectionString("couchbase:///bucket"); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestSplitServiceProto(t *testing.T) {
	sp := splitServiceProto("_couchbase._tcp")
	if sp.service != "couchbase" || sp.proto != "tcp" {
		t.Fatalf("got %+v", sp)
	}
}
