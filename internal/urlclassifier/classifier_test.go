package urlclassifier

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		host string
		want Kind
	}{
		{"writer cluster", "mydb.cluster-abc123.us-east-1.rds.amazonaws.com", KindWriterCluster},
		{"reader cluster", "mydb.cluster-ro-abc123.us-east-1.rds.amazonaws.com", KindReaderCluster},
		{"custom cluster", "mydb.cluster-custom-abc123.us-east-1.rds.amazonaws.com", KindCustomCluster},
		{"limitless", "mydb.shardgrp-abc123.us-east-1.rds.amazonaws.com", KindLimitless},
		{"instance", "mydb-instance-1.abc123.us-east-1.rds.amazonaws.com", KindInstance},
		{"other", "my-on-prem-host.example.com", KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.host)
			if got.Kind != tt.want {
				t.Fatalf("Classify(%q).Kind = %v, want %v", tt.host, got.Kind, tt.want)
			}
		})
	}
}

func TestDeriveClusterID(t *testing.T) {
	c := Classify("mydb.cluster-abc123.us-east-1.rds.amazonaws.com")
	if got := c.DeriveClusterID("ignored"); got != "mydb" {
		t.Fatalf("got %q, want mydb", got)
	}

	instance := Classify("mydb-instance-1.abc123.us-east-1.rds.amazonaws.com")
	if got := instance.DeriveClusterID("discovered-cluster"); got != "discovered-cluster" {
		t.Fatalf("got %q, want discovered-cluster", got)
	}
	if got := instance.DeriveClusterID(""); got != "mydb-instance-1" {
		t.Fatalf("got %q, want synthesized instance id", got)
	}
}
