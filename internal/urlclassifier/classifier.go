// Package urlclassifier parses an RDS/Aurora hostname into its endpoint
// kind and extracts cluster/instance identifiers, per spec.md §2 L6.
package urlclassifier

import "regexp"

// Kind is the classified shape of a database hostname.
type Kind string

const (
	KindWriterCluster Kind = "writer-cluster"
	KindReaderCluster Kind = "reader-cluster"
	KindInstance      Kind = "instance"
	KindCustomCluster Kind = "custom-cluster"
	KindLimitless     Kind = "limitless"
	KindOther         Kind = "other"
)

// Classification is the result of classifying one hostname.
type Classification struct {
	Kind       Kind
	ClusterID  string // derived cluster identifier, when determinable
	InstanceID string // derived instance identifier, when determinable (KindInstance)
}

var (
	// <cluster>.cluster-<suffix>.<region>.rds.amazonaws.com
	reWriterCluster = regexp.MustCompile(`^([a-zA-Z0-9-]+)\.cluster-([a-zA-Z0-9]+)\.([a-zA-Z0-9-]+)\.rds\.amazonaws\.com$`)
	// <cluster>.cluster-ro-<suffix>.<region>.rds.amazonaws.com
	reReaderCluster = regexp.MustCompile(`^([a-zA-Z0-9-]+)\.cluster-ro-([a-zA-Z0-9]+)\.([a-zA-Z0-9-]+)\.rds\.amazonaws\.com$`)
	// <cluster>.cluster-custom-<suffix>.<region>.rds.amazonaws.com
	reCustomCluster = regexp.MustCompile(`^([a-zA-Z0-9-]+)\.cluster-custom-([a-zA-Z0-9]+)\.([a-zA-Z0-9-]+)\.rds\.amazonaws\.com$`)
	// <instance>.<suffix>.<region>.rds.amazonaws.com  (instance endpoint)
	reInstance = regexp.MustCompile(`^([a-zA-Z0-9-]+)\.([a-zA-Z0-9]+)\.([a-zA-Z0-9-]+)\.rds\.amazonaws\.com$`)
	// Aurora Limitless shard-group endpoint.
	reLimitless = regexp.MustCompile(`^([a-zA-Z0-9-]+)\.shardgrp-([a-zA-Z0-9]+)\.([a-zA-Z0-9-]+)\.rds\.amazonaws\.com$`)
)

// Classify inspects host and returns its Kind and any identifiers it can
// derive from the DNS shape alone (no network access).
func Classify(host string) Classification {
	if m := reWriterCluster.FindStringSubmatch(host); m != nil {
		return Classification{Kind: KindWriterCluster, ClusterID: m[1]}
	}
	if m := reReaderCluster.FindStringSubmatch(host); m != nil {
		return Classification{Kind: KindReaderCluster, ClusterID: m[1]}
	}
	if m := reCustomCluster.FindStringSubmatch(host); m != nil {
		return Classification{Kind: KindCustomCluster, ClusterID: m[1]}
	}
	if m := reLimitless.FindStringSubmatch(host); m != nil {
		return Classification{Kind: KindLimitless, ClusterID: m[1]}
	}
	if m := reInstance.FindStringSubmatch(host); m != nil {
		return Classification{Kind: KindInstance, InstanceID: m[1]}
	}
	return Classification{Kind: KindOther}
}

// IsRDS reports whether host was recognized as any RDS/Aurora DNS shape.
func (c Classification) IsRDS() bool { return c.Kind != KindOther }

// DeriveClusterID returns the ClusterId to use for a fresh connection,
// implementing spec.md §3's rule that a writer-cluster, reader-cluster, or
// instance endpoint belonging to the same Aurora cluster share one ClusterId.
// For instance endpoints the caller supplies the instance's reported cluster
// membership (from a topology query) since DNS alone cannot reveal it; until
// that is known, a synthesized ID (the instance identifier) is used.
func (c Classification) DeriveClusterID(discoveredClusterID string) string {
	if c.ClusterID != "" {
		return c.ClusterID
	}
	if discoveredClusterID != "" {
		return discoveredClusterID
	}
	return c.InstanceID
}
