// Package controlplane defines the narrow client interfaces clusterlink
// consumes from the AWS control plane, per spec.md §1/§6: RDS
// DescribeDBClusterEndpoints for the custom-endpoint monitor, STS
// AssumeRoleWithSAML and Secrets Manager GetSecretValue for the federated-
// auth and secrets-manager plugins. Each interface's method signature
// mirrors the corresponding aws-sdk-go-v2 client method exactly, so a
// production binary can pass *rds.Client / *sts.Client /
// *secretsmanager.Client directly without an adapter.
package controlplane

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// RDSClient is the subset of *rds.Client the custom-endpoint monitor needs.
type RDSClient interface {
	DescribeDBClusterEndpoints(ctx context.Context, params *rds.DescribeDBClusterEndpointsInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClusterEndpointsOutput, error)
}

// STSClient is the subset of *sts.Client the federated-auth plugin needs.
type STSClient interface {
	AssumeRoleWithSAML(ctx context.Context, params *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error)
}

// SecretsManagerClient is the subset of *secretsmanager.Client the
// secrets-manager plugin needs.
type SecretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}
