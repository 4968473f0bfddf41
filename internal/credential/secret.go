package credential

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/tally/pkg/types"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Secret is the JSON document stored under auth.secretId.
type Secret struct {
	AccessToken  string `json:"accessToken"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RefreshToken string `json:"refreshToken"`
}

// NewSecretsClient creates a Secrets Manager client for region.
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// LoadSecret reads and decodes the secret named id.
func LoadSecret(ctx context.Context, api SecretsAPI, id string) (Secret, error) {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return Secret{}, fmt.Errorf("getting secret %q: %w", id, err)
	}
	if out.SecretString == nil {
		return Secret{}, fmt.Errorf("secret %q has no string value", id)
	}
	var s Secret
	if err := json.Unmarshal([]byte(*out.SecretString), &s); err != nil {
		return Secret{}, fmt.Errorf("decoding secret %q: %w", id, err)
	}
	return s, nil
}

// Apply fills empty fields of cfg from the secret.
func (s Secret) Apply(cfg *types.AuthConfig) {
	if cfg.AccessToken == "" {
		cfg.AccessToken = s.AccessToken
	}
	if cfg.ClientID == "" {
		cfg.ClientID = s.ClientID
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = s.ClientSecret
	}
	if cfg.RefreshToken == "" {
		cfg.RefreshToken = s.RefreshToken
	}
}
