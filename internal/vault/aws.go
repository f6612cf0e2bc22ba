package vault

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSConfig holds connection settings for the AWS-backed vault.
//
// BaseEndpoint is optional and mainly useful for localstack-style setups;
// static credentials are only applied when both AccessKey and SecretKey are
// set, otherwise the default provider chain is used.
type AWSConfig struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
}

// AWS implements Vault on KMS (decryption) and Secrets Manager (secrets).
type AWS struct {
	kms     *kms.Client
	secrets *secretsmanager.Client
}

var _ Vault = (*AWS)(nil)

// NewAWS builds the KMS and Secrets Manager clients.
func NewAWS(ctx context.Context, cfg AWSConfig) (*AWS, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vault: load aws config: %w", err)
	}

	v := &AWS{}
	v.kms = kms.NewFromConfig(awsCfg, func(o *kms.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
	})
	v.secrets = secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
	})
	return v, nil
}

func (v *AWS) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}
	out, err := v.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		// The provider error may reference key ids; keep it out of the surface.
		return "", ErrDecryption
	}
	return string(out.Plaintext), nil
}

func (v *AWS) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := v.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrSecretNotFound, name)
	}
	return *out.SecretString, nil
}
