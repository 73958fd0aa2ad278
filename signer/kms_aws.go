package signer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// awsOracle signs through an AWS KMS secp256k1 key.
type awsOracle struct {
	client *kms.Client
	keyID  string
}

// NewAWSKMS creates a Signer backed by an AWS KMS key. The key must be an
// ECC_SECG_P256K1 sign/verify key; the public key is fetched once here.
func NewAWSKMS(ctx context.Context, keyID, region string) (*Remote, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("signer: loading AWS config: %w", err)
	}
	oracle := &awsOracle{client: kms.NewFromConfig(cfg), keyID: keyID}
	return newRemote(ctx, "aws-kms", oracle)
}

// PublicKey implements digestOracle.
func (o *awsOracle) PublicKey(ctx context.Context) ([]byte, error) {
	out, err := o.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(o.keyID),
	})
	if err != nil {
		return nil, err
	}
	return out.PublicKey, nil
}

// SignDigest implements digestOracle. The digest is passed as-is in DIGEST
// mode; KMS must not hash it again.
func (o *awsOracle) SignDigest(ctx context.Context, digest [32]byte) ([]byte, error) {
	out, err := o.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(o.keyID),
		Message:          digest[:],
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, err
	}
	return out.Signature, nil
}
