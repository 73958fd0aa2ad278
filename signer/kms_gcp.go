package signer

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"

	gcpkms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
)

// gcpOracle signs through a Google Cloud KMS secp256k1 key version.
type gcpOracle struct {
	client  *gcpkms.KeyManagementClient
	keyName string
}

// NewGCPKMS creates a Signer backed by a GCP KMS key version. keyName is the
// full resource name
// (projects/.../locations/.../keyRings/.../cryptoKeys/.../cryptoKeyVersions/N)
// of an EC_SIGN_SECP256K1_SHA256 key.
func NewGCPKMS(ctx context.Context, keyName string) (*Remote, error) {
	client, err := gcpkms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("signer: creating GCP KMS client: %w", err)
	}
	oracle := &gcpOracle{client: client, keyName: keyName}
	return newRemote(ctx, "gcp-kms", oracle)
}

// PublicKey implements digestOracle. GCP returns the SPKI document wrapped
// in PEM.
func (o *gcpOracle) PublicKey(ctx context.Context) ([]byte, error) {
	resp, err := o.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{
		Name: o.keyName,
	})
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode([]byte(resp.Pem))
	if block == nil {
		return nil, errors.New("signer: GCP public key is not PEM")
	}
	return block.Bytes, nil
}

// SignDigest implements digestOracle.
func (o *gcpOracle) SignDigest(ctx context.Context, digest [32]byte) ([]byte, error) {
	resp, err := o.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: o.keyName,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{Sha256: digest[:]},
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Signature, nil
}
