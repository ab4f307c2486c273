package acmecrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPEMRoundTrip(t *testing.T) {
	for _, kt := range []KeyType{EcdsaP256, EcdsaP384, EcdsaP521, Ed25519, Rsa2048} {
		kt := kt
		t.Run(kt.String(), func(t *testing.T) {
			kp, err := GenerateKeyPair(kt)
			require.NoError(t, err)
			pemBytes, err := kp.ToPEM()
			require.NoError(t, err)
			reloaded, err := FromPEM(pemBytes)
			require.NoError(t, err)
			require.Equal(t, kp.Type, reloaded.Type)
		})
	}
}

func TestThumbprintNoPadding(t *testing.T) {
	kp, err := GenerateKeyPair(EcdsaP256)
	require.NoError(t, err)
	thumb, err := kp.JWKThumbprint()
	require.NoError(t, err)
	for _, c := range thumb {
		require.NotEqual(t, '=', c)
		require.NotEqual(t, '+', c)
		require.NotEqual(t, '/', c)
	}
}

func TestKeyTypeCompatibility(t *testing.T) {
	require.NoError(t, EcdsaP256.CheckCompatibility(ES256))
	require.Error(t, EcdsaP256.CheckCompatibility(ES384))
	require.Error(t, Rsa2048.CheckCompatibility(ES256))
}
