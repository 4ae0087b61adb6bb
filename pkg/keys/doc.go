// Package keys owns the device signing keypair.
//
// The Custodian generates an RSA-2048 key on first use, persists it through a
// store.Store, and reloads the same key on every later start, so the public
// key registered with the gateway stays valid for the life of the device
// identity. Callers never see private key bytes: signing goes through the
// opaque Handle capability.
//
//	custodian := keys.NewCustodian(st)
//	pair, err := custodian.EnsureKeyPair()
//	sig, err := pair.Handle.Sign([]byte("ACCESS:" + jti))
package keys
