// Package secrets encrypts resource secrets for their readers.
//
// # Encryption Architecture
//
// Every reader of a resource holds their own copy of the secret, encrypted
// for their public key with a hybrid scheme:
//
//  1. A random 256-bit key seals the secret with NaCl secretbox
//  2. The reader's RSA public key wraps that key with RSA-OAEP (SHA-256)
//  3. Both are stored together in a versioned envelope
//
// The envelope layout is:
//
//	version(1) | wrapped key length(2, big endian) | wrapped key | nonce(24) | sealed box
//
// Sealing the same plaintext twice produces different envelopes.
//
// # Re-encryption
//
// Reencryptor turns a change-set into an ordered list of secret operations:
// one create per new reader, a delete followed by a create per rekeyed
// reader, and one delete per reader who lost access. Every recipient key is
// checked before the plaintext is decrypted, so an unusable key abandons the
// resource without producing any operation.
//
// The plaintext is decrypted once per resource with the acting user's private
// key, held in a Plaintext, and zeroed as soon as the last copy is sealed.
// Readers who keep access are not touched.
//
// # Recipient Keys
//
// A key is usable when its algorithm is allowed, it is a public key, it is
// neither revoked nor expired, and it is at least KeyPolicy.MinBits long.
package secrets
