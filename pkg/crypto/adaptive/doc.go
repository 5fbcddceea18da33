// Package adaptive seals byte payloads with an AEAD chosen by name.
//
// Two algorithms are supported, AES-256-GCM ("aes-gcm", the default) and
// ChaCha20-Poly1305 ("chacha20-poly1305"). The algorithm name is what gets
// recorded next to sealed data, so a reader can rebuild the same AEAD
// without guessing.
//
// Sealed output is the random nonce followed by the ciphertext and tag.
//
// @adr AD-0201
package adaptive
