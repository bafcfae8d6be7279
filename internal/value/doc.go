// Package value defines the constrained value model shared by entity
// properties, module settings and configuration fingerprints.
//
// Values are a sealed set: String, Int, Bool, List and Object. Floats and
// nulls are not representable, which keeps the canonical encoding (RFC 8785
// subset) byte-stable across processes and restarts. Fingerprints are
// SHA-256 digests of that encoding with a domain prefix.
package value
