// Package transcoder moves strings across the host/guest boundary.
//
// Guest memory is a single growable buffer. Any call into the guest,
// including its allocator, may grow it and replace the host's view of it,
// so every access goes through Views, which re-fetches the buffer after
// invalidation.
//
// # Key Types
//
//	Views     - Cached byte and word views of guest memory
//	Proxy     - Guest allocator wrapper with an ownership ledger
//	Encoder   - Writes Go strings as UTF-8 into guest allocations
//	Decoder   - Reads and strictly validates guest UTF-8
//
// # Encoding
//
// The encoder first allocates one byte per host byte and copies the ASCII
// prefix. At the first non-ASCII byte it reallocates to the worst case for
// the remainder (3 bytes each) and encodes the rest in place:
//
//	"naïve"  malloc(6), copy "na", realloc(6 -> 14), encode "ïve", length 6
//
// Guests without realloc get a single allocation of the exact size.
//
// # Ownership
//
// Proxy records every block the host owns with its size. A block passed to
// the guest is Released (the guest frees it); a block the guest returns is
// Adopted and later Freed by the host.
package transcoder
