package crypto

// ZeroBytes overwrites the given slice with zeros so key material does not
// linger in memory after use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
