package types

// SecretString wraps sensitive configuration values (API keys, DSNs) so they
// cannot leak through logging or fmt verbs. The raw value must be obtained
// explicitly via Reveal.
type SecretString string

const redactedPlaceholder = "[REDACTED]"

// String implements fmt.Stringer and always returns the redaction marker.
func (s SecretString) String() string { return redactedPlaceholder }

// GoString prevents %#v from leaking the value.
func (s SecretString) GoString() string { return redactedPlaceholder }

// MarshalText redacts the value in any text-based serialization (JSON, logs).
func (s SecretString) MarshalText() ([]byte, error) {
	return []byte(redactedPlaceholder), nil
}

// Reveal returns the underlying secret value.
func (s SecretString) Reveal() string { return string(s) }

// IsEmpty reports whether the secret is unset.
func (s SecretString) IsEmpty() bool { return len(s) == 0 }
