package transfer

import "time"

// Default values for the protocol.
const (
	DefaultTimeout        = 5 * time.Second
	DefaultRequestRetries = 5
	DefaultBlockRetries   = 5
)

// Config carries the knobs shared by both ends of a transfer.
type Config struct {
	// Timeout bounds every single wait for a datagram.
	Timeout time.Duration

	// RequestRetries caps the waits for the first reply to a request.
	RequestRetries int

	// BlockRetries caps consecutive timeouts and tolerated anomalies while
	// waiting on one block. Zero retries forever.
	BlockRetries int

	// AwaitFinalAck makes the sender wait for the acknowledgement of the
	// terminal block instead of finishing as soon as it is sent.
	AwaitFinalAck bool
}

func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		RequestRetries: DefaultRequestRetries,
		BlockRetries:   DefaultBlockRetries,
	}
}

// WithDefaults fills in a missing timeout.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// RequestPolicy governs the wait for the first reply to a request.
func (c Config) RequestPolicy() Policy { return Policy{Max: c.RequestRetries} }

// BlockPolicy governs the steady-state exchange of one block.
func (c Config) BlockPolicy() Policy { return Policy{Max: c.BlockRetries} }

// Decision is the outcome of consulting a Policy.
type Decision int

const (
	Retry Decision = iota
	Abort
)

func (d Decision) String() string {
	if d == Abort {
		return "abort"
	}
	return "retry"
}

// Policy decides whether another wait is allowed after a failed one.
type Policy struct {
	// Max is the number of failed waits tolerated. Zero or less is unbounded.
	Max int
}

// OnTimeout reports whether the attempt-th consecutive failure still allows
// a retransmission.
func (p Policy) OnTimeout(attempt int) Decision {
	if p.Max <= 0 || attempt < p.Max {
		return Retry
	}
	return Abort
}
