// Package venue holds the shared vocabulary of the matching engine: sides,
// time-in-force, self-match policies, packed order identifiers, the error
// taxonomy, and the collaborator interfaces the engine consumes.
//
// Prices and quantities are 64-bit unsigned fixed-point integers in an
// externally agreed decimal scale. Timestamps are milliseconds; an expiry of
// zero means never-expiring.
package venue

type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// TimeInForce controls what happens to the unmatched remainder of a placement.
type TimeInForce uint8

const (
	// TIFDefault fills what it can, then posts the remainder as a resting order.
	TIFDefault TimeInForce = iota
	// TIFIOC fills what it can and discards the remainder; nothing is posted.
	TIFIOC
	// TIFFOK aborts the whole call unless the full size is matchable, then
	// executes as IOC.
	TIFFOK
)

func (t TimeInForce) String() string {
	switch t {
	case TIFIOC:
		return "ioc"
	case TIFFOK:
		return "fok"
	default:
		return "default"
	}
}

// SelfMatchPolicy decides what a fill-plan walk does when it reaches a resting
// order owned by the taker.
type SelfMatchPolicy uint8

const (
	// SelfMatchSkip walks past the taker's own resting orders.
	SelfMatchSkip SelfMatchPolicy = iota
	// SelfMatchReject aborts the call with ErrSelfMatch.
	SelfMatchReject
	// SelfMatchAllow lets the taker trade against itself.
	SelfMatchAllow
)

func (p SelfMatchPolicy) String() string {
	switch p {
	case SelfMatchReject:
		return "reject"
	case SelfMatchAllow:
		return "allow"
	default:
		return "skip"
	}
}
