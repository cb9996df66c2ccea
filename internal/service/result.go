package service

// Result is the outcome of authenticating a presented bearer token: either Authenticated or
// Rejected. No other implementations exist.
type Result interface {
	isResult()
}

// Authenticated means the token is accepted. RotatedToken is non-empty only when the session
// was past its refresh window and a replacement token was minted; the client must switch to it.
type Authenticated struct {
	UserID       string
	SessionID    string
	RotatedToken string
}

func (Authenticated) isResult() {}

// Rotated reports whether a replacement token was issued.
func (a Authenticated) Rotated() bool { return a.RotatedToken != "" }

// Rejected carries the internal reason a token was refused. Reasons are for logs and tests
// only; every rejection looks the same to clients.
type Rejected struct {
	Reason RejectReason
}

func (Rejected) isResult() {}

type RejectReason int

const (
	ReasonMalformed RejectReason = iota + 1
	ReasonUnknown
	ReasonPrincipalGone
	ReasonMaterialMismatch
	ReasonHardExpired
)

func (r RejectReason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonUnknown:
		return "unknown"
	case ReasonPrincipalGone:
		return "principal_gone"
	case ReasonMaterialMismatch:
		return "material_mismatch"
	case ReasonHardExpired:
		return "hard_expired"
	default:
		return "invalid"
	}
}
