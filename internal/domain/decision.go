// Package domain defines shared domain types and constants.
package domain

// DeclineReason explains why a join request was refused.
type DeclineReason int

const (
	// DeclineNone is the zero reason carried by accepting decisions.
	DeclineNone DeclineReason = iota
	// DeclineWrongChat means the request targeted a chat other than the main group.
	DeclineWrongChat
	// DeclineUnapproved means no live approval entry exists for the user.
	DeclineUnapproved
	// DeclineTokenMismatch means the presented invite token is not the recorded one.
	DeclineTokenMismatch
)

func (r DeclineReason) String() string {
	switch r {
	case DeclineWrongChat:
		return "wrong chat"
	case DeclineUnapproved:
		return "unapproved"
	case DeclineTokenMismatch:
		return "token mismatch"
	default:
		return "none"
	}
}

// Decision is the outcome of resolving a join request against the approval
// ledger. On accept, Token carries the consumed invite link so the caller can
// revoke it after admitting the user.
type Decision struct {
	Accept bool
	Reason DeclineReason
	Token  string
}

// Declined constructs a declining decision with the given reason.
func Declined(reason DeclineReason) Decision {
	return Decision{Reason: reason}
}

// Accepted constructs an accepting decision that consumed the given token.
func Accepted(token string) Decision {
	return Decision{Accept: true, Token: token}
}
