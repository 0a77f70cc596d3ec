package protocol

import "errors"

var (
	ErrSessionClosed      = errors.New("protocol: session closed")
	ErrConnectRejected    = errors.New("protocol: connect rejected")
	ErrPairingUnavailable = errors.New("protocol: pairing unavailable")
	ErrAlreadySubscribed  = errors.New("protocol: already subscribed")
)
