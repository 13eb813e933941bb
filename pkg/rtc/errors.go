// Package rtc establishes and tears down the peer connection that carries
// microphone audio to the realtime model and model events back over a data
// channel. Negotiation is non-trickle: a single offer/answer exchange over
// HTTPS authorized by a short-lived credential minted by the relay.
package rtc

import "errors"

var (
	// ErrPermissionDenied means the capture device could not be opened,
	// even with the minimal constraint fallback.
	ErrPermissionDenied = errors.New("rtc: capture permission denied")

	// ErrSessionFetchFailed means the relay refused to mint an ephemeral
	// credential for the session.
	ErrSessionFetchFailed = errors.New("rtc: session credential fetch failed")

	// ErrSdpExchangeFailed means the signaling endpoint rejected the offer.
	ErrSdpExchangeFailed = errors.New("rtc: sdp exchange failed")

	// ErrNetworkError means the offer never reached the signaling endpoint.
	ErrNetworkError = errors.New("rtc: network error")

	// ErrConnectInProgress means Connect was called while another Connect
	// was still negotiating. The session layer serializes its calls, so
	// only direct library users see it.
	ErrConnectInProgress = errors.New("rtc: connect already in progress")
)
