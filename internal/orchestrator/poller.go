package orchestrator

import (
	"context"
	"errors"

	"chzzk-recorder/internal/chzzk"
)

// LiveAPI is the part of the chzzk client the poller needs.
type LiveAPI interface {
	LiveDetail(ctx context.Context, channelID string, cookies chzzk.Cookies) (*chzzk.LiveDetail, error)
}

// Poller checks one channel's liveness. It has no side effects.
type Poller struct {
	api   LiveAPI
	creds CredentialProvider
}

// NewPoller returns a Poller reading cookies from creds on every call.
func NewPoller(api LiveAPI, creds CredentialProvider) *Poller {
	return &Poller{api: api, creds: creds}
}

// Poll returns the channel's liveness. Errors are ErrMissingCredentials or a
// *TransientError; neither should change recording state.
func (p *Poller) Poll(ctx context.Context, ch Channel) (LivenessEvent, error) {
	creds, err := p.creds.Credentials(ctx)
	if err != nil {
		return LivenessEvent{}, &TransientError{Reason: "credentials_unavailable", Err: err}
	}
	if !creds.Valid() {
		return LivenessEvent{}, ErrMissingCredentials
	}

	detail, err := p.api.LiveDetail(ctx, ch.ChannelID, creds.Cookies())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return LivenessEvent{}, err
		}
		return LivenessEvent{}, &TransientError{Reason: "unreachable", Err: err}
	}
	if !detail.Open() {
		return LivenessEvent{Live: false}, nil
	}
	return LivenessEvent{
		Live:  true,
		Title: detail.LiveTitle,
		Metadata: LiveMetadata{
			Category: detail.Category,
			LiveID:   detail.LiveID,
			OpenDate: detail.OpenDate,
			Adult:    detail.Adult,
		},
	}, nil
}
