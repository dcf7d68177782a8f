// Package call owns the local capture and every peer connection of the
// active session, and surfaces one aggregate connection status.
package call

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/zenith-app/calls/internal/domain"
)

type peerRole int

const (
	roleOfferer peerRole = iota
	roleAnswerer
)

func (r peerRole) String() string {
	if r == roleOfferer {
		return "offerer"
	}
	return "answerer"
}

// peerEvents are invoked from pion goroutines; receivers must hop back
// onto the manager mailbox before touching shared state.
type peerEvents struct {
	onLocalCandidate func(remote domain.UserID, c domain.IceCandidate)
	onStateChange    func(remote domain.UserID, s webrtc.PeerConnectionState)
	onTrack          func(remote domain.UserID, t *webrtc.TrackRemote)
}

// peerLink wraps one transport connection to a remote participant. It is
// created once per remote user id and reused for the whole call; a new
// document snapshot must never produce a duplicate.
type peerLink struct {
	remote domain.UserID
	role   peerRole
	pc     *webrtc.PeerConnection

	// remoteSet guards against re-applying an offer or answer; pending
	// buffers candidates that trickled in before the remote description.
	remoteSet bool
	pending   []domain.IceCandidate
	// applied is the count of remote candidates consumed from the
	// append-only list, so snapshot replays are harmless.
	applied int

	state webrtc.PeerConnectionState
}

func newWebRTCAPI() (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	// Generous ICE timeouts: a brief NAT hiccup should not end the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

func newPeerLink(
	api *webrtc.API,
	cfg webrtc.Configuration,
	remote domain.UserID,
	role peerRole,
	local webrtc.TrackLocal,
	ev peerEvents,
) (*peerLink, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	link := &peerLink{remote: remote, role: role, pc: pc, state: webrtc.PeerConnectionStateNew}

	if local != nil {
		if _, err := pc.AddTrack(local); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && ev.onLocalCandidate != nil {
			ev.onLocalCandidate(remote, fromICEInit(c.ToJSON()))
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ev.onStateChange != nil {
			ev.onStateChange(remote, s)
		}
	})
	pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if ev.onTrack != nil {
			ev.onTrack(remote, t)
		}
	})
	return link, nil
}

// createOffer produces the local description for an offerer link.
// Candidates trickle via OnICECandidate, so gathering is not awaited.
func (l *peerLink) createOffer() (domain.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return fromSessionDescription(offer), nil
}

// applyOfferAndAnswer consumes a remote offer exactly once and returns
// the local answer.
func (l *peerLink) applyOfferAndAnswer(offer domain.SessionDescription) (domain.SessionDescription, error) {
	if l.remoteSet {
		return domain.SessionDescription{}, nil
	}
	remote, err := toSessionDescription(offer)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}
	l.remoteSet = true
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	l.drainPending()
	return fromSessionDescription(answer), nil
}

// applyAnswer consumes the remote answer on an offerer link, at most once.
func (l *peerLink) applyAnswer(answer domain.SessionDescription) error {
	if l.remoteSet {
		return nil
	}
	remote, err := toSessionDescription(answer)
	if err != nil {
		return err
	}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	l.remoteSet = true
	l.drainPending()
	return nil
}

// addRemoteCandidate buffers until a remote description exists; silent
// drops are not acceptable for out-of-order delivery.
func (l *peerLink) addRemoteCandidate(c domain.IceCandidate) error {
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	if err := l.pc.AddICECandidate(toICEInit(c)); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (l *peerLink) drainPending() {
	for _, c := range l.pending {
		if err := l.pc.AddICECandidate(toICEInit(c)); err != nil {
			// Individual bad candidates are survivable; the rest may
			// still complete connectivity.
			continue
		}
	}
	l.pending = nil
}

func (l *peerLink) close() {
	_ = l.pc.Close()
}

func fromSessionDescription(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toSessionDescription(d domain.SessionDescription) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(d.Type)
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unknown sdp type %q", domain.ErrStoreUnavailable, d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func fromICEInit(c webrtc.ICECandidateInit) domain.IceCandidate {
	return domain.IceCandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func toICEInit(c domain.IceCandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
