package call

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/zenith-app/calls/internal/core"
	"github.com/zenith-app/calls/internal/domain"
)

// handleSnapshot digests one full session document. It runs on the loop
// and is re-entered for every store write, including our own, so every
// action is guarded by "has this peer / description been seen already".
func (m *Manager) handleSnapshot(gen int, doc *domain.Session) {
	if gen != m.gen || m.status == core.StatusIdle {
		return
	}
	if m.local == nil {
		// No capture installed means the call is not actually up.
		return
	}
	m.roster = doc.Participants

	switch m.role {
	case roleOfferer:
		m.offerNewPeers(gen, doc)
		m.applyAnswers(doc)
	case roleAnswerer:
		m.answerOffers(gen, doc)
	}
	m.applyCandidates(doc)
	m.publish()
}

// offerNewPeers creates an offerer link for every roster entry that has
// no connection yet and writes the offer to the document.
func (m *Manager) offerNewPeers(gen int, doc *domain.Session) {
	for uid := range doc.Participants {
		if uid == m.selfID {
			continue
		}
		if _, ok := m.peers[uid]; ok {
			continue
		}
		link, err := m.newLink(gen, uid, roleOfferer)
		if err != nil {
			log.Error().Err(err).Str("module", "call").Str("peer", string(uid)).Msg("offerer link")
			continue
		}
		offer, err := link.createOffer()
		if err != nil {
			log.Error().Err(err).Str("module", "call").Str("peer", string(uid)).Msg("create offer")
			link.close()
			continue
		}
		m.peers[uid] = link
		sid, self := m.sessionID, m.selfID
		go func(to domain.UserID) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.store.SetOffer(ctx, sid, self, to, offer); err != nil {
				m.writeErr("offer", err)
			}
		}(uid)
		log.Info().Str("module", "call").Str("peer", string(uid)).Msg("offer sent")
	}
}

// answerOffers reacts to offers addressed to us from peers we have no
// connection for. An offer is acted upon once: an existing link means
// its remote description is already set.
func (m *Manager) answerOffers(gen int, doc *domain.Session) {
	for from, byTarget := range doc.Signaling {
		entry := byTarget[m.selfID]
		if entry == nil || entry.Offer == nil {
			continue
		}
		if _, ok := m.peers[from]; ok {
			continue
		}
		link, err := m.newLink(gen, from, roleAnswerer)
		if err != nil {
			log.Error().Err(err).Str("module", "call").Str("peer", string(from)).Msg("answerer link")
			continue
		}
		answer, err := link.applyOfferAndAnswer(*entry.Offer)
		if err != nil {
			log.Error().Err(err).Str("module", "call").Str("peer", string(from)).Msg("apply offer")
			link.close()
			continue
		}
		m.peers[from] = link
		sid, self := m.sessionID, m.selfID
		go func(to domain.UserID) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.store.SetAnswer(ctx, sid, self, to, answer); err != nil {
				m.writeErr("answer", err)
			}
		}(from)
		log.Info().Str("module", "call").Str("peer", string(from)).Msg("answer sent")
	}
}

// applyAnswers consumes answers addressed to us on offerer links whose
// remote description is still unset.
func (m *Manager) applyAnswers(doc *domain.Session) {
	for uid, link := range m.peers {
		if link.remoteSet {
			continue
		}
		entry := doc.Entry(uid, m.selfID)
		if entry == nil || entry.Answer == nil {
			continue
		}
		if err := link.applyAnswer(*entry.Answer); err != nil {
			log.Error().Err(err).Str("module", "call").Str("peer", string(uid)).Msg("apply answer")
		}
	}
}

// applyCandidates drains newly appended remote candidates per peer. The
// list is append-only and may replay; link.applied marks the high-water.
func (m *Manager) applyCandidates(doc *domain.Session) {
	for uid, link := range m.peers {
		entry := doc.Entry(uid, m.selfID)
		if entry == nil {
			continue
		}
		cands := entry.IceCandidates
		for i := link.applied; i < len(cands); i++ {
			if err := link.addRemoteCandidate(cands[i]); err != nil {
				log.Warn().Err(err).Str("module", "call").Str("peer", string(uid)).Msg("remote candidate")
			}
		}
		if len(cands) > link.applied {
			link.applied = len(cands)
		}
	}
}

// newLink builds a peerLink whose callbacks re-enter the mailbox with
// the generation they were created under.
func (m *Manager) newLink(gen int, remote domain.UserID, role peerRole) (*peerLink, error) {
	sid, self := m.sessionID, m.selfID
	var local webrtc.TrackLocal
	if m.local != nil {
		local = m.local.Track()
	}
	ev := peerEvents{
		onLocalCandidate: func(to domain.UserID, c domain.IceCandidate) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := m.store.AddIceCandidate(ctx, sid, self, to, c); err != nil {
					m.writeErr("ice candidate", err)
				}
			}()
		},
		onStateChange: func(peer domain.UserID, s webrtc.PeerConnectionState) {
			m.post(func() { m.handlePeerState(gen, peer, s) })
		},
		onTrack: func(peer domain.UserID, t *webrtc.TrackRemote) {
			go m.attachRemote(peer, t)
		},
	}
	return newPeerLink(m.api, m.rtcConfig(), remote, role, local, ev)
}

func (m *Manager) rtcConfig() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(m.cfg.STUNServers))
	for _, u := range m.cfg.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// handlePeerState folds per-peer transitions into the aggregate status.
// Last writer wins; no per-peer granularity is exposed upward.
func (m *Manager) handlePeerState(gen int, peer domain.UserID, s webrtc.PeerConnectionState) {
	if gen != m.gen {
		return
	}
	link, ok := m.peers[peer]
	if !ok {
		return
	}
	link.state = s
	log.Info().Str("module", "call").Str("peer", string(peer)).Str("state", s.String()).Msg("peer state")

	switch s {
	case webrtc.PeerConnectionStateDisconnected:
		m.status = core.StatusDisconnected
	case webrtc.PeerConnectionStateFailed:
		m.status = core.StatusFailed
		m.lastErr = domain.ErrTransportFailed.Error()
	case webrtc.PeerConnectionStateConnected:
		// Aggregate "connected" was already reached on session entry;
		// this only flips the peered flag in the snapshot.
	}
	m.publish()
}

// attachRemote hands the track to the sink, retrying once after a short
// delay so a blocked autoplay does not leave the peer permanently silent.
func (m *Manager) attachRemote(peer domain.UserID, t *webrtc.TrackRemote) {
	if err := m.sink.Attach(peer, t); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("peer", string(peer)).Msg("sink attach, retrying")
		time.Sleep(m.cfg.SinkRetryDelay)
		if err := m.sink.Attach(peer, t); err != nil {
			log.Error().Err(err).Str("module", "call").Str("peer", string(peer)).Msg("sink attach failed")
		}
	}
}
