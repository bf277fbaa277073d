// Package rtcpeer negotiates a WebRTC session for one side of a call.
// Session descriptions and candidates are exchanged as JSON strings,
// which is the payload format the signaling relay stores verbatim.
package rtcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/logger"
)

const defaultCandidateBuffer = 64

var (
	ErrWrongDescriptionType = errors.New("rtcpeer: unexpected session description type")
	ErrClosed               = errors.New("rtcpeer: peer is closed")
)

// Config describes the local peer
type Config struct {
	MediaKind       domain.MediaKind
	ICEServers      []string
	CandidateBuffer int
}

// Peer wraps a pion PeerConnection
type Peer struct {
	pc         *webrtc.PeerConnection
	candidates chan string

	mu     sync.Mutex
	closed bool
}

// New creates a receive-only peer with transceivers for the call's media kind
func New(cfg Config) (*Peer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if cfg.MediaKind == domain.MediaKindVideo {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range kinds {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	size := cfg.CandidateBuffer
	if size <= 0 {
		size = defaultCandidateBuffer
	}
	p := &Peer{pc: pc, candidates: make(chan string, size)}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Warn("Failed to encode local candidate", zap.Error(err))
			return
		}
		select {
		case p.candidates <- string(raw):
		default:
			logger.Warn("Local candidate dropped, buffer full")
		}
	})

	return p, nil
}

// OnConnectionStateChange registers fn for peer connection state updates
func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

// CreateOffer creates and applies a local offer
func (p *Peer) CreateOffer(ctx context.Context) (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local offer: %w", err)
	}
	return encodeDescription(p.pc.LocalDescription())
}

// AcceptOffer applies the remote offer and returns the local answer
func (p *Peer) AcceptOffer(ctx context.Context, offer string) (string, error) {
	if err := p.checkOpen(); err != nil {
		return "", err
	}
	desc, err := decodeDescription(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	return encodeDescription(p.pc.LocalDescription())
}

// ApplyAnswer applies the remote answer. A second answer is ignored.
func (p *Peer) ApplyAnswer(ctx context.Context, answer string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if p.pc.RemoteDescription() != nil {
		return nil
	}
	desc, err := decodeDescription(answer, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// AddRemoteCandidate adds a candidate published by the other participant
func (p *Peer) AddRemoteCandidate(payload string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(payload), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if init.Candidate == "" {
		return errors.New("rtcpeer: empty candidate")
	}
	return p.pc.AddICECandidate(init)
}

// HasRemoteDescription reports whether the remote offer or answer is applied
func (p *Peer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

// LocalCandidates streams gathered local candidates as JSON
func (p *Peer) LocalCandidates() <-chan string {
	return p.candidates
}

// Close tears down the peer connection
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}

func (p *Peer) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func encodeDescription(desc *webrtc.SessionDescription) (string, error) {
	if desc == nil {
		return "", errors.New("rtcpeer: no local description")
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encode description: %w", err)
	}
	return string(raw), nil
}

func decodeDescription(payload string, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(payload), &desc); err != nil {
		return desc, fmt.Errorf("decode description: %w", err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: got %s, want %s", ErrWrongDescriptionType, desc.Type, want)
	}
	return desc, nil
}
