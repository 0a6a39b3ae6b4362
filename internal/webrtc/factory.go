// Package webrtc adapts Pion peer connections to the domain ports.
package webrtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"meshcall/native/internal/domain"
)

// Options configures every peer connection the factory creates.
type Options struct {
	ICEServers []domain.ICEServer
	// ForceRelay restricts ICE to TURN candidates.
	ForceRelay bool
	// FilterLoopback drops local loopback candidates before they are signaled.
	FilterLoopback bool
}

// Factory creates peer connections that share one Pion API.
type Factory struct {
	api  *pion.API
	opts Options
	log  zerolog.Logger
}

// NewFactory registers the default codecs and the NACK and PLI interceptors.
func NewFactory(opts Options, logger zerolog.Logger) (*Factory, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pli)

	if len(opts.ICEServers) == 0 {
		opts.ICEServers = domain.DefaultICEServers()
	}

	return &Factory{
		api:  pion.NewAPI(pion.WithMediaEngine(m), pion.WithInterceptorRegistry(i)),
		opts: opts,
		log:  logger.With().Str("module", "webrtc").Logger(),
	}, nil
}

func (f *Factory) configuration() pion.Configuration {
	servers := make([]pion.ICEServer, 0, len(f.opts.ICEServers))
	for _, s := range f.opts.ICEServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	cfg := pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	}
	if f.opts.ForceRelay {
		cfg.ICETransportPolicy = pion.ICETransportPolicyRelay
	}
	return cfg
}

// NewPeerConnection implements domain.PeerConnectionFactory.
func (f *Factory) NewPeerConnection() (domain.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.configuration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return newPeer(pc, f.opts.FilterLoopback, f.log), nil
}

var _ domain.PeerConnectionFactory = (*Factory)(nil)
