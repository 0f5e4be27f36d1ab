package rtc

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// The pion API (codecs + interceptors) is shared by every session in the
// process. It is built on the first AcquireRuntime and dropped when the
// last handle is released.
var (
	runtimeMu   sync.Mutex
	runtimeRefs int
	runtimeAPI  *webrtc.API
)

// Runtime is a handle on the shared media runtime.
type Runtime struct {
	api      *webrtc.API
	released atomic.Bool
}

func AcquireRuntime() (*Runtime, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if runtimeAPI == nil {
		api, err := newAPI()
		if err != nil {
			return nil, err
		}
		runtimeAPI = api
		log.Info().Str("module", "rtc.runtime").Msg("media runtime started")
	}
	runtimeRefs++
	return &Runtime{api: runtimeAPI}, nil
}

// Release is idempotent per handle.
func (r *Runtime) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeRefs--
	if runtimeRefs == 0 {
		runtimeAPI = nil
		log.Info().Str("module", "rtc.runtime").Msg("media runtime stopped")
	}
}

func (r *Runtime) API() *webrtc.API { return r.api }

// RuntimeRefs reports the number of live handles.
func RuntimeRefs() int {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	return runtimeRefs
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack"}, webrtc.RTPCodecTypeVideo)
	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack", Parameter: "pli"}, webrtc.RTPCodecTypeVideo)
	i.Add(responder)
	i.Add(generator)
	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return nil, fmt.Errorf("configure rtcp reports: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	), nil
}
