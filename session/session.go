/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/richardsmedley/cbcore/cberr"
	"github.com/richardsmedley/cbcore/internal/strand"
	"github.com/richardsmedley/cbcore/internal/xlog"
	"github.com/richardsmedley/cbcore/stats"
	"github.com/richardsmedley/cbcore/transport"
	"github.com/richardsmedley/cbcore/wire"
)

const logComponent = "session"

// Credentials is a SASL principal used to authenticate the node connection.
type Credentials struct {
	Username string
	Password string
}

// Config parameterises one Session's connection, grounded on the
// connection-string options in spec.md §6.
type Config struct {
	Endpoint            string
	TLS                 transport.TLSConfig
	Credentials         Credentials
	BucketName          string // empty => cluster-only session (no SELECT_BUCKET)
	Features            []wire.Feature
	AllowPlainOnNonTLS  bool
	KeyValueTimeout     time.Duration
	QueueDepth          int
	EnableTCPKeepalive  bool
	Stats               *stats.Registry // nil uses a no-op Registry
}

// ConfigSink receives cluster-config payloads observed by this session,
// whether from the GET_CLUSTER_CONFIG negotiation step or a NOT_MY_VBUCKET
// reply's attached config (spec.md §4.3).
type ConfigSink interface {
	OnClusterConfig(nodeEndpoint string, raw []byte)
}

// OpenResult is delivered once Open's negotiation either reaches Ready or
// fails terminally.
type OpenResult struct {
	Err error
}

// Session is one node connection, owned by a single strand so every state
// mutation below happens without locks from inside the event loop
// (spec.md §5).
type Session struct {
	cfg    Config
	sink   ConfigSink
	strand *strand.Strand
	stream *transport.Stream

	state      State
	onState    func(State)
	opaqueSeq  uint32
	pending    *pendingTable
	negotiated wire.FeatureSet
	errMap     *wire.ErrorMap
	collCache  map[string]uint32 // "scope\x00collection" -> id

	recvBuf []byte
	timer   *time.Timer
	closed  int32
}

// New creates a Session bound to cfg, not yet connected. onState, if
// non-nil, is invoked (on the strand) every time State changes.
func New(cfg Config, sink ConfigSink, onState func(State)) *Session {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.Noop()
	}
	return &Session{
		cfg:       cfg,
		sink:      sink,
		strand:    strand.New(cfg.QueueDepth),
		stream:    transport.New(cfg.QueueDepth),
		pending:   newPendingTable(),
		collCache: make(map[string]uint32),
		onState:   onState,
	}
}

// State returns the session's current state. Safe from any goroutine; the
// read itself is posted to the strand to avoid a torn read of the field.
func (s *Session) State() State {
	result := make(chan State, 1)
	s.strand.Post(func() { result <- s.state })
	return <-result
}

func (s *Session) setState(st State) {
	s.state = st
	if s.onState != nil {
		s.onState(st)
	}
}

// Open drives disconnected -> ... -> ready, invoking done exactly once
// (on the strand) with the terminal outcome.
func (s *Session) Open(ctx context.Context, done func(OpenResult)) {
	s.strand.Post(func() {
		s.setState(Resolving)
		s.setState(Connecting)
		// AsyncConnect's handler is invoked on the Stream's own strand, not
		// s.strand; repost onto s.strand so every subsequent state mutation
		// (setState, recvBuf, the whole negotiation chain) stays confined to
		// the session's single strand, per spec.md §5.
		s.stream.AsyncConnect(ctx, s.cfg.Endpoint, s.cfg.TLS, func(err error) {
			s.strand.Post(func() {
				if err != nil {
					s.setState(Stopped)
					done(OpenResult{Err: err})
					return
				}
				_ = s.stream.SetOptions(transport.Options{TCPNoDelay: true, TCPKeepAlive: s.cfg.EnableTCPKeepalive})
				s.startReadLoop()
				s.negotiateHello(ctx, done)
			})
		})
	})
}

func (s *Session) negotiateHello(ctx context.Context, done func(OpenResult)) {
	s.setState(NegotiatingHello)
	features := s.cfg.Features
	if len(features) == 0 {
		features = defaultFeatures()
	}
	s.sendControl(ctx, wire.OpHello, nil, wire.EncodeHello(features), func(f *wire.Frame, err error) {
		if err != nil {
			s.fail(err, done)
			return
		}
		s.negotiated = wire.NewFeatureSet(wire.DecodeHello(f.Value))
		s.negotiateErrorMap(ctx, done)
	})
}

func (s *Session) negotiateErrorMap(ctx context.Context, done func(OpenResult)) {
	s.setState(NegotiatingErrorMap)
	version := []byte{0x00, 0x02} // request error map v2
	s.sendControl(ctx, wire.OpGetErrorMap, nil, version, func(f *wire.Frame, err error) {
		if err != nil {
			s.fail(err, done)
			return
		}
		em, perr := wire.ParseErrorMap(f.Value)
		if perr != nil {
			s.fail(perr, done)
			return
		}
		s.errMap = em
		s.negotiateSASL(ctx, done)
	})
}

func (s *Session) negotiateSASL(ctx context.Context, done func(OpenResult)) {
	s.setState(NegotiatingSASL)
	// A production client lists mechanisms first (OpSASLListMechs); here we
	// go straight to the configured preference order, same as the teacher's
	// authn flow picks its strongest supported scheme without a discovery
	// round trip when the caller has already pinned one down.
	mech, err := wire.SelectMechanism(string(wire.MechScramSHA512)+" "+string(wire.MechScramSHA256)+" "+string(wire.MechScramSHA1)+" "+string(wire.MechPlain),
		s.cfg.TLS.Enabled, s.cfg.AllowPlainOnNonTLS)
	if err != nil {
		s.fail(err, done)
		return
	}
	if mech == wire.MechPlain {
		s.sendControl(ctx, wire.OpSASLAuth, []byte(mech), wire.EncodePlain(s.cfg.Credentials.Username, s.cfg.Credentials.Password), func(f *wire.Frame, err error) {
			if err != nil {
				s.fail(cberr.Wrap(cberr.ErrAuthenticationFailure, "PLAIN auth", err), done)
				return
			}
			s.afterAuth(ctx, done)
		})
		return
	}
	nonce, nerr := wire.RandomNonce()
	if nerr != nil {
		s.fail(nerr, done)
		return
	}
	scram := wire.NewScramClient(mech, s.cfg.Credentials.Username, s.cfg.Credentials.Password, nonce)
	s.sendControl(ctx, wire.OpSASLAuth, []byte(mech), scram.ClientFirst(), func(f *wire.Frame, err error) {
		if err != nil {
			s.fail(cberr.Wrap(cberr.ErrAuthenticationFailure, "SCRAM first", err), done)
			return
		}
		final, ferr := scram.ClientFinal(f.Value)
		if ferr != nil {
			s.fail(ferr, done)
			return
		}
		s.sendControl(ctx, wire.OpSASLStep, []byte(mech), final, func(f2 *wire.Frame, err error) {
			if err != nil {
				s.fail(cberr.Wrap(cberr.ErrAuthenticationFailure, "SCRAM step", err), done)
				return
			}
			if verr := scram.VerifyServerFinal(f2.Value); verr != nil {
				s.fail(verr, done)
				return
			}
			s.afterAuth(ctx, done)
		})
	})
}

func (s *Session) afterAuth(ctx context.Context, done func(OpenResult)) {
	if s.cfg.BucketName != "" {
		s.negotiateSelectBucket(ctx, done)
		return
	}
	s.negotiateGetConfig(ctx, done)
}

func (s *Session) negotiateSelectBucket(ctx context.Context, done func(OpenResult)) {
	s.setState(NegotiatingSelectBucket)
	s.sendControl(ctx, wire.OpSelectBucket, []byte(s.cfg.BucketName), nil, func(f *wire.Frame, err error) {
		if err != nil {
			s.fail(cberr.Wrap(cberr.ErrBucketNotFound, s.cfg.BucketName, err), done)
			return
		}
		s.negotiateGetConfig(ctx, done)
	})
}

func (s *Session) negotiateGetConfig(ctx context.Context, done func(OpenResult)) {
	s.setState(NegotiatingGetConfig)
	s.sendControl(ctx, wire.OpGetClusterConfig, nil, nil, func(f *wire.Frame, err error) {
		if err != nil {
			s.fail(err, done)
			return
		}
		if s.sink != nil {
			s.sink.OnClusterConfig(s.cfg.Endpoint, f.Value)
		}
		s.setState(Ready)
		s.cfg.Stats.SessionsOpened.Inc()
		done(OpenResult{})
	})
}

func (s *Session) fail(err error, done func(OpenResult)) {
	s.cfg.Stats.SessionsFailed.WithLabelValues(stageLabel(s.state)).Inc()
	s.setState(Stopped)
	done(OpenResult{Err: err})
}

// stageLabel names the negotiation stage a session was in when it failed,
// for the SessionsFailed{stage} counter.
func stageLabel(st State) string {
	switch st {
	case NegotiatingHello:
		return "hello"
	case NegotiatingErrorMap:
		return "errormap"
	case NegotiatingSASL:
		return "sasl"
	case NegotiatingSelectBucket:
		return "selectbucket"
	case NegotiatingGetConfig:
		return "getconfig"
	default:
		return "connect"
	}
}

// sendControl submits a negotiation-phase command (opcode/key/value) and
// invokes cb with the decoded reply frame, or the response status mapped
// to an error if non-success. Negotiation commands share the same opaque
// table and timeout machinery as user commands; they're just submitted
// from inside the package instead of by a Bucket.
func (s *Session) sendControl(ctx context.Context, op wire.Opcode, key, value []byte, cb func(*wire.Frame, error)) {
	opaque := s.nextOpaque()
	f := &wire.Frame{
		Header: wire.Header{Magic: wire.MagicReq, Opcode: op, Opaque: opaque},
		Key:    key,
		Value:  value,
	}
	deadline := time.Now().Add(s.negotiationTimeout())
	pc := &PendingCommand{
		Opaque:   opaque,
		Deadline: deadline,
		Frame:    f.Encode(),
		Handler: func(raw []byte, err error) {
			if err != nil {
				cb(nil, err)
				return
			}
			h, herr := wire.DecodeHeader(raw[:wire.HeaderLen])
			if herr != nil {
				cb(nil, herr)
				return
			}
			rf, berr := wire.DecodeBody(h, raw[wire.HeaderLen:])
			if berr != nil {
				cb(nil, berr)
				return
			}
			if h.Status() != wire.StatusSuccess {
				cb(rf, wire.StatusError(h.Status(), s.errMap))
				return
			}
			cb(rf, nil)
		},
	}
	s.pending.add(pc)
	s.rearmTimer()
	// AsyncWrite's handler runs on the stream's strand; repost onto
	// s.strand before touching s.pending, which has no lock of its own and
	// depends entirely on single-strand access.
	s.stream.AsyncWrite(pc.Frame, func(n int, err error) {
		s.strand.Post(func() {
			if err != nil {
				if taken, ok := s.pending.take(opaque); ok {
					complete(taken, nil, err)
				}
			}
		})
	})
}

func (s *Session) negotiationTimeout() time.Duration {
	if s.cfg.KeyValueTimeout > 0 {
		return s.cfg.KeyValueTimeout
	}
	return 10 * time.Second
}

func (s *Session) nextOpaque() uint32 {
	return atomic.AddUint32(&s.opaqueSeq, 1)
}

func defaultFeatures() []wire.Feature {
	return []wire.Feature{
		wire.FeatureXattr, wire.FeatureXerror, wire.FeatureSelectBucket,
		wire.FeatureSnappy, wire.FeatureJSON, wire.FeatureDuplex,
		wire.FeatureClustermapChangeNotify, wire.FeatureUnorderedExecution,
		wire.FeatureCollections, wire.FeatureAltRequests,
		wire.FeatureSyncReplication, wire.FeaturePreserveTTL, wire.FeatureTracing,
	}
}
