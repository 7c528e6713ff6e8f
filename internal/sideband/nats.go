package sideband

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ernie/herald/internal/config"
	"github.com/ernie/herald/internal/wire"
)

const brokerStartTimeout = 5 * time.Second

// NATSSender publishes notices on a subject.
type NATSSender struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSender connects to the broker and prepares to publish.
func NewNATSSender(url, subject string, log *zap.SugaredLogger) (*NATSSender, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("sideband broker disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("sideband broker reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker %s: %w", url, err)
	}
	return &NATSSender{nc: nc, subject: subject}, nil
}

func (s *NATSSender) Send(n wire.Notice) error {
	data, err := wire.Encode(n)
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}
	return s.nc.Publish(s.subject, data)
}

func (s *NATSSender) Close() error {
	s.nc.Close()
	return nil
}

// NATSReceiver subscribes to the notice subject, optionally running an
// embedded broker so small deployments need no external NATS install.
type NATSReceiver struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	log     *zap.SugaredLogger
	broker  *server.Server
}

// NewNATSReceiver connects (starting an embedded broker first when
// configured) and prepares the subscription.
func NewNATSReceiver(cfg config.SidebandConfig, log *zap.SugaredLogger) (*NATSReceiver, error) {
	r := &NATSReceiver{subject: cfg.Subject, log: log}

	url := cfg.NATSURL
	if cfg.EmbedBroker {
		broker, brokerURL, err := startBroker(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		r.broker = broker
		url = brokerURL
		log.Infow("embedded broker running", "url", brokerURL)
	}

	nc, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		if r.broker != nil {
			r.broker.Shutdown()
		}
		return nil, fmt.Errorf("connecting to broker %s: %w", url, err)
	}
	r.nc = nc
	return r, nil
}

func startBroker(listenAddr string) (*server.Server, string, error) {
	opts := &server.Options{Host: "0.0.0.0", Port: 4222}
	if listenAddr != "" {
		host, portStr, err := net.SplitHostPort(listenAddr)
		if err != nil {
			return nil, "", fmt.Errorf("parsing broker listen address: %w", err)
		}
		if host != "" {
			opts.Host = host
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, "", fmt.Errorf("parsing broker port: %w", err)
		}
		opts.Port = port
	}

	broker, err := server.NewServer(opts)
	if err != nil {
		return nil, "", fmt.Errorf("creating embedded broker: %w", err)
	}
	go broker.Start()
	if !broker.ReadyForConnections(brokerStartTimeout) {
		broker.Shutdown()
		return nil, "", fmt.Errorf("embedded broker not ready after %s", brokerStartTimeout)
	}
	return broker, broker.ClientURL(), nil
}

func (r *NATSReceiver) Start(handler func(n wire.Notice)) error {
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		notice, err := wire.Decode(msg.Data)
		if err != nil {
			r.log.Warnw("dropping malformed notice", "subject", msg.Subject, "bytes", len(msg.Data), "error", err)
			return
		}
		if !notice.Valid() {
			r.log.Warnw("dropping notice with unknown action", "subject", msg.Subject, "action", notice.Action)
			return
		}
		handler(notice)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.subject, err)
	}
	r.sub = sub
	return nil
}

func (r *NATSReceiver) Close() error {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	r.nc.Close()
	if r.broker != nil {
		r.broker.Shutdown()
	}
	return nil
}
