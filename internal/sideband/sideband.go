// Package sideband carries compact connection notices from follower
// processes to the authority. Two transports exist: fire-and-forget UDP
// datagrams for same-host or trusted-LAN deployments, and NATS for anything
// bigger.
package sideband

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ernie/herald/internal/config"
	"github.com/ernie/herald/internal/wire"
)

// Sender pushes notices toward the authority. Send never blocks on delivery;
// the sideband is advisory and a lost notice only costs one message.
type Sender interface {
	Send(n wire.Notice) error
	Close() error
}

// Receiver delivers decoded notices to a handler until closed. Malformed
// payloads are logged and dropped, never surfaced to the handler.
type Receiver interface {
	Start(handler func(n wire.Notice)) error
	Close() error
}

// NewSender constructs the configured transport's sender.
func NewSender(cfg config.SidebandConfig, log *zap.SugaredLogger) (Sender, error) {
	switch cfg.Transport {
	case "udp", "":
		return NewUDPSender(cfg.AuthorityAddr)
	case "nats":
		return NewNATSSender(cfg.NATSURL, cfg.Subject, log)
	default:
		return nil, fmt.Errorf("unknown sideband transport %q", cfg.Transport)
	}
}

// NewReceiver constructs the configured transport's receiver.
func NewReceiver(cfg config.SidebandConfig, log *zap.SugaredLogger) (Receiver, error) {
	switch cfg.Transport {
	case "udp", "":
		return NewUDPReceiver(cfg.ListenAddr, log)
	case "nats":
		return NewNATSReceiver(cfg, log)
	default:
		return nil, fmt.Errorf("unknown sideband transport %q", cfg.Transport)
	}
}
