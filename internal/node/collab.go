package node

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Joiner is the network-join provisioning collaborator. The boot
// sequence blocks until Ready reports true; the provisioning mechanism
// itself (captive portal, supplicant, whatever the platform provides)
// lives outside this process.
type Joiner interface {
	Ready() bool
}

// LinkJoiner reports ready once any interface carries a non-loopback
// unicast address.
type LinkJoiner struct{}

func (LinkJoiner) Ready() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ipNet.IP.IsLoopback() || !ipNet.IP.IsGlobalUnicast() {
			continue
		}
		return true
	}
	return false
}

// WaitForNetwork polls the joiner until it reports ready or ctx is
// cancelled.
func WaitForNetwork(ctx context.Context, j Joiner, logger *slog.Logger) error {
	if j.Ready() {
		return nil
	}
	logger.Info("waiting for network provisioning")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if j.Ready() {
				logger.Info("network provisioned")
				return nil
			}
		}
	}
}

// Updater is the firmware update collaborator. PollOnce checks for and
// applies pending updates; the transport is delegated externally.
type Updater interface {
	PollOnce(ctx context.Context) error
}

// LogUpdater is the inert default updater used when no update
// transport is wired in.
type LogUpdater struct {
	Logger *slog.Logger
}

func (u LogUpdater) PollOnce(_ context.Context) error {
	u.Logger.Debug("update check skipped, no transport configured")
	return nil
}

// RunUpdater drives the update collaborator on a fixed cadence until
// ctx is cancelled. Poll failures are logged, never escalated.
func RunUpdater(ctx context.Context, u Updater, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.PollOnce(ctx); err != nil {
				logger.Warn("update poll failed", "error", err)
			}
		}
	}
}
