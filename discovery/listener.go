// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.

// Package discovery listens for the UDP broadcasts thermostats emit on the
// LAN and reports each device the first time it is seen.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/IlyaSemenov/terneo-ha/internal/container"
	"github.com/IlyaSemenov/terneo-ha/internal/log"
)

// defaultPort is the broadcast port the devices announce on.
const defaultPort = 23500

type (
	// Announcement is one device broadcast. Host is taken from the packet's
	// sender address; the payload itself only carries identity.
	Announcement struct {
		Host         string
		SerialNumber string
		Hardware     string
		Connection   string
	}

	// Handler consumes first-seen announcements. It runs on the listener's
	// read loop and should hand off promptly.
	Handler func(ctx context.Context, a Announcement)

	// Listener owns the broadcast socket and the seen-device set. Construct
	// it with NewListener.
	Listener struct {
		port    int
		handler Handler
		seen    container.SyncMap[string, struct{}]
		log     log.Logger
	}

	announcementPacket struct {
		SerialNumber string `json:"sn"`
		Hardware     string `json:"hw"`
		Connection   string `json:"connection"`
	}
)

// NewListener creates a listener that reports each distinct serial number to
// the handler once.
func NewListener(handler Handler, opt ...ListenerOption) *Listener {
	var opts ListenerOptions
	opts.Apply(opt)

	port := opts.Port
	if port <= 0 {
		port = defaultPort
	}

	return &Listener{
		port:    port,
		handler: handler,
		seen:    container.NewSyncMap[string, struct{}](),
		log:     log.Wrap(opts.Logger),
	}
}

// Run listens for broadcasts until ctx is done. The broadcast socket is
// opened with SO_REUSEADDR so the listener coexists with other consumers of
// the announcement port on the same machine.
func (l *Listener) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddr}
	packetConn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return fmt.Errorf("discovery listen: %w", err)
	}
	conn := packetConn.(*net.UDPConn)

	// Closing the socket is what unblocks the read loop on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	l.log.Log(ctx, slog.LevelInfo, "discovery listening",
		slog.Int("port", l.port),
	)
	return l.serve(ctx, conn)
}

func (l *Listener) serve(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 1024)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("discovery read: %w", err)
		}
		l.handle(ctx, buf[:n], addr.IP.String())
	}
}

// handle parses one datagram. Malformed packets and repeat announcements are
// dropped; devices re-broadcast continuously, so anything missed now comes
// around again.
func (l *Listener) handle(ctx context.Context, data []byte, host string) {
	var packet announcementPacket
	if err := json.Unmarshal(data, &packet); err != nil {
		l.log.Log(ctx, slog.LevelDebug, "invalid discovery packet",
			slog.String("host", host),
			slog.String("error", err.Error()),
		)
		return
	}
	if packet.SerialNumber == "" {
		return
	}
	if !l.seen.StoreIfAbsent(packet.SerialNumber, struct{}{}) {
		return
	}

	l.log.Log(ctx, slog.LevelInfo, "discovered device",
		slog.String("serial_number", packet.SerialNumber),
		slog.String("host", host),
		slog.String("hardware", packet.Hardware),
	)
	l.handler(ctx, Announcement{
		Host:         host,
		SerialNumber: packet.SerialNumber,
		Hardware:     packet.Hardware,
		Connection:   packet.Connection,
	})
}

// Forget drops a serial number from the seen set so its next broadcast is
// reported again, typically after the device was removed from the fleet.
func (l *Listener) Forget(serialNumber string) {
	l.seen.Delete(serialNumber)
}

func reuseAddr(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(
			int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1,
		)
	})
	if err != nil {
		return err
	}
	return opErr
}
