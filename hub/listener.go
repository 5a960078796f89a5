package hub

import (
	"net"
	"strconv"
)

// listener binds the well-known port and accepts inbound connections,
// installing a fresh Inbox (first connection) or replacing both halves
// of the peer slot (reconnect). Grounded on connection_hub.py's
// IOScheduler.
type listener struct {
	hub *Hub
}

func newListener(h *Hub) *listener {
	return &listener{hub: h}
}

func (l *listener) run() {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(Port))
	if err != nil {
		l.hub.log.Warnf("hub: listener: bind: %v", err)
		return
	}
	defer ln.Close()
	l.hub.log.Infof("hub: listener is up on port %d", Port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.hub.log.Warnf("hub: listener: accept: %v", err)
			continue
		}
		peerIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			peerIP = conn.RemoteAddr().String()
		}
		l.handleAccept(peerIP, conn)
	}
}

func (l *listener) handleAccept(peerIP string, conn net.Conn) {
	slot := l.hub.slotFor(peerIP)
	in := newInbox(peerIP, conn, l.hub)

	if slot.Inbox == nil {
		l.hub.setInbox(peerIP, in)
		go in.run()
		return
	}

	// Reconnect: tear down the old pair, install a fresh one. The new
	// Outbox re-establishes its own outbound connection.
	oldInbox, oldOutbox := slot.Inbox, slot.Outbox
	if oldInbox != nil {
		oldInbox.Off()
	}
	if oldOutbox != nil {
		oldOutbox.Off()
	}

	newOut := newOutbox(peerIP, l.hub)
	l.hub.setInbox(peerIP, in)
	l.hub.setOutbox(peerIP, newOut)
	go newOut.run()
	go in.run()
}
