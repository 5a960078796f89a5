package hub

import (
	"net"

	"github.com/twodrive/twodrive/metrics"
	"github.com/twodrive/twodrive/protocol"
)

// Inbox reads frames from one peer's socket and dispatches each
// payload to the file center's Reader (for BLOCK_REQUEST) or the
// download manager (for FILE_DICT, FILE_ADDED, FILE_MODIFIED and
// BLOCK); ENCRYPTION frames are handled by the Inbox itself. Grounded on
// connection_hub.py's Inbox class.
type Inbox struct {
	peerIP string
	hub    *Hub
	conn   net.Conn

	on        boolFlag
	encrypted boolFlag
}

func newInbox(peerIP string, conn net.Conn, h *Hub) *Inbox {
	in := &Inbox{peerIP: peerIP, conn: conn, hub: h}
	in.on.set(true)
	return in
}

// Off signals the read loop to stop on its next opportunity.
func (in *Inbox) Off() {
	in.on.set(false)
	in.conn.Close()
}

func (in *Inbox) run() {
	in.hub.log.Infof("hub: inbox scheduled: %s", in.peerIP)
	counted := metrics.NewCountingReader(in.conn, metrics.BytesReceived)
	for {
		if !in.on.get() {
			return
		}
		t, payload, err := protocol.ReadFrame(counted)
		if err != nil {
			in.hub.log.Warnf("hub: inbox: connection lost to %s: %v", in.peerIP, err)
			in.conn.Close()
			return
		}
		metrics.FramesReceived.WithLabelValues(t.String()).Inc()

		if in.encrypted.get() && t != protocol.MessageEncryption {
			decrypted, err := in.hub.cipher.Decrypt(payload)
			if err != nil {
				in.hub.log.Warnf("hub: inbox: decrypt from %s: %v", in.peerIP, err)
				continue
			}
			payload = decrypted
		}

		in.dispatch(t, payload)
	}
}

func (in *Inbox) dispatch(t protocol.MessageType, payload []byte) {
	switch t {
	case protocol.MessageEncryption:
		in.handleEncryption(payload)
	case protocol.MessageFileDict:
		in.handleFileDict(payload)
	case protocol.MessageFileAdded, protocol.MessageFileModified:
		in.handleFileInfo(t, payload)
	case protocol.MessageBlockRequest:
		in.handleBlockRequest(payload)
	case protocol.MessageBlock:
		in.handleBlock(payload)
	default:
		in.hub.log.Warnf("hub: inbox: unknown message type from %s: %v", in.peerIP, t)
	}
}

func (in *Inbox) handleEncryption(payload []byte) {
	level, err := protocol.UnmarshalEncryptionLevel(payload)
	if err != nil {
		in.hub.log.Warnf("hub: inbox: decode encryption level from %s: %v", in.peerIP, err)
		return
	}
	if level != protocol.EncryptionEnabled {
		return
	}
	in.encrypted.set(true)
	if outbox, ok := in.hub.outboxFor(in.peerIP); ok {
		outbox.(*Outbox).EnableEncryption()
	}
}

func (in *Inbox) handleFileDict(payload []byte) {
	dict, err := protocol.UnmarshalFileDict(payload)
	if err != nil {
		in.hub.log.Warnf("hub: inbox: decode file dict from %s: %v", in.peerIP, err)
		return
	}
	in.hub.manager.HandleFileDict(in.peerIP, dict)
}

func (in *Inbox) handleFileInfo(t protocol.MessageType, payload []byte) {
	msg, err := protocol.UnmarshalFileInfoMessage(payload)
	if err != nil {
		in.hub.log.Warnf("hub: inbox: decode file info from %s: %v", in.peerIP, err)
		return
	}
	if t == protocol.MessageFileAdded {
		in.hub.manager.HandleFileAdded(in.peerIP, msg)
	} else {
		in.hub.manager.HandleFileModified(in.peerIP, msg)
	}
}

func (in *Inbox) handleBlockRequest(payload []byte) {
	req, err := protocol.UnmarshalBlockRequestMessage(payload)
	if err != nil {
		in.hub.log.Warnf("hub: inbox: decode block request from %s: %v", in.peerIP, err)
		return
	}
	entry, ok := in.hub.center.Entry(req.Name)
	if !ok {
		in.hub.log.Warnf("hub: inbox: block request for unknown file %s from %s", req.Name, in.peerIP)
		return
	}
	outbox, ok := in.hub.outboxFor(in.peerIP)
	if !ok {
		return
	}
	entry.Reader.Request(req.BlockNum, outbox)
}

func (in *Inbox) handleBlock(payload []byte) {
	if in.hub.compress {
		decompressed, err := in.hub.compressor.Decompress(payload)
		if err != nil {
			in.hub.log.Warnf("hub: inbox: decompress block from %s: %v", in.peerIP, err)
			return
		}
		payload = decompressed
	}
	msg, err := protocol.UnmarshalBlockMessage(payload)
	if err != nil {
		in.hub.log.Warnf("hub: inbox: decode block from %s: %v", in.peerIP, err)
		return
	}
	in.hub.manager.HandleBlock(in.peerIP, msg)
}
