// Package dtmcore implements the Deferred-Trust-Model (DTM) key-exchange
// protocol and its post-exchange secure channel: a nine-stage handshake
// over a pair of post-quantum KEM exchanges, a framed and sequenced
// transport, a dual-cipher record layer with random padding and timing
// obfuscation, and a per-file keyed file-transfer sidechannel.
//
// # Protocol stages
//
// A session begins in the Auth-stage, negotiating a short-lived KEM
// exchange used only to authenticate the Primary-stage exchange that
// follows. Once both stages complete, the session holds a pair of
// directional counter-mode ciphers (send_cipher derived from this side's
// own generated KEM share, recv_cipher from the peer's delivered share)
// and moves to Established, at which point the record layer and
// file-transfer sidechannel become usable.
//
// # Package layout
//
// Each package below owns one layer of the protocol:
//
//   - [identity]: negotiated parameters — ParameterSet, PaddingProfile,
//     DtmSession, DtmIdentity
//   - [packet]: the fixed-layout wire Header and the random-padding
//     Wrap/Unwrap envelope
//   - [buffer]: the sequence-keyed PacketBuffer backing send/receive
//     windows
//   - [crypto]: the KEM, counter-mode cipher, and key-derivation adapter
//   - [session]: State, Callbacks, keepalive, and reconnect bookkeeping
//     shared across a session's lifetime
//   - [exchange]: the nine-stage handshake state machine
//   - [record]: the post-exchange record layer (Send/Deliver/
//     SendReceive) and the Resync recovery protocol
//   - [transport]: the Dispatcher that frames one connection's byte
//     stream into packets and routes them to handlers
//   - [filetransfer]: the file-transfer sidechannel, keyed independently
//     of the main record layer
//
// There is no single top-level facade type: a caller wires a
// transport.Dispatcher, an exchange.Machine, a record.Layer, and a
// filetransfer.Manager together over a shared session.State and
// session.Callbacks, in the same way each package's own tests do.
package dtmcore
