// Package transport implements Dispatcher, the single-connection packet
// framer and router described in spec §4.6. One Dispatcher owns one
// underlying reliable byte stream (a net.Conn in production) and turns
// it into a sequence of framed packets in both directions.
//
// # Framing
//
// Every packet is PacketHeader (see package packet) followed by its
// payload. Dispatcher.Run reads raw bytes off the connection, extracts
// as many complete frames as are available, and pushes each non-Service
// frame into the session's receive buffer keyed by sequence number
// (Service frames carry no sequence and are handled as they arrive). A
// drain loop then
// dispatches buffered packets strictly in sequence order, so a
// reordered or duplicated arrival never reaches a handler out of turn.
//
// # Routing
//
//	d := transport.New(conn, state, conn.Close)
//	d.Route(packet.TypeExchange, exchangeHandler)
//	d.Route(packet.TypeMessage, recordHandler)
//	d.Route(packet.TypeTransfer, fileTransferHandler)
//	d.Route(packet.TypeService, serviceHandler) // DataLost/Resync/Refusal/Terminate
//	go d.Run(ctx)
//
// Service packets never reach the generic routing table for
// KeepAlive/Echo/Resend: those three are handled internally by the
// Dispatcher itself, since they exist purely to manage the send/receive
// buffers the Dispatcher owns.
//
// # Outbound discipline
//
// Send appends non-Service packets to the send buffer before writing,
// so a later Resend can replay them byte-identical to the original. All
// writes pass through one transmission mutex; a write failure is
// retried through a four-attempt doubling-backoff ladder before
// surfacing a Connection-severity error.
package transport
