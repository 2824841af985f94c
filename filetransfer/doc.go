// Package filetransfer implements the FileTransferSidechannel from spec
// §4.9: each accepted transfer forks a dedicated counter-mode cipher off
// the Primary-stage session and streams the file over its own TCP
// connection, separate from the main record-layer channel.
//
// A Transfer/Request travels over the main channel (wrapped and
// encrypted under the session's own send_cipher, like any other control
// message), carrying the proposed file name, length, a listener port,
// and a freshly generated (key, iv) pair. The receiver either connects
// to that port and receives the file, decrypting it under the dedicated
// cipher, or refuses with Transfer/Refused. Completion is acknowledged with
// Transfer/Received, at which point both sides drop their entry from
// the file-transfer map, mirroring the teacher's file.Manager
// mutex-guarded transferKey map but keyed by the protocol's file_counter
// instead of a (friend_id, file_id) pair.
package filetransfer
