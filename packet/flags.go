package packet

// ExchangeFlag enumerates the nine PacketHeader.PacketFlag values used on
// TypeExchange packets, one per handshake stage, per spec §4.4/§6.
type ExchangeFlag uint16

const (
	FlagConnect ExchangeFlag = iota + 1
	FlagInit
	FlagPreAuth
	FlagAuthEx
	FlagAuth
	FlagSync
	FlagPrimeEx
	FlagPrimary
	FlagEstablished
)

func (f ExchangeFlag) String() string {
	switch f {
	case FlagConnect:
		return "Connect"
	case FlagInit:
		return "Init"
	case FlagPreAuth:
		return "PreAuth"
	case FlagAuthEx:
		return "AuthEx"
	case FlagAuth:
		return "Auth"
	case FlagSync:
		return "Sync"
	case FlagPrimeEx:
		return "PrimeEx"
	case FlagPrimary:
		return "Primary"
	case FlagEstablished:
		return "Established"
	default:
		return "unknown"
	}
}

// ServiceFlag enumerates PacketHeader.PacketFlag values on TypeService
// packets, per spec §4.6/§4.7/§4.8.
type ServiceFlag uint16

const (
	FlagKeepAlive ServiceFlag = iota + 1
	FlagEcho
	FlagResend
	FlagDataLost
	FlagResync
	FlagRefusal
	FlagTerminate
)

func (f ServiceFlag) String() string {
	switch f {
	case FlagKeepAlive:
		return "KeepAlive"
	case FlagEcho:
		return "Echo"
	case FlagResend:
		return "Resend"
	case FlagDataLost:
		return "DataLost"
	case FlagResync:
		return "Resync"
	case FlagRefusal:
		return "Refusal"
	case FlagTerminate:
		return "Terminate"
	default:
		return "unknown"
	}
}

// TransferFlag enumerates PacketHeader.PacketFlag values on TypeTransfer
// packets, per spec §4.9.
type TransferFlag uint16

const (
	FlagRequest TransferFlag = iota + 1
	FlagRefused
	FlagReceived
)

func (f TransferFlag) String() string {
	switch f {
	case FlagRequest:
		return "Request"
	case FlagRefused:
		return "Refused"
	case FlagReceived:
		return "Received"
	default:
		return "unknown"
	}
}

// MessageFlag is the single PacketHeader.PacketFlag value used on
// TypeMessage packets, per spec §4.5; the value is reserved for future
// subtypes beyond ordinary Transmission.
type MessageFlag uint16

const FlagTransmission MessageFlag = 1
