package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dtm-project/dtmcore/identity"
)

func TestDecideReconnectDisabledReturnsNone(t *testing.T) {
	s := New(RoleServer, identity.DtmIdentity{}, identity.ParameterSet{}, &Callbacks{})
	s.Stage = ExchangeEstablished
	s.ReconnectEnabled = false

	assert.Equal(t, ReconnectNone, s.DecideReconnect())
}

func TestDecideReconnectNotEstablishedReturnsNone(t *testing.T) {
	s := New(RoleServer, identity.DtmIdentity{}, identity.ParameterSet{}, &Callbacks{})
	s.Stage = ExchangeSync
	s.ReconnectEnabled = true

	assert.Equal(t, ReconnectNone, s.DecideReconnect())
}

func TestDecideReconnectServerRelistens(t *testing.T) {
	s := New(RoleServer, identity.DtmIdentity{}, identity.ParameterSet{}, &Callbacks{})
	s.Stage = ExchangeEstablished
	s.ReconnectEnabled = true

	assert.Equal(t, ReconnectRelisten, s.DecideReconnect())
}

func TestDecideReconnectClientDials(t *testing.T) {
	s := New(RoleClient, identity.DtmIdentity{}, identity.ParameterSet{}, &Callbacks{})
	s.Stage = ExchangeEstablished
	s.ReconnectEnabled = true

	assert.Equal(t, ReconnectDial, s.DecideReconnect())
}

func TestBeginReconnectClearsKeepaliveMisses(t *testing.T) {
	s := New(RoleClient, identity.DtmIdentity{}, identity.ParameterSet{}, &Callbacks{})
	s.KeepaliveMisses = 7

	s.BeginReconnect()

	assert.Equal(t, 0, s.KeepaliveMisses)
}
