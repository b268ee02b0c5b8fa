package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resqfood/config"
	"resqfood/services"
)

func TestNewTransportFollowsConfig(t *testing.T) {
	conf := config.Default()
	conf.Socket.URL = "ws://localhost:9000/ws"

	for transport, name := range map[string]string{
		config.TransportWebSocket: "websocket",
		config.TransportRedis:     "redis",
		config.TransportAMQP:      "amqp",
	} {
		conf.Socket.Transport = transport
		tr, closeFn, err := newTransport(conf)
		require.NoError(t, err, transport)
		assert.Equal(t, name, tr.Name())
		closeFn()
	}

	conf.Socket.Transport = config.TransportWebSocket
	conf.Socket.URL = ""
	_, _, err := newTransport(conf)
	assert.Error(t, err)

	conf.Socket.Transport = "smoke_signals"
	_, _, err = newTransport(conf)
	assert.Error(t, err)
}

func TestNewViewPerRole(t *testing.T) {
	conf := config.Default()
	conf.Session.UserID = "u1"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := services.ViewDeps{Logger: logger}

	conf.Session.Role = ""
	role := sessionRole(conf)
	assert.Equal(t, services.RoleMap, role)
	v, m := newView(role, conf, deps, logger)
	require.NotNil(t, m)
	assert.Equal(t, services.Scope{Role: services.RoleMap, SelfID: "u1"}, v.Scope())
	assert.Equal(t, conf.Map.DefaultRadiusKm, m.Radius())

	for _, r := range []services.Role{services.RoleOwner, services.RoleClaimant} {
		conf.Session.Role = string(r)
		v, m := newView(sessionRole(conf), conf, deps, logger)
		assert.Nil(t, m)
		assert.Equal(t, r, v.Scope().Role)
		assert.False(t, v.Mounted())
	}
}
