package bridge

import (
	"testing"

	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/joeycumines/go-loopbridge/reactor"
	"github.com/stretchr/testify/assert"
)

func TestConditionToEvents(t *testing.T) {
	for _, tc := range []struct {
		in   mainctx.IOCondition
		want reactor.Events
	}{
		{0, 0},
		{mainctx.IOIn, reactor.Readable | reactor.Disconnect},
		{mainctx.IOOut, reactor.Writable},
		{mainctx.IOPri, reactor.Prioritized},
		{mainctx.IOHup, reactor.Disconnect},
		{mainctx.IOErr | mainctx.IONval, 0},
		{mainctx.IOIn | mainctx.IOOut, reactor.Readable | reactor.Writable | reactor.Disconnect},
	} {
		assert.Equal(t, tc.want, conditionToEvents(tc.in), tc.in.String())
	}
}

func TestEventsToCondition(t *testing.T) {
	for _, tc := range []struct {
		in   reactor.Events
		want mainctx.IOCondition
	}{
		{0, 0},
		{reactor.Readable, mainctx.IOIn},
		{reactor.Writable, mainctx.IOOut},
		{reactor.Prioritized, mainctx.IOPri},
		{reactor.Disconnect, mainctx.IOHup},
		{reactor.Readable | reactor.Disconnect, mainctx.IOIn | mainctx.IOHup},
	} {
		assert.Equal(t, tc.want, eventsToCondition(tc.in), tc.in.String())
	}
}

func TestContractError(t *testing.T) {
	err := &ContractError{Op: "remove", FD: 4, Reason: "descriptor is not tracked"}
	assert.Equal(t, "bridge: contract violation: remove fd 4: descriptor is not tracked", err.Error())
	assert.ErrorIs(t, err, ErrContract)

	err = &ContractError{Op: "destroy", FD: -1, Reason: "backend already destroyed"}
	assert.Equal(t, "bridge: contract violation: destroy: backend already destroyed", err.Error())
}
