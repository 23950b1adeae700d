package mainctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIOCondition_String(t *testing.T) {
	assert.Equal(t, "0", IOCondition(0).String())
	assert.Equal(t, "IN|OUT", (IOIn | IOOut).String())
	assert.Equal(t, "PRI|ERR|HUP|NVAL", (IOPri | IOErr | IOHup | IONval).String())
}

func TestIOCondition_PollEvents(t *testing.T) {
	for _, c := range []IOCondition{IOIn, IOPri, IOOut, IOErr, IOHup, IONval, IOIn | IOOut | IOHup} {
		assert.Equal(t, c, ConditionFromPoll(c.PollEvents()), "%s", c)
	}
}
