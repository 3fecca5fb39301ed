package merrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	testcases := []struct {
		err  *Error
		want string
	}{
		{
			err:  Newf(ProtocolErr, "clock", "expected userdata at #%v", 1),
			want: "clock: protocol violation: expected userdata at #1",
		},
		{
			err:  Newf(CollisionErr, "clock", "module %q is already loaded", "clock"),
			want: `clock: module "clock" is already loaded`,
		},
		{
			err:  Newf(ArgumentErr, "clock", "string expected"),
			want: "string expected",
		},
	}
	for _, tcase := range testcases {
		assert.EqualError(t, tcase.err, tcase.want)
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Kind: ProtocolErr, Module: "clock", Err: inner}
	assert.ErrorIs(t, err, inner)
}
