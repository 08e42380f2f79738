package segmut

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/segmut/internal/manifest"
	"github.com/hupe1980/segmut/internal/resolver"
	"github.com/hupe1980/segmut/internal/resource"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	cases := []struct {
		in   error
		want error
	}{
		{resource.ErrMemoryLimitExceeded, ErrBackpressure},
		{resolver.ErrUnknownSegment, ErrUnknownSegment},
		{resolver.ErrDiscarded, ErrDiscarded},
		{manifest.ErrConcurrentCommit, ErrConcurrentCommit},
		{manifest.ErrCorrupt, ErrCorrupt},
	}
	for _, c := range cases {
		err := translateError(errors.Wrap(c.in, "wrapped"))
		assert.ErrorIs(t, err, c.want, c.in.Error())
		assert.ErrorIs(t, err, c.in, "cause stays reachable")
	}

	plain := errors.New("other")
	assert.Equal(t, plain, translateError(plain))
}
