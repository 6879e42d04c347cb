package v0

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/outofforest/fefs/blocks"
)

func TestHeader(t *testing.T) {
	assertT := assert.New(t)

	p := make([]byte, 128)
	for i := range p {
		p[i] = 0xff
	}

	h := Header{Next: 1 << 40, Used: 100, Kind: blocks.FileKind}
	h.Encode(p)
	assertT.Equal(h, DecodeHeader(p))
	assertT.Equal([]byte{0, 0, 0}, p[13:16])
	assertT.Len(Payload(p), 128-HeaderSize)
	assertT.EqualValues(112, PayloadSize(128))
}
