package eksr

import (
	"encoding/hex"
	"strings"
)

// Addr identifies a peripheral endpoint: a MAC address on Linux, a
// device UUID on darwin stacks.
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr creates an Addr from its textual form, normalized to lower
// case so addresses compare stably across transports.
func NewAddr(s string) Addr {
	return addr(strings.ToLower(s))
}

type addr string

func (a addr) String() string {
	return string(a)
}

// Bytes returns the raw address bytes in textual order. Separator style
// differs between stacks ("aa:bb" vs "aa-bb"), so anything that is not
// a hex digit is skipped.
func (a addr) Bytes() []byte {
	var b strings.Builder
	for _, r := range string(a) {
		if ('0' <= r && r <= '9') || ('a' <= r && r <= 'f') {
			b.WriteRune(r)
		}
	}

	out, err := hex.DecodeString(b.String())
	if err != nil {
		GetLogger().Error("error decoding address: ", err, " ", a.String())
	}

	return out
}
