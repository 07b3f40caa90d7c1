package orders

import (
	"crypto/rand"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// DefaultNumberPrefix tags order numbers for this store.
const DefaultNumberPrefix = "RNS"

const (
	suffixAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffixLength   = 4
)

// NumberGenerator builds short human-facing order numbers: PREFIX-<base36 millis>-<random>.
// Numbers are not checked for uniqueness before insert.
type NumberGenerator struct {
	Prefix string
	Now    func() time.Time
	Rand   io.Reader
}

// Next returns a new order number.
func (g NumberGenerator) Next() string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}

	stamp := strings.ToUpper(strconv.FormatInt(now().UnixMilli(), 36))
	var suffix strings.Builder
	base := big.NewInt(int64(len(suffixAlphabet)))
	for i := 0; i < suffixLength; i++ {
		n, err := rand.Int(src, base)
		if err != nil {
			suffix.WriteByte('0')
			continue
		}
		suffix.WriteByte(suffixAlphabet[n.Int64()])
	}
	return prefix + "-" + stamp + "-" + suffix.String()
}
