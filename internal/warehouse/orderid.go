package warehouse

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"time"
)

const (
	orderIDSuffixLen = 9
	base36Alphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var orderIDPattern = regexp.MustCompile(`^order_\d+_[a-z0-9]+$`)

// NewOrderID returns an id of the form order_<unix millis>_<9 base36 chars>.
func NewOrderID(now time.Time) string {
	suffix := make([]byte, orderIDSuffixLen)
	for i := range suffix {
		suffix[i] = base36Alphabet[rand.IntN(len(base36Alphabet))]
	}
	return "order_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}

// ValidOrderID reports whether id has the shape produced by NewOrderID.
func ValidOrderID(id string) bool {
	return orderIDPattern.MatchString(id)
}
