package document

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns an identifier of the form <prefix>_<unix-millis>_<random>.
// The random part is the first 48 bits of a v4 UUID, all of which are random.
func NewID(prefix string) string {
	u := uuid.New()
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(u[:6]))
}
