package trade

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	codeLength     = 4
	codeMaxRetries = 5
)

// codePool hands out short, human-readable join codes next to the UUID
// session id. Codes are only unique among sessions this process created;
// the UUID is the real identity.
type codePool struct {
	used sync.Map
}

func (p *codePool) next() (string, error) {
	for i := 0; i < codeMaxRetries; i++ {
		bytes := make([]byte, 3)
		if _, err := rand.Read(bytes); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}

		encoded := base32.StdEncoding.EncodeToString(bytes)
		code := strings.ToUpper(encoded[:codeLength])

		if _, exists := p.used.LoadOrStore(code, true); !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique session code after %d attempts", codeMaxRetries)
}

func newSessionID() string {
	return uuid.NewString()
}
