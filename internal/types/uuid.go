package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/teris-io/shortid"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex inv_0ujsswThIGTUYm2K8FjOOfXtY1K
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

var (
	sidGenerator *shortid.Shortid
	once         sync.Once
)

func initializeSID() {
	var err error
	sidGenerator, err = shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic("failed to initialize shortid generator: " + err.Error())
	}
}

// GenerateShortIDWithPrefix returns an upper cased short ID with a prefix.
// Total length is capped at 14 characters, e.g. `INV-XYZ12A8QKD`.
func GenerateShortIDWithPrefix(prefix string) string {
	once.Do(initializeSID)

	id, err := sidGenerator.Generate()
	if err != nil {
		return ""
	}
	id = strings.NewReplacer("-", "", "_", "").Replace(id)

	availableLen := 14 - len(prefix)
	if availableLen <= 0 {
		return ""
	}

	if len(id) > availableLen {
		id = id[:availableLen]
	}

	return strings.ToUpper(prefix + id)
}

const (
	// Prefixes for all domains and entities

	UUID_PREFIX_PLAN           = "plan"
	UUID_PREFIX_SUBSCRIPTION   = "subs"
	UUID_PREFIX_USAGE          = "usage"
	UUID_PREFIX_INVOICE        = "inv"
	UUID_PREFIX_INVOICE_ITEM   = "inv_line"
	UUID_PREFIX_PAYMENT        = "pay"
	UUID_PREFIX_PAYMENT_METHOD = "pm"
	UUID_PREFIX_RETRY_ATTEMPT  = "retry"
	UUID_PREFIX_BILLING_RUN    = "run"
	UUID_PREFIX_WEBHOOK_EVENT  = "webhook"
)

const (
	SHORT_ID_PREFIX_INVOICE = "INV-"
)
