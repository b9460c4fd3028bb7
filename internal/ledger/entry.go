package ledger

import (
	"errors"
	"time"

	"github.com/zombor/receipt-ledger/internal/receipt"
)

// ErrNotFound is returned when an entry or export does not exist
var ErrNotFound = errors.New("not found")

// Source records how the raw text of an entry was obtained
type Source string

const (
	SourceText  Source = "text"
	SourceImage Source = "image"
)

// Entry is an extracted receipt kept in the ledger
type Entry struct {
	ID        string          `json:"id"`
	Receipt   receipt.Receipt `json:"receipt"`
	RawText   string          `json:"rawText"`
	Source    Source          `json:"source"`
	CreatedAt time.Time       `json:"createdAt"`
}
