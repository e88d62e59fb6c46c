package storage

import "fmt"

// Sort fields accepted by List.
const (
	SortBySlot      = "slot"
	SortBySignature = "signature"
	SortByBlockTime = "block_time"
)

// Sort orders.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Pagination bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ListFilter narrows and pages a transaction listing. Zero values mean
// "not filtered".
type ListFilter struct {
	// Signature matches one transaction exactly.
	Signature string

	// From, To and ProgramID match the respective account fields.
	From      string
	To        string
	ProgramID string

	// SlotFrom and SlotTo bound the slot range inclusively.
	SlotFrom uint64
	SlotTo   uint64

	// SortBy is one of slot, signature or block_time. Defaults to slot.
	SortBy string

	// Order is asc or desc. Defaults to desc, newest first.
	Order string

	// Limit is clamped to [1, MaxLimit] with DefaultLimit for zero.
	Limit int

	// Offset is the number of matching rows to skip.
	Offset int
}

// Normalize validates the filter and fills defaults. Out-of-range limits are
// clamped rather than rejected; unknown sort fields and orders are errors.
func (f *ListFilter) Normalize() error {
	switch f.SortBy {
	case "":
		f.SortBy = SortBySlot
	case SortBySlot, SortBySignature, SortByBlockTime:
	default:
		return fmt.Errorf("%w: unknown sort field %q", ErrInvalidFilter, f.SortBy)
	}

	switch f.Order {
	case "":
		f.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return fmt.Errorf("%w: unknown order %q", ErrInvalidFilter, f.Order)
	}

	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	if f.SlotFrom > 0 && f.SlotTo > 0 && f.SlotFrom > f.SlotTo {
		return fmt.Errorf("%w: slot_from after slot_to", ErrInvalidFilter)
	}

	return nil
}
