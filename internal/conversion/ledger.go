package conversion

import (
	"context"
	"errors"

	"enrollgate/internal/kvstore"
	"enrollgate/pkg/platform/sentinel"
)

const ledgerPrefix = "conversion:"

// ledger remembers conversions made from this device so a repeated Convert
// is refused even when the backend read is stale.
type ledger struct {
	store kvstore.Store
}

func (l ledger) lookup(ctx context.Context, enquiryID string) (ConversionResult, bool, error) {
	if l.store == nil {
		return ConversionResult{}, false, nil
	}
	var rec ConversionResult
	err := kvstore.GetJSON(ctx, l.store, ledgerPrefix+enquiryID, &rec)
	if errors.Is(err, sentinel.ErrNotFound) {
		return ConversionResult{}, false, nil
	}
	if err != nil {
		return ConversionResult{}, false, err
	}
	return rec, true, nil
}

func (l ledger) record(ctx context.Context, rec ConversionResult) error {
	if l.store == nil {
		return nil
	}
	return kvstore.PutJSON(ctx, l.store, ledgerPrefix+rec.EnquiryID, rec)
}
