package codec

import (
	"errors"
	"testing"
	"time"

	"market_store/internal/domain"

	"github.com/shopspring/decimal"
)

func TestMetadata_SegmentRoundTrip(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	meta := Metadata{
		Version:           CurrentVersion,
		Date:              day,
		Count:             12,
		PriceStep:         decimal.RequireFromString("0.05"),
		VolumeStep:        decimal.RequireFromString("0.001"),
		ServerOffset:      3 * time.Hour,
		FirstTime:         day.Add(10 * time.Hour),
		LastTime:          day.Add(11 * time.Hour),
		FirstPrice:        decimal.RequireFromString("101.25"),
		LastPrice:         decimal.RequireFromString("99.95"),
		FirstID:           7,
		LastID:            19,
		LastTransactionID: 1001,
		Portfolios:        []string{"main", "hedge"},
		LastValues:        map[uint8]decimal.Decimal{3: decimal.RequireFromString("1.5")},
	}

	blob, err := EncodeSegment(meta, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("EncodeSegment failed: %v", err)
	}

	got, data, err := DecodeSegment(blob)
	if err != nil {
		t.Fatalf("DecodeSegment failed: %v", err)
	}
	if len(data) != 2 || data[0] != 0xAA {
		t.Errorf("record stream mismatch: %x", data)
	}
	if got.Version != meta.Version || got.Count != 12 || got.ServerOffset != 3*time.Hour {
		t.Errorf("header mismatch: %+v", got)
	}
	if !got.Date.Equal(day) || !got.LastTime.Equal(meta.LastTime) || !got.FirstLocalTime.IsZero() {
		t.Errorf("time mismatch: %+v", got)
	}
	if !got.PriceStep.Equal(meta.PriceStep) || !got.LastPrice.Equal(meta.LastPrice) {
		t.Errorf("decimal mismatch: %s %s", got.PriceStep, got.LastPrice)
	}
	if got.LastID != 19 || got.LastTransactionID != 1001 {
		t.Errorf("id mismatch: %+v", got)
	}
	if len(got.Portfolios) != 2 || got.Portfolios[1] != "hedge" {
		t.Errorf("portfolios mismatch: %v", got.Portfolios)
	}
	if v := got.LastValues[3]; !v.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("field value mismatch: %s", v)
	}
}

func TestDecodeSegment_Corrupt(t *testing.T) {
	if _, _, err := DecodeSegment([]byte{1, 2}); !errors.Is(err, domain.ErrDataFormat) {
		t.Errorf("short blob: got %v", err)
	}
	if _, _, err := DecodeSegment([]byte{200, 0, 0, 0, 1}); !errors.Is(err, domain.ErrDataFormat) {
		t.Errorf("bad length: got %v", err)
	}
}

func TestMetadata_CloneIsolated(t *testing.T) {
	m := Metadata{Portfolios: []string{"a"}, LastValues: map[uint8]decimal.Decimal{1: decimal.NewFromInt(1)}}
	c := m.Clone()
	c.Portfolios[0] = "b"
	c.LastValues[1] = decimal.NewFromInt(2)
	if m.Portfolios[0] != "a" || !m.LastValues[1].Equal(decimal.NewFromInt(1)) {
		t.Error("Clone shares state with original")
	}
}
