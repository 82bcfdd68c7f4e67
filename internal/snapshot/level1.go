package snapshot

import (
	"fmt"
	"maps"
	"time"

	"github.com/shopspring/decimal"

	"market_store/internal/domain"
	"market_store/pkg/quant"
)

// Level-1 slot versions. Version 2 appends the local receive time.
const (
	Level1VersionBase      uint16 = 1
	Level1VersionLocalTime uint16 = 2
)

// Level1Serializer keeps one merged Level1Change per security.
type Level1Serializer struct {
	version uint16
}

// NewLevel1Serializer writes new files at version; zero selects the latest.
func NewLevel1Serializer(version uint16) *Level1Serializer {
	if version == 0 {
		version = Level1VersionLocalTime
	}
	return &Level1Serializer{version: version}
}

func (*Level1Serializer) Name() string      { return "level1" }
func (s *Level1Serializer) Version() uint16 { return s.version }

func (*Level1Serializer) SlotSize(version uint16) (int, error) {
	base := codeSize + boardSize + 8 + 4 + domain.Level1FieldCount*quant.DecimalSize
	switch version {
	case Level1VersionBase:
		return base, nil
	case Level1VersionLocalTime:
		return base + 8, nil
	default:
		return 0, fmt.Errorf("%w: unknown level1 snapshot version %d", domain.ErrDataFormat, version)
	}
}

func (*Level1Serializer) Key(m *domain.Level1Change) domain.SecurityID { return m.SecurityID }

func (*Level1Serializer) Encode(buf []byte, m *domain.Level1Change, version uint16) error {
	w := &slotWriter{buf: buf}
	w.security(m.SecurityID)
	w.time(m.ServerTime)

	var mask uint32
	for f := range m.Changes {
		if f == 0 || int(f) > domain.Level1FieldCount {
			return fmt.Errorf("%w: unknown level1 field %d", domain.ErrDataFormat, f)
		}
		mask |= 1 << (f - 1)
	}
	w.u32(mask)
	for f := domain.Level1Field(1); int(f) <= domain.Level1FieldCount; f++ {
		w.decimal(m.Changes[f])
	}

	if version >= Level1VersionLocalTime {
		w.time(m.LocalTime)
	}
	return w.err
}

func (*Level1Serializer) Decode(buf []byte, version uint16) (*domain.Level1Change, error) {
	r := &slotReader{buf: buf}
	m := &domain.Level1Change{
		SecurityID: r.security(),
		ServerTime: r.time(),
		Changes:    make(map[domain.Level1Field]decimal.Decimal),
	}
	mask := r.u32()
	for f := domain.Level1Field(1); int(f) <= domain.Level1FieldCount; f++ {
		v := r.decimal()
		if mask&(1<<(f-1)) != 0 {
			m.Changes[f] = v
		}
	}
	if version >= Level1VersionLocalTime {
		m.LocalTime = r.time()
	}
	if m.SecurityID.IsZero() {
		return nil, fmt.Errorf("%w: level1 slot without security", domain.ErrDataFormat)
	}
	return m, nil
}

// Update overwrites the fields present in curr and takes its times.
func (*Level1Serializer) Update(prev, curr *domain.Level1Change) *domain.Level1Change {
	merged := prev.Clone()
	if merged.Changes == nil {
		merged.Changes = make(map[domain.Level1Field]decimal.Decimal, len(curr.Changes))
	}
	maps.Copy(merged.Changes, curr.Changes)
	merged.ServerTime = curr.ServerTime
	merged.LocalTime = curr.LocalTime
	return merged
}

func (*Level1Serializer) Clone(m *domain.Level1Change) *domain.Level1Change { return m.Clone() }
func (*Level1Serializer) Time(m *domain.Level1Change) time.Time             { return m.ServerTime }
