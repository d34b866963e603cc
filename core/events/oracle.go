package events

import (
	"math/big"
	"strconv"

	"swapcore/core/types"
)

const (
	TypePriceUpdated              = "price.updated"
	TypePriceInvalidated          = "price.invalidated"
	TypeRecommendationCreated     = "price.recommendation.created"
	TypeRecommendationInvalidated = "price.recommendation.invalidated"
	TypeReporterUpdated           = "price.reporter.updated"
	TypeMinConfidenceUpdated      = "price.min_confidence.updated"
	TypeAssetDecimalsUpdated      = "price.asset_decimals.updated"
)

type PriceUpdated struct {
	Asset     string
	Price     *big.Int
	Reporter  [20]byte
	UpdatedAt int64
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePriceUpdated,
		Attributes: map[string]string{
			"asset":     normalizeAsset(e.Asset),
			"price":     formatAmount(e.Price),
			"reporter":  identity(e.Reporter),
			"updatedAt": intToString(e.UpdatedAt),
		},
	}
}

type PriceInvalidated struct {
	Asset string
}

func (PriceInvalidated) EventType() string { return TypePriceInvalidated }

func (e PriceInvalidated) Event() *types.Event {
	return &types.Event{
		Type:       TypePriceInvalidated,
		Attributes: map[string]string{"asset": normalizeAsset(e.Asset)},
	}
}

type RecommendationCreated struct {
	Key            [32]byte
	FromAsset      string
	ToAsset        string
	ExpectedAmount *big.Int
	Confidence     uint32
	CreatedAt      int64
}

func (RecommendationCreated) EventType() string { return TypeRecommendationCreated }

func (e RecommendationCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeRecommendationCreated,
		Attributes: map[string]string{
			"key":            hash32(e.Key),
			"fromAsset":      normalizeAsset(e.FromAsset),
			"toAsset":        normalizeAsset(e.ToAsset),
			"expectedAmount": formatAmount(e.ExpectedAmount),
			"confidence":     strconv.FormatUint(uint64(e.Confidence), 10),
			"createdAt":      intToString(e.CreatedAt),
		},
	}
}

type RecommendationInvalidated struct {
	Key [32]byte
}

func (RecommendationInvalidated) EventType() string { return TypeRecommendationInvalidated }

func (e RecommendationInvalidated) Event() *types.Event {
	return &types.Event{
		Type:       TypeRecommendationInvalidated,
		Attributes: map[string]string{"key": hash32(e.Key)},
	}
}

type ReporterUpdated struct {
	Reporter [20]byte
	Active   bool
}

func (ReporterUpdated) EventType() string { return TypeReporterUpdated }

func (e ReporterUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeReporterUpdated,
		Attributes: map[string]string{
			"reporter": identity(e.Reporter),
			"active":   boolString(e.Active),
		},
	}
}

type MinConfidenceUpdated struct {
	Previous uint32
	Current  uint32
}

func (MinConfidenceUpdated) EventType() string { return TypeMinConfidenceUpdated }

func (e MinConfidenceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeMinConfidenceUpdated,
		Attributes: map[string]string{
			"previous": strconv.FormatUint(uint64(e.Previous), 10),
			"current":  strconv.FormatUint(uint64(e.Current), 10),
		},
	}
}

type AssetDecimalsUpdated struct {
	Asset    string
	Decimals uint8
}

func (AssetDecimalsUpdated) EventType() string { return TypeAssetDecimalsUpdated }

func (e AssetDecimalsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetDecimalsUpdated,
		Attributes: map[string]string{
			"asset":    normalizeAsset(e.Asset),
			"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
		},
	}
}
