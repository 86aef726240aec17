package models

// Rarity of a picto, derived from its level
type Rarity uint8

const (
	RarityCommon Rarity = iota
	RarityUncommon
	RarityRare
	RarityEpic
	RarityLegendary
)

// RarityForLevel buckets a niveau value: 25+ legendary, 15+ epic, 10+ rare, 5+ uncommon
func RarityForLevel(level int) Rarity {
	switch {
	case level >= 25:
		return RarityLegendary
	case level >= 15:
		return RarityEpic
	case level >= 10:
		return RarityRare
	case level >= 5:
		return RarityUncommon
	default:
		return RarityCommon
	}
}

func (r Rarity) String() string {
	switch r {
	case RarityUncommon:
		return "uncommon"
	case RarityRare:
		return "rare"
	case RarityEpic:
		return "epic"
	case RarityLegendary:
		return "legendary"
	default:
		return "common"
	}
}

func (r Rarity) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
