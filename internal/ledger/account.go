package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder   AccountScope = iota // Users, the pool, the order queue
	AccountScopeIssuance                     // Counterparty of every mint and burn
)

// AssetID identifies one of the fungible tokens the market tracks
type AssetID uint8

const (
	AssetUnknown AssetID = iota
	AssetCollateral
	AssetWhite
	AssetBlack
	AssetLiquidity
)

var (
	assetNames = map[AssetID]string{
		AssetCollateral: "collateral",
		AssetWhite:      "white",
		AssetBlack:      "black",
		AssetLiquidity:  "bw_share",
	}
	namesToAsset = map[string]AssetID{
		"collateral": AssetCollateral,
		"white":      AssetWhite,
		"black":      AssetBlack,
		"bw_share":   AssetLiquidity,
	}
)

// AllAssets in a fixed order, for hashing and snapshots.
var AllAssets = []AssetID{AssetCollateral, AssetWhite, AssetBlack, AssetLiquidity}

func GetAssetID(name string) (AssetID, bool) {
	id, ok := namesToAsset[name]
	return id, ok
}

func (a AssetID) String() string {
	if name, ok := assetNames[a]; ok {
		return name
	}
	return "unknown"
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope AccountScope
	Owner common.Address
	Asset AssetID
}

func HolderKey(owner common.Address, asset AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeHolder, Owner: owner, Asset: asset}
}

func IssuanceKey(asset AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeIssuance, Asset: asset}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s", k.Owner.Hex(), k.Asset)
	case AccountScopeIssuance:
		return fmt.Sprintf("issuance:%s", k.Asset)
	}
	return "unknown"
}
