package models

// KeeperInfo is the operator-facing summary of the keeper instance itself.
type KeeperInfo struct {
	KeeperID    string `json:"keeperId"`
	PublicKey   string `json:"publicKey"`
	Running     bool   `json:"running"`
	WatchedPots int    `json:"watchedPots"`
	CurrentSlot uint64 `json:"currentSlot"`
}
