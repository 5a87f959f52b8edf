package types

// BlockRecord is one observed block header: its position on the chain and the
// hash the node reported for it. Records are immutable once persisted.
type BlockRecord struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}
