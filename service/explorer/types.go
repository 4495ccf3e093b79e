package explorer

// FieldMap maps a row label to the raw markup of its value cell.
// It is built fresh for every extraction and discarded after assembly.
type FieldMap map[string]string

// Identity is a counterparty as rendered by the explorer. Known accounts are
// shown as an avatar widget, raw addresses as plain text, so every field is
// independently optional.
type Identity struct {
	Username *string `json:"username"`
	Avatar   *string `json:"avatar"`
	UID      *string `json:"uid"`
}

// Record is the normalized form of one transaction detail page.
// Optional fields are nil rather than omitted so every record has the same shape.
type Record struct {
	TxHash       string   `json:"tx_hash"`
	Sender       Identity `json:"sender"`
	Receiver     Identity `json:"receiver"`
	TokenType    *string  `json:"token_type"`
	TokenAddress *string  `json:"token_address"`
	Amount       *string  `json:"amount"`
	AmountValue  *float64 `json:"amount_value"`
	Time         *string  `json:"time"`
	Memo         *string  `json:"memo"`
	TopicID      *int64   `json:"topic_id"`
}
