package explorer

// Row labels used by the explorer, Chinese first. The first alias with a
// non-empty value wins.
var (
	TxHashLabels       = []string{"交易哈希", "Transaction Hash"}
	SenderLabels       = []string{"发送方", "Sender"}
	ReceiverLabels     = []string{"接收方", "Receiver"}
	TokenTypeLabels    = []string{"代币类型", "Token Type"}
	TokenAddressLabels = []string{"代币地址", "Token Account"}
	AmountLabels       = []string{"数额", "Amount"}
	TimeLabels         = []string{"发送时间", "Time"}
	MemoLabels         = []string{"附言（只对发送者或者接收者可见）", "Memo"}
)

// Extractor assembles Records from pages using the given Scanner.
// The zero value uses PatternScanner.
type Extractor struct {
	Scanner Scanner
}

// NewExtractor returns an Extractor backed by scanner.
func NewExtractor(scanner Scanner) *Extractor {
	return &Extractor{Scanner: scanner}
}

// Extract scans html and assembles a Record.
func (e *Extractor) Extract(html string) (Record, error) {
	scanner := e.Scanner
	if scanner == nil {
		scanner = PatternScanner{}
	}
	return Assemble(scanner.Scan(html))
}

// Extract turns a transaction detail page into a Record using PatternScanner.
func Extract(html string) (Record, error) {
	return Assemble(PatternScanner{}.Scan(html))
}

// Assemble builds a Record from scanned fields. It fails with a *ParseError
// only when the transaction hash is missing or empty; every other field
// degrades to nil.
func Assemble(fields FieldMap) (Record, error) {
	if !hasAny(fields, TxHashLabels) {
		return Record{}, &ParseError{Reason: "transaction hash not found in HTML"}
	}
	txHash := StripTags(lookup(fields, TxHashLabels))
	if txHash == "" {
		return Record{}, &ParseError{Reason: "transaction hash is empty"}
	}

	amount := text(fields, AmountLabels)
	memo := text(fields, MemoLabels)

	rec := Record{
		TxHash:       txHash,
		Sender:       ExtractIdentity(lookup(fields, SenderLabels)),
		Receiver:     ExtractIdentity(lookup(fields, ReceiverLabels)),
		TokenType:    text(fields, TokenTypeLabels),
		TokenAddress: text(fields, TokenAddressLabels),
		Amount:       amount,
		Time:         text(fields, TimeLabels),
		Memo:         memo,
	}
	if amount != nil {
		rec.AmountValue = ParseAmount(*amount)
	}
	if memo != nil {
		rec.TopicID = ExtractTopicID(*memo)
	}
	return rec, nil
}

// lookup returns the first non-empty value among labels.
func lookup(fields FieldMap, labels []string) string {
	for _, label := range labels {
		if v := fields[label]; v != "" {
			return v
		}
	}
	return ""
}

func hasAny(fields FieldMap, labels []string) bool {
	for _, label := range labels {
		if _, ok := fields[label]; ok {
			return true
		}
	}
	return false
}

func text(fields FieldMap, labels []string) *string {
	return optional(StripTags(lookup(fields, labels)))
}
