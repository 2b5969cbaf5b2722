package ledgerstate

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"
)

// TxSet is the per-ledger payload the transaction-history file carries.
// Transaction execution semantics are explicitly out of scope (spec.md
// §1's Non-goals); TxSet is deliberately opaque here — an ordered set of
// already-encoded operations the ledger manager knows how to apply. The
// test harness's deterministic generator is the only producer and
// consumer that cares what Ops actually contains.
type TxSet struct {
	LedgerSeq uint32 `json:"ledgerSeq"`
	Ops       []byte `json:"ops"`
}

// EncodeLedgerHeaders gzips the JSON encoding of entries, the format this
// module uses for the "ledger/.../ledger-<8-hex>.xdr.gz" archive objects of
// spec.md §6 (wire format for archive transport is explicitly out of
// scope; JSON-then-gzip is this module's own choice of payload inside that
// gz envelope).
func EncodeLedgerHeaders(entries []LHHE) ([]byte, error) {
	return encodeGzipJSON(entries)
}

// DecodeLedgerHeaders reverses EncodeLedgerHeaders.
func DecodeLedgerHeaders(data []byte) ([]LHHE, error) {
	var entries []LHHE
	if err := decodeGzipJSON(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// EncodeTxSets gzips the JSON encoding of sets, one per ledger of a
// checkpoint, for the "transactions/.../transactions-<8-hex>.xdr.gz"
// archive objects.
func EncodeTxSets(sets []TxSet) ([]byte, error) {
	return encodeGzipJSON(sets)
}

// DecodeTxSets reverses EncodeTxSets.
func DecodeTxSets(data []byte) ([]TxSet, error) {
	var sets []TxSet
	if err := decodeGzipJSON(data, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

func encodeGzipJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gw)
	if err := enc.Encode(v); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGzipJSON(data []byte, v interface{}) error {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gr.Close()
	b, err := io.ReadAll(gr)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
