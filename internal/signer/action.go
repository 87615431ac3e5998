package signer

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/planetarium/ncg-bridge/internal/amount"
)

// TransferAction is the plain-value shape of a transfer_asset3 action
// (spec.md §4.5/§6): a FungibleAssetValue amount tuple, an optional
// memo, and raw 20-byte recipient/sender addresses.
type TransferAction struct {
	Minter    [20]byte
	Amount    amount.NCG
	Memo      string
	Recipient [20]byte
	Sender    [20]byte
}

// EncodeTransferAction serializes action with the chain's canonical
// dictionary encoding (a deterministic, ordered-key binary form derived
// from bencode) and base64-encodes the result. No bencode/codec library
// in the reference corpus models this chain-specific ordered-key
// dictionary shape, so the encoder is hand-written, matching the
// "Action serialization" contract in spec.md §6.
func EncodeTransferAction(a TransferAction) (string, error) {
	amountValue := plainList{
		plainDict{
			{"decimalPlaces", plainBytes{0x02}},
			{"minters", plainList{plainBytes(a.Minter[:])}},
			{"ticker", plainText("NCG")},
		},
		plainInteger(a.Amount.Hundredths()),
	}

	values := plainDict{
		{"amount", amountValue},
		{"recipient", plainBytes(a.Recipient[:])},
		{"sender", plainBytes(a.Sender[:])},
	}
	if a.Memo != "" {
		values = insertSorted(values, "memo", plainText(a.Memo))
	}

	root := plainDict{
		{"type_id", plainText("transfer_asset3")},
		{"values", values},
	}

	var sb strings.Builder
	encodeValue(&sb, root)
	return base64.StdEncoding.EncodeToString([]byte(sb.String())), nil
}

// insertSorted keeps a plainDict's keys in the byte-lexicographic order
// the canonical encoding requires.
func insertSorted(d plainDict, key string, v plainValue) plainDict {
	out := append(plainDict{}, d...)
	out = append(out, plainKV{key, v})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// --- minimal bencode-shaped plain-value encoder ---
//
// The chain's "plain value" wire format is a deterministic, ordered-key
// dictionary encoding: integers as `i<digits>e`, byte strings as
// `<len>:<bytes>`, lists as `l...e`, dictionaries as `d...e` with keys
// sorted byte-lexicographically and each key itself length-prefixed.

type plainValue interface{ isPlainValue() }

type plainInteger int64

func (plainInteger) isPlainValue() {}

type plainBytes []byte

func (plainBytes) isPlainValue() {}

type plainText string

func (plainText) isPlainValue() {}

type plainList []plainValue

func (plainList) isPlainValue() {}

type plainKV struct {
	Key   string
	Value plainValue
}

type plainDict []plainKV

func (plainDict) isPlainValue() {}

func encodeValue(sb *strings.Builder, v plainValue) {
	switch t := v.(type) {
	case plainInteger:
		sb.WriteByte('i')
		sb.WriteString(strconv.FormatInt(int64(t), 10))
		sb.WriteByte('e')
	case plainBytes:
		sb.WriteString(strconv.Itoa(len(t)))
		sb.WriteByte(':')
		sb.Write(t)
	case plainText:
		raw := []byte(t)
		sb.WriteString(strconv.Itoa(len(raw)))
		sb.WriteByte(':')
		sb.Write(raw)
	case plainList:
		sb.WriteByte('l')
		for _, item := range t {
			encodeValue(sb, item)
		}
		sb.WriteByte('e')
	case plainDict:
		sorted := append(plainDict{}, t...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
		sb.WriteByte('d')
		for _, kv := range sorted {
			encodeValue(sb, plainText(kv.Key))
			encodeValue(sb, kv.Value)
		}
		sb.WriteByte('e')
	default:
		panic(fmt.Sprintf("signer: unencodable plain value %T", v))
	}
}
