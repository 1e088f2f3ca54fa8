package rulestore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/checkout-pricing/internal/discount"
	"github.com/noah-isme/checkout-pricing/internal/money"
)

// ErrUnknownKind is returned when a stored trigger or value carries a type
// tag this build does not understand. Rules with unknown kinds are skipped at
// load so a newer admin tool cannot break pricing.
var ErrUnknownKind = errors.New("rulestore: unknown kind")

const (
	kindAnd         = "AND"
	kindOr          = "OR"
	kindSubtotal    = "SUBTOTAL_RANGE"
	kindQuantity    = "ITEM_QUANTITY_RANGE"
	kindCustom      = "CUSTOM"
	kindPercentage  = "PERCENTAGE"
	kindFixedAmount = "FIXED_AMOUNT"
	kindFixedPrice  = "FIXED_PRICE"
)

type triggerJSON struct {
	Type     string          `json:"type"`
	Children []triggerJSON   `json:"children,omitempty"`
	Min      json.RawMessage `json:"min,omitempty"`
	Max      json.RawMessage `json:"max,omitempty"`
	Scope    []string        `json:"scope,omitempty"`
	ID       string          `json:"id,omitempty"`
	AppID    string          `json:"appId,omitempty"`
}

type valueJSON struct {
	Type   string       `json:"type"`
	Bps    int64        `json:"bps,omitempty"`
	Amount *money.Money `json:"amount,omitempty"`
	Price  *money.Money `json:"price,omitempty"`
}

// EncodeTrigger serializes a trigger tree for JSONB storage.
func EncodeTrigger(t discount.Trigger) ([]byte, error) {
	node, err := triggerNode(t)
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

func triggerNode(t discount.Trigger) (triggerJSON, error) {
	switch v := t.(type) {
	case discount.And:
		children, err := triggerChildren(v.Children)
		if err != nil {
			return triggerJSON{}, err
		}
		return triggerJSON{Type: kindAnd, Children: children}, nil
	case discount.Or:
		children, err := triggerChildren(v.Children)
		if err != nil {
			return triggerJSON{}, err
		}
		return triggerJSON{Type: kindOr, Children: children}, nil
	case discount.SubtotalRange:
		node := triggerJSON{Type: kindSubtotal, Scope: v.Scope}
		if v.Min != nil {
			raw, err := json.Marshal(v.Min)
			if err != nil {
				return triggerJSON{}, err
			}
			node.Min = raw
		}
		if v.Max != nil {
			raw, err := json.Marshal(v.Max)
			if err != nil {
				return triggerJSON{}, err
			}
			node.Max = raw
		}
		return node, nil
	case discount.ItemQuantityRange:
		node := triggerJSON{Type: kindQuantity, Scope: v.Scope}
		if v.Min != nil {
			node.Min, _ = json.Marshal(*v.Min)
		}
		if v.Max != nil {
			node.Max, _ = json.Marshal(*v.Max)
		}
		return node, nil
	case discount.Custom:
		return triggerJSON{Type: kindCustom, ID: v.ID, AppID: v.AppID}, nil
	default:
		return triggerJSON{}, fmt.Errorf("%w: trigger %T", ErrUnknownKind, t)
	}
}

func triggerChildren(children []discount.Trigger) ([]triggerJSON, error) {
	out := make([]triggerJSON, 0, len(children))
	for _, c := range children {
		node, err := triggerNode(c)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

// DecodeTrigger parses a stored trigger tree. A nil or empty document decodes
// to a nil trigger, meaning the rule always fires.
func DecodeTrigger(data []byte) (discount.Trigger, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var node triggerJSON
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return buildTrigger(node)
}

func buildTrigger(node triggerJSON) (discount.Trigger, error) {
	switch node.Type {
	case kindAnd, kindOr:
		children := make([]discount.Trigger, 0, len(node.Children))
		for _, c := range node.Children {
			child, err := buildTrigger(c)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if node.Type == kindAnd {
			return discount.And{Children: children}, nil
		}
		return discount.Or{Children: children}, nil
	case kindSubtotal:
		t := discount.SubtotalRange{Scope: node.Scope}
		if len(node.Min) > 0 {
			var m money.Money
			if err := json.Unmarshal(node.Min, &m); err != nil {
				return nil, err
			}
			t.Min = &m
		}
		if len(node.Max) > 0 {
			var m money.Money
			if err := json.Unmarshal(node.Max, &m); err != nil {
				return nil, err
			}
			t.Max = &m
		}
		return t, nil
	case kindQuantity:
		t := discount.ItemQuantityRange{Scope: node.Scope}
		if len(node.Min) > 0 {
			var n int64
			if err := json.Unmarshal(node.Min, &n); err != nil {
				return nil, err
			}
			t.Min = &n
		}
		if len(node.Max) > 0 {
			var n int64
			if err := json.Unmarshal(node.Max, &n); err != nil {
				return nil, err
			}
			t.Max = &n
		}
		return t, nil
	case kindCustom:
		return discount.Custom{ID: node.ID, AppID: node.AppID}, nil
	default:
		return nil, fmt.Errorf("%w: trigger %q", ErrUnknownKind, node.Type)
	}
}

// EncodeValue serializes a discount value for JSONB storage.
func EncodeValue(v discount.Value) ([]byte, error) {
	switch val := v.(type) {
	case discount.Percentage:
		return json.Marshal(valueJSON{Type: kindPercentage, Bps: val.Bps})
	case discount.FixedAmount:
		return json.Marshal(valueJSON{Type: kindFixedAmount, Amount: &val.Amount})
	case discount.FixedPrice:
		return json.Marshal(valueJSON{Type: kindFixedPrice, Price: &val.Price})
	default:
		return nil, fmt.Errorf("%w: value %T", ErrUnknownKind, v)
	}
}

// DecodeValue parses a stored discount value.
func DecodeValue(data []byte) (discount.Value, error) {
	var node valueJSON
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	switch node.Type {
	case kindPercentage:
		return discount.Percentage{Bps: node.Bps}, nil
	case kindFixedAmount:
		if node.Amount == nil {
			return nil, fmt.Errorf("rulestore: fixed amount without amount")
		}
		return discount.FixedAmount{Amount: *node.Amount}, nil
	case kindFixedPrice:
		if node.Price == nil {
			return nil, fmt.Errorf("rulestore: fixed price without price")
		}
		return discount.FixedPrice{Price: *node.Price}, nil
	default:
		return nil, fmt.Errorf("%w: value %q", ErrUnknownKind, node.Type)
	}
}
