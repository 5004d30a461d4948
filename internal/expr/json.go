package expr

import (
	"encoding/json"
	"fmt"
)

// encoded is the wire form of an expression node. Every member of the
// closed algebra maps onto it; Raw does not, which is what makes
// serializability a structural property rather than a runtime check.
type encoded struct {
	Op      string     `json:"op"`
	Pattern string     `json:"pattern,omitempty"`
	Source  string     `json:"source,omitempty"`
	Group   int        `json:"group,omitempty"`
	Conv    Conv       `json:"conv,omitempty"`
	X       *encoded   `json:"x,omitempty"`
	Of      []*encoded `json:"of,omitempty"`
}

// Marshal serializes an expression tree to JSON. Trees containing Raw nodes
// return ErrNotSerializable.
func Marshal(e Expr) ([]byte, error) {
	enc, err := encode(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

// Unmarshal reconstructs an expression tree from its JSON form.
func Unmarshal(data []byte) (Expr, error) {
	var enc encoded
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("unmarshal expression: %w", err)
	}
	return decode(&enc)
}

func encode(e Expr) (*encoded, error) {
	switch n := e.(type) {
	case True:
		return &encoded{Op: "true"}, nil
	case Found:
		return &encoded{Op: "found", Pattern: n.Pattern, Source: n.Source}, nil
	case Not:
		x, err := encode(n.X)
		if err != nil {
			return nil, err
		}
		return &encoded{Op: "not", X: x}, nil
	case All:
		of, err := encodeChildren(n.Of)
		if err != nil {
			return nil, err
		}
		return &encoded{Op: "all", Of: of}, nil
	case Any:
		of, err := encodeChildren(n.Of)
		if err != nil {
			return nil, err
		}
		return &encoded{Op: "any", Of: of}, nil
	case ExtractSingle:
		return &encoded{
			Op: "extract", Pattern: n.Pattern, Source: n.Source,
			Group: n.Group, Conv: n.Conv,
		}, nil
	case ExtractAll:
		return &encoded{
			Op: "extract_all", Pattern: n.Pattern, Source: n.Source,
			Group: n.Group, Conv: n.Conv,
		}, nil
	default:
		return nil, fmt.Errorf("cannot encode %T: %w", e, ErrNotSerializable)
	}
}

func encodeChildren(of []Expr) ([]*encoded, error) {
	out := make([]*encoded, 0, len(of))
	for _, sub := range of {
		enc, err := encode(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

func decode(enc *encoded) (Expr, error) {
	switch enc.Op {
	case "true":
		return True{}, nil
	case "found":
		return Found{Pattern: enc.Pattern, Source: enc.Source}, nil
	case "not":
		if enc.X == nil {
			return nil, fmt.Errorf("not: missing operand")
		}
		x, err := decode(enc.X)
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	case "all":
		of, err := decodeChildren(enc.Of)
		if err != nil {
			return nil, err
		}
		return All{Of: of}, nil
	case "any":
		of, err := decodeChildren(enc.Of)
		if err != nil {
			return nil, err
		}
		return Any{Of: of}, nil
	case "extract":
		return ExtractSingle{
			Pattern: enc.Pattern, Source: enc.Source,
			Group: enc.Group, Conv: enc.Conv,
		}, nil
	case "extract_all":
		return ExtractAll{
			Pattern: enc.Pattern, Source: enc.Source,
			Group: enc.Group, Conv: enc.Conv,
		}, nil
	default:
		return nil, fmt.Errorf("unknown expression op %q", enc.Op)
	}
}

func decodeChildren(of []*encoded) ([]Expr, error) {
	out := make([]Expr, 0, len(of))
	for _, sub := range of {
		e, err := decode(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
