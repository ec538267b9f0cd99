package tools

import (
	"github.com/mitchellh/mapstructure"
)

// decodeArgs maps raw tool arguments onto a typed struct. Models are
// loose with types (numbers arrive as float64, sometimes as strings),
// so decoding is weakly typed.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}
