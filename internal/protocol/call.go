package protocol

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Call sends method on ch and decodes the result into res when res is non-nil.
func Call(ctx context.Context, ch Channel, sessionID target.SessionID, method string, params, res any) error {
	raw, err := ch.SendCommand(ctx, method, params, sessionID)
	if err != nil {
		return err
	}
	if res == nil || len(raw) == 0 {
		return nil
	}
	if err := Decode(raw, res); err != nil {
		return fmt.Errorf("could not decode %s result: %w", method, err)
	}
	return nil
}

// Decode unmarshals a protocol payload with the options chromedp uses. Page text may
// carry lone surrogates, so invalid UTF-8 is accepted.
func Decode(raw jsontext.Value, v any) error {
	return json.Unmarshal(raw, v, chromedp.DefaultUnmarshalOptions)
}

// EncodeParams serializes command params with the options chromedp uses.
func EncodeParams(params any) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	b, err := json.Marshal(params, chromedp.DefaultMarshalOptions)
	if err != nil {
		return nil, fmt.Errorf("could not encode params: %w", err)
	}
	return b, nil
}
