// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package evidence

import (
	"github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// jsonCodec serializes the evidence wire types as JSON. Clients select it
// with the "json" content-subtype.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                     { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
