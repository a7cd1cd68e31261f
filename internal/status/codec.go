package status

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	// Commands go out as their wire literal.
	opts.TextMarshaler = cbor.TextMarshalerTextString
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("status: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("status: CBOR decoder initialization failed: " + err.Error())
	}
}

// marshal encodes one snapshot frame.
func marshal(s Snapshot) ([]byte, error) { return encMode.Marshal(s) }

// unmarshal decodes one snapshot frame.
func unmarshal(data []byte, s *Snapshot) error { return decMode.Unmarshal(data, s) }

func newEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }
func newDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
