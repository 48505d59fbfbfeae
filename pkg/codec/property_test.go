package codec

import (
	"bufio"
	"bytes"
	"errors"
	"math"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRecordCodecProperties checks framing invariants over generated records
func TestRecordCodecProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	codec := NewRecordCodec()

	events := gen.SliceOf(gen.Int64Range(math.MinInt64+1, math.MaxInt64))

	properties.Property("decode reverses encode", prop.ForAll(
		func(id int64, name string, evs []int64) bool {
			rec := &UserRecord{ID: id, Name: name, Events: evs}

			var buf bytes.Buffer
			err := codec.Encode(&buf, rec)
			if errors.Is(err, ErrEndMarker) {
				return id == 0 && name == "" && len(evs) == 0
			}
			if err != nil {
				return false
			}

			decoded, err := codec.Decode(bufio.NewReader(&buf))
			if err != nil || decoded == nil {
				return false
			}
			if decoded.ID != id || decoded.Name != name || len(decoded.Events) != len(evs) {
				return false
			}
			for i := range evs {
				if decoded.Events[i] != evs[i] {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.UnicodeString(unicode.Cyrillic),
		events,
	))

	properties.Property("encoded size matches Size", prop.ForAll(
		func(name string, evs []int64) bool {
			rec := &UserRecord{ID: 1, Name: name, Events: evs}
			data, err := codec.Marshal(rec)
			return err == nil && len(data) == Size(rec)
		},
		gen.AlphaString(),
		events,
	))

	properties.Property("end marker is the only nil decode", prop.ForAll(
		func(id int64, name string) bool {
			data, err := codec.Marshal(&UserRecord{ID: id, Name: name})
			if err != nil {
				return id == 0 && name == ""
			}
			rec, err := codec.Decode(bufio.NewReader(bytes.NewReader(data)))
			return err == nil && rec != nil
		},
		gen.Int64Range(-3, 3),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
