// Package codec provides user record serialization and deserialization for userdots.
//
// The codec package implements the chunk format of the activity container: a
// flat, append-only sequence of user records closed by a single end marker.
// There is no header and no length prefix; every variable-length field is
// framed by a sentinel.
//
// # Record Format
//
// Each record (chunk) is serialized as:
//
//	[ID(8)][Name(N)][0x00][Event(8)]...[Event(8)][INT64_MIN(8)]
//
// Fields:
//   - ID: 64-bit signed user identifier (little-endian)
//   - Name: UTF-8 user name, terminated by a single zero byte
//   - Event: zero or more 64-bit signed Unix timestamps in seconds (little-endian)
//   - INT64_MIN: the minimum int64 value, terminating the event list
//
// A container ends with the end marker: id 0, an empty name and an empty event
// list (17 bytes). Decode reports the marker as a nil record.
//
// # Reserved Values
//
// Because fields are sentinel framed, some values cannot be stored:
//   - a name may not contain the byte 0x00
//   - an event may not equal math.MinInt64
//   - a record with id 0, an empty name and no events is indistinguishable
//     from the end marker
//
// Encode rejects all three before writing a single byte.
//
// # Usage
//
//	c := codec.NewRecordCodec()
//
//	var buf bytes.Buffer
//	if err := c.Encode(&buf, &codec.UserRecord{ID: 1, Name: "Bob", Events: []int64{100}}); err != nil {
//	    return err
//	}
//	if err := c.Encode(&buf, nil); err != nil { // end marker
//	    return err
//	}
//
//	rec, err := c.Decode(bufio.NewReader(&buf))
//
// # Thread Safety
//
// RecordCodec is stateless and safe for concurrent use. Streams passed to it
// are not.
package codec
