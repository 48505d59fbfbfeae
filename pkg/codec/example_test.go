package codec_test

import (
	"bufio"
	"bytes"
	"fmt"
	"log"

	"github.com/ssargent/userdots/pkg/codec"
)

// ExampleRecordCodec_basic demonstrates writing a tiny container and reading it back
func ExampleRecordCodec_basic() {
	c := codec.NewRecordCodec()

	var buf bytes.Buffer
	if err := c.Encode(&buf, &codec.UserRecord{ID: 1, Name: "Bob", Events: []int64{100}}); err != nil {
		log.Fatal(err)
	}
	if err := c.Encode(&buf, nil); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Container: %d bytes\n", buf.Len())

	r := bufio.NewReader(&buf)
	for {
		rec, err := c.Decode(r)
		if err != nil {
			log.Fatal(err)
		}
		if rec == nil {
			fmt.Println("End of container")
			break
		}
		fmt.Printf("User %d %s: %v\n", rec.ID, rec.Name, rec.Events)
	}

	// Output:
	// Container: 45 bytes
	// User 1 Bob: [100]
	// End of container
}

// ExampleRecordCodec_errorHandling demonstrates rejection of names that cannot be framed
func ExampleRecordCodec_errorHandling() {
	c := codec.NewRecordCodec()

	_, err := c.Marshal(&codec.UserRecord{ID: 1, Name: "a\x00b"})
	fmt.Println(err)

	_, err = c.Decode(bufio.NewReader(bytes.NewReader([]byte{0x01, 0x02})))
	fmt.Println(err)

	// Output:
	// codec: invalid name: "a\x00b" contains a zero byte
	// codec: malformed chunk: reading id: unexpected EOF
}
